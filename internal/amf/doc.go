// Package amf owns the binary object-graph wire format.
//
// Ownership boundary:
// - the closed Value union and structural equality
// - U29 varint and marker-byte primitives
// - reference-tracked decode/encode with per-call tables
//
// amf knows nothing about actions, catalogs, or sessions.
package amf
