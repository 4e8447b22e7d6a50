// Package catalog owns the learned protocol-action inventory.
//
// Ownership boundary:
// - frame and direction types shared with the analyzer and fuzzer
// - action shapes, occurrence accounting, sample retention
// - structured/document/stub exports and the structured import
// - durable snapshot persistence
//
// All mutation funnels through Observe; same-name updates are serialized,
// distinct names proceed independently.
package catalog
