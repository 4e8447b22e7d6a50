// Package fuzzer owns campaign execution against a live endpoint.
//
// Ownership boundary:
// - candidate generation for the four strategies
// - bounded-concurrency probe lanes with per-lane pacing
// - auto-stop safety accounting and the append-only results log
//
// The fuzzer never opens a transport itself; probes go through the
// caller-supplied Sender.
package fuzzer
