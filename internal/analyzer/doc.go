// Package analyzer owns frame-stream intelligence.
//
// Ownership boundary:
// - ordered frame ingestion and decode accounting
// - the action-name heuristic and pattern buckets
// - byte-level and structural frame diffing
//
// The analyzer is a single logical consumer: observations reach the
// catalog in ingestion order.
package analyzer
