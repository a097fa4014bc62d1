// Package metrics holds lock-free counters and one latency histogram for the
// authentication pass.
//
// # Design
//
// Counters live in cache-line-padded uint64 slots updated with sync/atomic.
// The histogram has 8 fixed buckets (≤0.5ms … +Inf). Writes never allocate.
//
// # Architecture boundaries
//
// Storage and snapshots only. Exporters under metrics/export read Snapshot
// values; this package performs no I/O and keeps no global registry.
package metrics
