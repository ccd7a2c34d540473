// Package clock implements cross-stream clock synchronization for streamsync.
//
// The coordinator maintains one master time reference per session and a
// local reference per registered stream. Stream clocks are disciplined
// against the master using smoothed offset and drift estimation with
// outlier rejection, and playout-rate corrections are always gradual and
// bounded so output stays smooth.
//
// Shared state model:
//
// The master reference, the per-stream references, and the sync point
// table are all owned by a single coordinator structure behind one mutex.
// Reconciliation inherently spans streams, so every read and write goes
// through this one coordination boundary; this is what keeps the
// "exactly one master reference" invariant enforceable.
//
// Sync points:
//
// A sync point is a declared rendezvous timestamp that its participant
// streams must honor within a tolerance. It is resolved only after every
// participant reports arrival within tolerance, or it expires and is
// reported as a desync; a sync point is never silently dropped. Chunks
// referenced by an active sync point are pinned against buffer eviction.
package clock
