// Package buffer implements per-stream jitter buffering for streamsync.
//
// The buffer pool manager owns one ordered chunk pool per active stream and
// provides watermark-based flow control, score-driven eviction, and underrun
// detection that feeds the quality adaptation engine.
//
// Design Philosophy:
// - Bounded-time operations only; no network or disk I/O
// - Admission failures are results, never faults
// - Per-stream serialization: each pool has its own lock, the manager map
//   is guarded separately
// - Fail fast on construction-time invariant violations, never at runtime
//
// Ordering guarantees:
//
// Chunks inside a pool are kept timestamp-ordered (ties broken by sequence)
// and retrieval via NextChunk is always in non-decreasing timestamp order.
// A chunk with unmet dependencies is held pending and reported as not ready,
// which is distinct from the pool being empty. The not-ready condition
// persisting past a grace period while the pool sits below its low watermark
// raises an underrun event.
//
// Eviction policy:
//
// When a pool is full, chunks are scored by weighted age, priority, and
// whether other buffered chunks depend on them; the oldest, lowest-priority,
// dependency-free chunks are dropped first. Chunks pinned by an active sync
// point are never evicted; the sync coordinator is notified instead so it
// can degrade the session rather than silently lose sync data.
package buffer
