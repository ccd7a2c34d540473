package clock

import (
	"time"

	"github.com/opd-ai/streamsync/media"
)

// SyncPoint is a declared rendezvous that multiple streams sharing a
// session must honor within a tolerance.
//
// Participants are the originating stream plus every stream listed in
// Dependencies. A sync point resolves when all participants have reported
// arrival within tolerance; if it expires first it is reported as a
// desync, never silently dropped.
type SyncPoint struct {
	ID           string
	Timestamp    time.Duration // Rendezvous position in media time
	StreamID     string        // Originating stream
	ChunkRef     uint64        // Sequence of the chunk anchoring the rendezvous
	Priority     media.ChunkPriority
	Tolerance    time.Duration
	Dependencies []string  // Other streams that must report arrival
	Expiry       time.Time // Wall-clock deadline for resolution
}

// Participants returns the originating stream plus all dependency streams.
func (sp *SyncPoint) Participants() []string {
	out := make([]string, 0, len(sp.Dependencies)+1)
	out = append(out, sp.StreamID)
	for _, dep := range sp.Dependencies {
		if dep != sp.StreamID {
			out = append(out, dep)
		}
	}
	return out
}

// participates reports whether the stream takes part in this sync point.
func (sp *SyncPoint) participates(streamID string) bool {
	if sp.StreamID == streamID {
		return true
	}
	for _, dep := range sp.Dependencies {
		if dep == streamID {
			return true
		}
	}
	return false
}

// trackedSyncPoint pairs a sync point with its arrival bookkeeping.
type trackedSyncPoint struct {
	point    *SyncPoint
	arrivals map[string]time.Duration // stream ID -> reported media time
}

// resolved reports whether every participant has reported within tolerance.
func (t *trackedSyncPoint) resolved() bool {
	for _, id := range t.point.Participants() {
		at, ok := t.arrivals[id]
		if !ok {
			return false
		}
		if deviation(at, t.point.Timestamp) > t.point.Tolerance {
			return false
		}
	}
	return true
}

// deviation returns the absolute distance between two media timestamps.
func deviation(a, b time.Duration) time.Duration {
	if a > b {
		return a - b
	}
	return b - a
}
