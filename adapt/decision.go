package adapt

import (
	"time"

	"github.com/opd-ai/streamsync/codec"
)

// Action is the kind of quality change a decision carries.
type Action int

const (
	// ActionMaintain keeps the current quality level
	ActionMaintain Action = iota
	// ActionUpgrade moves to a higher quality rung
	ActionUpgrade
	// ActionDowngrade moves to a lower quality rung
	ActionDowngrade
	// ActionEmergency drops to the lowest valid rung, bypassing hysteresis
	ActionEmergency
)

// String returns a human-readable action description.
func (a Action) String() string {
	switch a {
	case ActionMaintain:
		return "maintain"
	case ActionUpgrade:
		return "upgrade"
	case ActionDowngrade:
		return "downgrade"
	case ActionEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Impact estimates the effect of applying a decision, computed from
// ladder deltas between the current and new rungs.
type Impact struct {
	Latency   time.Duration // Expected playout latency change
	Bandwidth int64         // Bitrate delta in bps (negative = savings)
	CPU       float64       // Relative CPU cost change
	Battery   float64       // Relative battery cost change
	UX        float64       // Perceived quality change, rung-distance normalized
}

// Rollback describes how to undo a decision if it fails to take effect.
type Rollback struct {
	PreviousRung int
	Deadline     time.Time
}

// Decision is the outcome of one adaptation evaluation for a stream.
// Produced, never mutated; consumed immediately by the caller.
type Decision struct {
	StreamID   string
	Action     Action
	Reason     string
	Confidence float64 // 0.0-1.0, derived from sample freshness
	RungIndex  int
	NewQuality codec.Rung
	Impact     Impact
	Timeline   time.Duration // How soon the change should be applied
	Rollback   *Rollback
	IssuedAt   time.Time
}
