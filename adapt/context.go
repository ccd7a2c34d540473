package adapt

import (
	"sync"
	"time"

	"github.com/opd-ai/streamsync/codec"
	"github.com/opd-ai/streamsync/media"
)

// Context is the per-stream adaptation state.
//
// Created when a stream enters adaptation, updated on every evaluation
// cycle, removed when the stream ends. Each context has its own mutex so
// decisions for a stream are totally ordered while streams never contend
// with each other.
type Context struct {
	mu sync.Mutex

	streamID    string
	kind        media.StreamKind
	ladder      *codec.Ladder
	constraints media.QualityConstraints
	prefs       media.UserPreferences

	currentRung int

	network media.NetworkConditions
	device  media.DeviceCapabilities

	// Pending emergency signals from the buffer and sync layers.
	pendingUnderrun bool
	pendingDesync   bool

	lastDecisionAt time.Time
	lastAction     Action
	decisionCount  uint64
}

// snapshot captures the context for a scoring pass.
func (c *Context) snapshot(now time.Time) Snapshot {
	return Snapshot{
		StreamID:    c.streamID,
		Kind:        c.kind,
		Network:     c.network,
		Device:      c.device,
		Prefs:       c.prefs,
		Constraints: c.constraints,
		CurrentRung: c.currentRung,
		Now:         now,
	}
}

// CurrentRung returns the rung the stream currently occupies.
func (c *Context) CurrentRung() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentRung
}

// Ladder returns the stream's quality ladder.
func (c *Context) Ladder() *codec.Ladder {
	return c.ladder
}

// DecisionCount returns the number of decisions issued for the stream.
func (c *Context) DecisionCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decisionCount
}
