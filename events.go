package streamsync

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/streamsync/adapt"
	"github.com/opd-ai/streamsync/clock"
)

// DesyncEvent reports a stream that lost synchronization at a sync point.
type DesyncEvent struct {
	StreamID string
	Point    clock.SyncPoint
}

// EvictionEvent reports chunks dropped from a stream's pool.
type EvictionEvent struct {
	StreamID string
	Dropped  int
}

// UnderrunEvent reports a buffer underrun on a stream.
type UnderrunEvent struct {
	StreamID string
}

// Events carries the engine's outbound event streams, one buffered
// channel per consumer concern.
//
// Emission never blocks the producing path: when a consumer falls more
// than a full buffer behind, the oldest queued event is discarded so the
// newest is always delivered, and the discard is counted. Consumers that
// keep up see every event.
type Events struct {
	decisions chan adapt.Decision
	underruns chan UnderrunEvent
	desyncs   chan DesyncEvent
	evictions chan EvictionEvent

	overflow atomic.Uint64
}

// newEvents creates the event channel set with the given per-channel
// capacity.
func newEvents(capacity int) *Events {
	if capacity <= 0 {
		capacity = 256
	}
	return &Events{
		decisions: make(chan adapt.Decision, capacity),
		underruns: make(chan UnderrunEvent, capacity),
		desyncs:   make(chan DesyncEvent, capacity),
		evictions: make(chan EvictionEvent, capacity),
	}
}

// Overflow returns the number of events discarded because a consumer
// fell behind.
func (ev *Events) Overflow() uint64 {
	return ev.overflow.Load()
}

func (ev *Events) emitDecision(d adapt.Decision) {
	emit(ev, ev.decisions, d, "decision")
}

func (ev *Events) emitUnderrun(streamID string) {
	emit(ev, ev.underruns, UnderrunEvent{StreamID: streamID}, "underrun")
}

func (ev *Events) emitDesync(streamID string, point clock.SyncPoint) {
	emit(ev, ev.desyncs, DesyncEvent{StreamID: streamID, Point: point}, "desync")
}

func (ev *Events) emitEviction(streamID string, dropped int) {
	emit(ev, ev.evictions, EvictionEvent{StreamID: streamID, Dropped: dropped}, "eviction")
}

// emit delivers an event, discarding the oldest queued entry when the
// channel is full.
func emit[T any](ev *Events, ch chan T, value T, kind string) {
	for {
		select {
		case ch <- value:
			return
		default:
		}

		select {
		case <-ch:
			ev.overflow.Add(1)
			logrus.WithFields(logrus.Fields{
				"function":   "emit",
				"event_kind": kind,
			}).Warn("Event consumer behind, oldest event discarded")
		default:
		}
	}
}
