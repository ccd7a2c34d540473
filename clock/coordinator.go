package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/streamsync/media"
)

// Config defines coordinator timing parameters.
type Config struct {
	// DefaultTolerance bounds acceptable deviation when a sync point does
	// not carry its own tolerance (default: 20ms).
	DefaultTolerance time.Duration

	// CorrectionWindow is the largest adjustment that may be absorbed by
	// gradual rate changes; beyond it the stream is marked desynced
	// (default: 2s).
	CorrectionWindow time.Duration

	// RateLimit caps the playout-rate change applied in a single cycle,
	// expressed as a fraction of nominal rate (default: 0.05).
	RateLimit float64

	// ReconcileInterval is the period of the reconciliation cycle
	// (default: 250ms).
	ReconcileInterval time.Duration

	// SyncPointTTL is the default lifetime of a sync point when the
	// caller supplies no expiry (default: 5s).
	SyncPointTTL time.Duration
}

// DefaultConfig returns configuration with conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultTolerance:  20 * time.Millisecond,
		CorrectionWindow:  2 * time.Second,
		RateLimit:         0.05,
		ReconcileInterval: 250 * time.Millisecond,
		SyncPointTTL:      5 * time.Second,
	}
}

// Correction is the synchronization verdict for one stream.
type Correction struct {
	StreamID       string
	Adjustment     time.Duration // reference - (playout + offset)
	RateAdjustment float64       // Applied playout rate delta, bounded by RateLimit
	Desynced       bool          // Adjustment exceeded the correction window
}

// streamClock is the coordinator's per-stream clock state.
type streamClock struct {
	ref      *Reference
	est      estimator
	rate     float64 // Current effective playout rate (1.0 = nominal)
	desynced bool
}

// Coordinator maintains the master time reference, per-stream clock
// references, and the cross-stream sync point table.
//
// All shared state lives behind a single mutex; reconciliation spans
// multiple streams so every read and write is serialized through it.
type Coordinator struct {
	mu sync.Mutex

	config *Config
	state  SessionState

	master  *Reference
	streams map[string]*streamClock
	points  map[string]*trackedSyncPoint

	// Event hooks wired by the engine. Invoked without holding the
	// coordinator lock.
	onDesync     func(streamID string, point *SyncPoint)
	onCorrection func(streamID string, adjustment time.Duration)
	onEmergency  func(streamID string)

	// Time provider for deterministic testing.
	// If nil, media.RealTimeProvider is used.
	timeProvider media.TimeProvider
}

// NewCoordinator creates a clock and sync coordinator.
//
// Parameters:
//   - config: Timing configuration (nil uses DefaultConfig())
//
// Returns:
//   - *Coordinator: The new coordinator in the uninitialized state
func NewCoordinator(config *Config) *Coordinator {
	if config == nil {
		config = DefaultConfig()
	}

	logrus.WithFields(logrus.Fields{
		"function":           "NewCoordinator",
		"tolerance":          config.DefaultTolerance,
		"correction_window":  config.CorrectionWindow,
		"rate_limit":         config.RateLimit,
		"reconcile_interval": config.ReconcileInterval,
	}).Info("Creating clock coordinator")

	return &Coordinator{
		config:       config,
		state:        StateUninitialized,
		streams:      make(map[string]*streamClock),
		points:       make(map[string]*trackedSyncPoint),
		timeProvider: media.RealTimeProvider{},
	}
}

// SetCallbacks configures synchronization event hooks.
//
// Parameters:
//   - onDesync: Called when a sync point expires or a stream exceeds the correction window
//   - onCorrection: Called when a stream needs a playout correction
//   - onEmergency: Called when a stream requires an emergency adaptation decision
func (c *Coordinator) SetCallbacks(
	onDesync func(streamID string, point *SyncPoint),
	onCorrection func(streamID string, adjustment time.Duration),
	onEmergency func(streamID string),
) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onDesync = onDesync
	c.onCorrection = onCorrection
	c.onEmergency = onEmergency
}

// SetTimeProvider sets the time provider for deterministic testing.
func (c *Coordinator) SetTimeProvider(tp media.TimeProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tp == nil {
		tp = media.RealTimeProvider{}
	}
	c.timeProvider = tp
}

// InitMasterClock establishes the session's single master reference from
// the highest-accuracy available source, preferring network sources over
// local ones.
//
// Returns ErrMasterAlreadyInitialized on a second call and
// ErrNoClockSource when the source list is empty.
func (c *Coordinator) InitMasterClock(sources []Source) (*Reference, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.master != nil {
		return nil, ErrMasterAlreadyInitialized
	}
	if len(sources) == 0 {
		return nil, ErrNoClockSource
	}

	best := sources[0]
	for _, s := range sources[1:] {
		if betterSource(s, best) {
			best = s
		}
	}

	now := c.timeProvider.Now()
	master := newReference(ClockMaster, best.Accuracy, now)

	if err := c.transitionLocked(StateSynchronizing); err != nil {
		return nil, err
	}
	c.master = master

	logrus.WithFields(logrus.Fields{
		"function":    "InitMasterClock",
		"source_kind": best.Kind.String(),
		"accuracy":    best.Accuracy,
		"clock_id":    master.ID,
	}).Info("Master clock established")

	return master, nil
}

// RegisterStreamClock creates a local reference for a stream and begins
// offset estimation against the master.
func (c *Coordinator) RegisterStreamClock(streamID string) (*Reference, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.master == nil {
		return nil, ErrNoMasterClock
	}
	if _, exists := c.streams[streamID]; exists {
		return nil, fmt.Errorf("%w: clock for %s", media.ErrStreamAlreadyExists, streamID)
	}

	ref := newReference(ClockLocal, c.master.Accuracy, c.timeProvider.Now())
	c.streams[streamID] = &streamClock{ref: ref, rate: 1.0}

	logrus.WithFields(logrus.Fields{
		"function":  "RegisterStreamClock",
		"stream_id": streamID,
		"clock_id":  ref.ID,
	}).Info("Stream clock registered")

	return ref, nil
}

// UnregisterStreamClock removes a stream's clock reference and withdraws
// it from all sync points it participates in.
func (c *Coordinator) UnregisterStreamClock(streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.streams, streamID)
	for _, tracked := range c.points {
		if tracked.point.participates(streamID) {
			delete(tracked.arrivals, streamID)
		}
	}
}

// ObserveOffset feeds a four-timestamp exchange sample into a stream's
// offset estimator: t1 local send, t2 remote receive, t3 remote send,
// t4 local receive. Rejected samples (congestion, clock jumps) are
// dropped without disturbing the estimate.
func (c *Coordinator) ObserveOffset(streamID string, t1, t2, t3, t4 time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc, exists := c.streams[streamID]
	if !exists {
		return fmt.Errorf("%w: %s", media.ErrStreamNotFound, streamID)
	}

	rtt, measured := computeOffset(t1, t2, t3, t4)
	if sc.est.observe(measured, rtt, t4) {
		sc.ref.Offset = sc.est.offset
		sc.ref.Drift = sc.est.drift
		sc.ref.LastSync = c.timeProvider.Now()

		logrus.WithFields(logrus.Fields{
			"function":  "ObserveOffset",
			"stream_id": streamID,
			"offset":    sc.ref.Offset,
			"drift":     sc.ref.Drift,
			"rtt":       rtt,
		}).Debug("Stream clock offset updated")
	}
	return nil
}

// AddSyncPoint registers a rendezvous the coordinator must honor.
// Missing tolerance and expiry fall back to the configured defaults.
func (c *Coordinator) AddSyncPoint(point *SyncPoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.points[point.ID]; exists {
		return fmt.Errorf("%w: %s", ErrSyncPointExists, point.ID)
	}
	if point.Tolerance <= 0 {
		point.Tolerance = c.config.DefaultTolerance
	}
	if point.Expiry.IsZero() {
		point.Expiry = c.timeProvider.Now().Add(c.config.SyncPointTTL)
	}

	c.points[point.ID] = &trackedSyncPoint{
		point:    point,
		arrivals: make(map[string]time.Duration),
	}

	logrus.WithFields(logrus.Fields{
		"function":     "AddSyncPoint",
		"sync_point":   point.ID,
		"timestamp":    point.Timestamp,
		"tolerance":    point.Tolerance,
		"participants": len(point.Participants()),
	}).Debug("Sync point registered")

	return nil
}

// ReportArrival records that a stream reached a sync point at the given
// media time. Returns whether the arrival was within tolerance; an
// out-of-tolerance arrival requests a correction for that stream only.
func (c *Coordinator) ReportArrival(syncPointID, streamID string, at time.Duration) (bool, error) {
	c.mu.Lock()

	tracked, exists := c.points[syncPointID]
	if !exists {
		c.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrSyncPointNotFound, syncPointID)
	}
	if !tracked.point.participates(streamID) {
		c.mu.Unlock()
		return false, fmt.Errorf("%w: %s at %s", ErrUnknownParticipant, streamID, syncPointID)
	}

	tracked.arrivals[streamID] = at
	target := tracked.point.Timestamp
	tolerance := tracked.point.Tolerance
	dev := deviation(at, target)
	within := dev <= tolerance
	onCorrection := c.onCorrection
	c.mu.Unlock()

	if !within {
		logrus.WithFields(logrus.Fields{
			"function":   "ReportArrival",
			"sync_point": syncPointID,
			"stream_id":  streamID,
			"deviation":  dev,
			"tolerance":  tolerance,
		}).Warn("Sync point arrival outside tolerance, requesting correction")

		if onCorrection != nil {
			onCorrection(streamID, target-at)
		}
	}

	return within, nil
}

// Pinned reports whether a chunk is referenced by an active sync point.
// Used as the buffer manager's eviction pin check.
func (c *Coordinator) Pinned(streamID string, sequence uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tracked := range c.points {
		if tracked.point.StreamID == streamID && tracked.point.ChunkRef == sequence {
			return true
		}
	}
	return false
}

// Synchronize computes corrections for the given streams against a
// reference time. Playout positions are supplied by the caller since the
// coordinator performs no I/O of its own.
//
// For each stream the adjustment is reference - (playout + offset):
//   - within tolerance: no action
//   - within the correction window: a gradual rate adjustment bounded by
//     the configured rate limit, never an instantaneous jump
//   - beyond the window: the stream is marked desynced and an emergency
//     adaptation decision is requested
func (c *Coordinator) Synchronize(playouts map[string]time.Duration, referenceTime time.Duration) []Correction {
	c.mu.Lock()

	corrections := make([]Correction, 0, len(playouts))
	var desyncedStreams []string

	for streamID, playout := range playouts {
		sc, exists := c.streams[streamID]
		if !exists {
			continue
		}

		adjustment := referenceTime - (playout + sc.ref.Offset)
		corr := Correction{StreamID: streamID, Adjustment: adjustment}

		dev := adjustment
		if dev < 0 {
			dev = -dev
		}

		switch {
		case dev <= c.config.DefaultTolerance:
			if sc.desynced {
				sc.desynced = false
			}
		case dev <= c.config.CorrectionWindow:
			corr.RateAdjustment = c.boundedRate(adjustment)
			sc.rate = 1.0 + corr.RateAdjustment
			sc.ref.Frequency = sc.rate
		default:
			corr.Desynced = true
			sc.desynced = true
			desyncedStreams = append(desyncedStreams, streamID)
		}

		corrections = append(corrections, corr)
	}

	c.updateSessionStateLocked()
	onEmergency := c.onEmergency
	c.mu.Unlock()

	for _, streamID := range desyncedStreams {
		logrus.WithFields(logrus.Fields{
			"function":  "Synchronize",
			"stream_id": streamID,
		}).Warn("Stream exceeded correction window, requesting emergency adaptation")

		if onEmergency != nil {
			onEmergency(streamID)
		}
	}

	return corrections
}

// boundedRate converts an adjustment into a per-cycle rate delta capped by
// the configured limit, keeping playout corrections inaudible.
func (c *Coordinator) boundedRate(adjustment time.Duration) float64 {
	rate := float64(adjustment) / float64(c.config.CorrectionWindow)
	if rate > c.config.RateLimit {
		rate = c.config.RateLimit
	}
	if rate < -c.config.RateLimit {
		rate = -c.config.RateLimit
	}
	return rate
}

// updateSessionStateLocked recomputes the session state from per-stream
// desync flags.
func (c *Coordinator) updateSessionStateLocked() {
	if c.state == StateUninitialized || c.state == StateTerminated {
		return
	}

	anyDesynced := false
	for _, sc := range c.streams {
		if sc.desynced {
			anyDesynced = true
			break
		}
	}

	if anyDesynced {
		_ = c.transitionLocked(StateDesynced)
	} else if len(c.streams) > 0 {
		_ = c.transitionLocked(StateSynchronized)
	}
}

// Reconcile runs one reconciliation cycle: refreshes the master reference,
// drains sync points whose participants have all reported within
// tolerance, and expires stale sync points as desync events.
//
// The engine drives this on a fixed interval or on new sync points. The
// call is bounded-time and performs no I/O.
func (c *Coordinator) Reconcile(now time.Time) {
	c.mu.Lock()

	if c.master != nil {
		c.master.LastSync = now
	}

	type desyncEvent struct {
		streamID string
		point    *SyncPoint
	}
	var expired []desyncEvent

	for id, tracked := range c.points {
		if tracked.resolved() {
			logrus.WithFields(logrus.Fields{
				"function":   "Reconcile",
				"sync_point": id,
			}).Debug("Sync point resolved")
			delete(c.points, id)
			continue
		}
		if now.After(tracked.point.Expiry) {
			delete(c.points, id)
			for _, participant := range tracked.point.Participants() {
				if at, ok := tracked.arrivals[participant]; ok &&
					deviation(at, tracked.point.Timestamp) <= tracked.point.Tolerance {
					continue
				}
				expired = append(expired, desyncEvent{streamID: participant, point: tracked.point})
			}
		}
	}

	onDesync := c.onDesync
	c.mu.Unlock()

	for _, ev := range expired {
		logrus.WithFields(logrus.Fields{
			"function":   "Reconcile",
			"sync_point": ev.point.ID,
			"stream_id":  ev.streamID,
		}).Warn("Sync point expired, reporting desync")

		if onDesync != nil {
			onDesync(ev.streamID, ev.point)
		}
	}
}

// State returns the current session synchronization state.
func (c *Coordinator) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Master returns a copy of the master reference, or nil before
// initialization.
func (c *Coordinator) Master() *Reference {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.master == nil {
		return nil
	}
	ref := *c.master
	return &ref
}

// StreamReference returns a copy of a stream's clock reference.
func (c *Coordinator) StreamReference(streamID string) (*Reference, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc, exists := c.streams[streamID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", media.ErrStreamNotFound, streamID)
	}
	ref := *sc.ref
	return &ref, nil
}

// PendingSyncPoints returns the number of unresolved sync points.
func (c *Coordinator) PendingSyncPoints() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.points)
}

// Terminate ends the session. Further state transitions are rejected.
func (c *Coordinator) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.transitionLocked(StateTerminated)

	logrus.WithFields(logrus.Fields{
		"function": "Terminate",
	}).Info("Clock coordinator terminated")
}
