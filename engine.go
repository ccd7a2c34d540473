package streamsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/streamsync/adapt"
	"github.com/opd-ai/streamsync/buffer"
	"github.com/opd-ai/streamsync/clock"
	"github.com/opd-ai/streamsync/codec"
	"github.com/opd-ai/streamsync/media"
)

// streamState is the engine's per-stream bookkeeping.
type streamState struct {
	kind    media.StreamKind
	ladder  *codec.Ladder
	playout time.Duration // Last delivered chunk timestamp
}

// Engine is the stream buffering, synchronization, and quality-adaptation
// core.
//
// The engine composes the buffer pool manager, clock coordinator, codec
// registry, and adaptation engine, wires their event flows together, and
// exposes the inbound/outbound boundary contracts of the core. It
// performs no network or disk I/O of its own.
type Engine struct {
	mu sync.RWMutex

	config *Config

	buffers *buffer.Manager
	clocks  *clock.Coordinator
	codecs  *codec.Registry
	adapter *adapt.Engine

	streams map[string]*streamState
	events  *Events

	running bool
	closed  bool

	iterationInterval  time.Duration
	evaluationInterval time.Duration
	lastReconcile      time.Time
	lastEvaluate       time.Time

	// Time provider for deterministic testing.
	timeProvider media.TimeProvider
}

// New creates a stream processing engine.
//
// Parameters:
//   - config: Engine configuration (nil uses DefaultConfig())
//
// Returns:
//   - *Engine: The new engine instance
//   - error: Any error that occurred during component setup
func New(config *Config) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}

	logrus.WithFields(logrus.Fields{
		"function":       "New",
		"strategy":       config.CapacityStrategy.String(),
		"sync_tolerance": config.SyncTolerance,
		"dwell_time":     config.DwellTime,
		"ladder_rungs":   config.LadderRungCount,
	}).Info("Creating streamsync engine")

	bufferCfg := buffer.DefaultConfig()
	bufferCfg.Fractions = config.WatermarkFractions

	clockCfg := clock.DefaultConfig()
	clockCfg.DefaultTolerance = config.SyncTolerance
	clockCfg.RateLimit = config.CorrectionRateLimit

	adaptCfg := adapt.DefaultConfig()
	adaptCfg.DwellTime = config.DwellTime

	e := &Engine{
		config:             config,
		buffers:            buffer.NewManager(bufferCfg),
		clocks:             clock.NewCoordinator(clockCfg),
		codecs:             codec.NewDefaultRegistry(),
		adapter:            adapt.NewEngine(adaptCfg),
		streams:            make(map[string]*streamState),
		events:             newEvents(config.EventBuffer),
		iterationInterval:  clockCfg.ReconcileInterval,
		evaluationInterval: adaptCfg.EvaluationInterval,
		timeProvider:       media.RealTimeProvider{},
	}

	e.wire()

	logrus.WithFields(logrus.Fields{
		"function": "New",
	}).Info("Streamsync engine created successfully")

	return e, nil
}

// wire connects the component event flows:
// buffer underruns and sync desyncs feed the adaptation engine's
// emergency path and the outbound channels; sync point pins guard buffer
// eviction; every adaptation decision is published and applied back to
// pool capacity.
func (e *Engine) wire() {
	e.buffers.SetCallbacks(
		func(streamID string) {
			e.events.emitUnderrun(streamID)
			// Data streams carry no adaptation context; the event alone
			// is the signal for those.
			_ = e.adapter.SignalUnderrun(streamID)
		},
		func(streamID string, dropped int) {
			e.events.emitEviction(streamID, dropped)
		},
		func(streamID string, sequence uint64) {
			// Eviction blocked by a sync pin: degrade the session
			// instead of losing sync data.
			logrus.WithFields(logrus.Fields{
				"function":  "wire",
				"stream_id": streamID,
				"sequence":  sequence,
			}).Warn("Eviction blocked by sync point pin, degrading session")
			_ = e.adapter.SignalDesync(streamID)
		},
	)
	e.buffers.SetPinChecker(e.clocks.Pinned)

	e.clocks.SetCallbacks(
		func(streamID string, point *clock.SyncPoint) {
			_ = e.adapter.SignalDesync(streamID)
			e.events.emitDesync(streamID, *point)
		},
		func(streamID string, adjustment time.Duration) {
			logrus.WithFields(logrus.Fields{
				"function":   "wire",
				"stream_id":  streamID,
				"adjustment": adjustment,
			}).Debug("Playout correction requested")
		},
		func(streamID string) {
			_ = e.adapter.SignalDesync(streamID)
			if _, err := e.adapter.Evaluate(streamID); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":  "wire",
					"stream_id": streamID,
					"error":     err.Error(),
				}).Warn("Emergency evaluation failed")
			}
		},
	)

	e.adapter.SetDecisionCallback(func(d adapt.Decision) {
		e.events.emitDecision(d)
		e.applyDecision(d)
	})
}

// SetTimeProvider sets the time provider for deterministic testing and
// propagates it to all components.
func (e *Engine) SetTimeProvider(tp media.TimeProvider) {
	if tp == nil {
		tp = media.RealTimeProvider{}
	}
	e.mu.Lock()
	e.timeProvider = tp
	e.mu.Unlock()

	e.buffers.SetTimeProvider(tp)
	e.clocks.SetTimeProvider(tp)
	e.adapter.SetTimeProvider(tp)
}

// Registry returns the shared codec registry.
func (e *Engine) Registry() *codec.Registry {
	return e.codecs
}

// Clocks returns the clock coordinator for sync point management and
// offset observation.
func (e *Engine) Clocks() *clock.Coordinator {
	return e.clocks
}

// StartStream begins processing a stream: a buffer pool is created, a
// stream clock registered, a quality ladder built, and (for audio and
// video streams) an adaptation context opened.
//
// The master clock is established on first use from a local source when
// the caller has not initialized it explicitly.
func (e *Engine) StartStream(streamID string, kind media.StreamKind,
	prefs media.UserPreferences, constraints media.QualityConstraints) error {

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if _, exists := e.streams[streamID]; exists {
		return fmt.Errorf("%w: %s", media.ErrStreamAlreadyExists, streamID)
	}

	if e.clocks.Master() == nil {
		if _, err := e.clocks.InitMasterClock([]clock.Source{
			{Kind: clock.ClockLocal, Accuracy: time.Millisecond},
		}); err != nil {
			return fmt.Errorf("failed to establish master clock: %w", err)
		}
	}

	if _, err := e.buffers.CreatePool(streamID, kind, e.config.CapacityStrategy); err != nil {
		return fmt.Errorf("failed to create buffer pool: %w", err)
	}
	if _, err := e.clocks.RegisterStreamClock(streamID); err != nil {
		_ = e.buffers.DestroyPool(streamID)
		return fmt.Errorf("failed to register stream clock: %w", err)
	}

	state := &streamState{kind: kind}

	if kind != media.KindData {
		maxBitrate := e.config.maxBitrate(kind)
		if constraints.MaxBitrate > 0 && constraints.MaxBitrate < maxBitrate {
			maxBitrate = constraints.MaxBitrate
		}
		ladder, err := e.codecs.BuildLadder(e.config.baseCodec(kind), maxBitrate, e.config.LadderRungCount)
		if err != nil {
			e.teardownStream(streamID)
			return fmt.Errorf("failed to build quality ladder: %w", err)
		}
		if _, err := e.adapter.CreateContext(streamID, kind, ladder, constraints, prefs); err != nil {
			e.teardownStream(streamID)
			return fmt.Errorf("failed to create adaptation context: %w", err)
		}
		state.ladder = ladder
	}

	e.streams[streamID] = state

	logrus.WithFields(logrus.Fields{
		"function":  "StartStream",
		"stream_id": streamID,
		"kind":      kind.String(),
	}).Info("Stream started")

	return nil
}

// EndStream stops processing a stream and releases its pool, clock, and
// adaptation context. In-flight operations observe the stream as gone on
// their next call.
func (e *Engine) EndStream(streamID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.streams[streamID]; !exists {
		return fmt.Errorf("%w: %s", media.ErrStreamNotFound, streamID)
	}

	e.teardownStream(streamID)
	delete(e.streams, streamID)

	logrus.WithFields(logrus.Fields{
		"function":  "EndStream",
		"stream_id": streamID,
	}).Info("Stream ended")

	return nil
}

// teardownStream releases whatever components exist for the stream.
// Callers hold the engine lock.
func (e *Engine) teardownStream(streamID string) {
	_ = e.buffers.DestroyPool(streamID)
	e.clocks.UnregisterStreamClock(streamID)
	e.adapter.RemoveContext(streamID)
}

// SubmitChunk admits a chunk into the stream's buffer pool. Returns
// false when admission was rejected (pool full, eviction disallowed).
func (e *Engine) SubmitChunk(streamID string, chunk *media.Chunk) (bool, error) {
	return e.buffers.AddChunk(streamID, chunk)
}

// NextChunk returns the earliest deliverable chunk at the given playout
// position and advances the stream's recorded playout time.
func (e *Engine) NextChunk(streamID string, current time.Duration) (*media.Chunk, error) {
	chunk, err := e.buffers.NextChunk(streamID, current)
	if chunk != nil {
		e.mu.Lock()
		if state, ok := e.streams[streamID]; ok {
			state.playout = chunk.Timestamp
		}
		e.mu.Unlock()
	}
	return chunk, err
}

// FlushStream drops all buffered chunks for a stream and returns the
// count removed.
func (e *Engine) FlushStream(streamID string) (int, error) {
	return e.buffers.Flush(streamID)
}

// ReportNetworkConditions feeds a transport-layer network sample into the
// stream's adaptation context.
func (e *Engine) ReportNetworkConditions(streamID string, nc media.NetworkConditions) error {
	return e.adapter.UpdateNetwork(streamID, nc)
}

// ReportDeviceCapabilities feeds a device capability sample into the
// stream's adaptation context.
func (e *Engine) ReportDeviceCapabilities(streamID string, dc media.DeviceCapabilities) error {
	return e.adapter.UpdateDevice(streamID, dc)
}

// AddSyncPoint declares a cross-stream rendezvous the coordinator must
// honor. Reconciliation is run immediately so a satisfied sync point
// drains without waiting for the next cycle.
func (e *Engine) AddSyncPoint(point *clock.SyncPoint) error {
	if err := e.clocks.AddSyncPoint(point); err != nil {
		return err
	}
	e.clocks.Reconcile(e.now())
	return nil
}

// ReportSyncArrival records a stream reaching a sync point. Returns
// whether the arrival was within tolerance.
func (e *Engine) ReportSyncArrival(syncPointID, streamID string, at time.Duration) (bool, error) {
	return e.clocks.ReportArrival(syncPointID, streamID, at)
}

// Evaluate runs one adaptation cycle for a stream.
func (e *Engine) Evaluate(streamID string) (*adapt.Decision, error) {
	return e.adapter.Evaluate(streamID)
}

// ForceQualityChange applies an external override (for example from a
// consensus coordinator). The target must satisfy the stream's
// constraints; an invalid target fails rather than clamping, and a
// pending emergency wins over the override.
func (e *Engine) ForceQualityChange(streamID string, targetRung int, reason string) (*adapt.Decision, error) {
	return e.adapter.ForceQualityChange(streamID, targetRung, reason)
}

// Decisions returns the adaptation decision channel.
func (e *Engine) Decisions() <-chan adapt.Decision {
	return e.events.decisions
}

// Underruns returns the buffer underrun event channel.
func (e *Engine) Underruns() <-chan UnderrunEvent {
	return e.events.underruns
}

// Desyncs returns the desync event channel.
func (e *Engine) Desyncs() <-chan DesyncEvent {
	return e.events.desyncs
}

// Evictions returns the eviction event channel.
func (e *Engine) Evictions() <-chan EvictionEvent {
	return e.events.evictions
}

// EventOverflow returns the number of outbound events discarded because
// a consumer fell behind.
func (e *Engine) EventOverflow() uint64 {
	return e.events.Overflow()
}

// StreamStats is a point-in-time health snapshot for a single stream.
type StreamStats struct {
	StreamID string
	Kind     media.StreamKind

	// Buffer holds the pool's jitter, latency and occupancy counters.
	Buffer buffer.Metrics

	// CurrentRung is the active ladder rung, or -1 for streams that
	// carry no adaptation context (data streams).
	CurrentRung   int
	LadderRungs   int
	DecisionCount uint64

	// Playout is the last position handed out by NextChunk.
	Playout time.Duration

	// Session is the synchronization session state shared by all
	// streams under this engine.
	Session clock.SessionState
}

// Stats returns a health snapshot for the stream.
//
// Parameters:
//   - streamID: stream to inspect
//
// Returns:
//   - StreamStats: buffer, adaptation and playout counters
//   - error: if the stream is unknown
func (e *Engine) Stats(streamID string) (StreamStats, error) {
	e.mu.RLock()
	state, ok := e.streams[streamID]
	if !ok {
		e.mu.RUnlock()
		return StreamStats{}, fmt.Errorf("stats for %q: %w", streamID, media.ErrStreamNotFound)
	}
	stats := StreamStats{
		StreamID:    streamID,
		Kind:        state.kind,
		CurrentRung: -1,
		Playout:     state.playout,
	}
	if state.ladder != nil {
		stats.LadderRungs = state.ladder.Len()
	}
	e.mu.RUnlock()

	metrics, err := e.buffers.PoolMetrics(streamID)
	if err != nil {
		return StreamStats{}, err
	}
	stats.Buffer = metrics
	stats.Session = e.clocks.State()
	if ctx, err := e.adapter.Context(streamID); err == nil {
		stats.CurrentRung = ctx.CurrentRung()
		stats.DecisionCount = ctx.DecisionCount()
	}
	return stats, nil
}

// applyDecision feeds an adaptation decision back into the buffering
// layer: pool capacity scales with the rung index so higher qualities
// get more absorption headroom while downgrades shed memory.
func (e *Engine) applyDecision(d adapt.Decision) {
	if d.Action == adapt.ActionMaintain {
		return
	}

	e.mu.RLock()
	state, ok := e.streams[d.StreamID]
	e.mu.RUnlock()
	if !ok || state.ladder == nil || state.ladder.Len() == 0 {
		return
	}

	capacity := buffer.DefaultConfig().CapacityFor(e.config.CapacityStrategy, state.kind)
	// Scale between 1x and 2x base capacity across the ladder.
	capacity += capacity * d.RungIndex / state.ladder.Len()

	if err := e.buffers.ResizePool(d.StreamID, capacity); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "applyDecision",
			"stream_id": d.StreamID,
			"error":     err.Error(),
		}).Warn("Failed to apply decision to buffer pool")
	}
}

// Iterate performs one step of the engine's periodic work: clock
// reconciliation and, on its own cadence, an adaptation evaluation for
// every adapted stream. Call it from an external event loop at
// IterationInterval, or use Run.
func (e *Engine) Iterate() {
	now := e.now()

	e.mu.Lock()
	reconcileDue := now.Sub(e.lastReconcile) >= e.iterationInterval
	if reconcileDue {
		e.lastReconcile = now
	}
	evaluateDue := now.Sub(e.lastEvaluate) >= e.evaluationInterval
	if evaluateDue {
		e.lastEvaluate = now
	}
	playouts := make(map[string]time.Duration, len(e.streams))
	for id, state := range e.streams {
		playouts[id] = state.playout
	}
	e.mu.Unlock()

	if reconcileDue {
		e.clocks.Reconcile(now)
		if len(playouts) > 0 {
			e.clocks.Synchronize(playouts, e.referenceTime(playouts))
		}
	}

	if evaluateDue {
		for _, streamID := range e.adapter.ActiveContexts() {
			if _, err := e.adapter.Evaluate(streamID); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":  "Iterate",
					"stream_id": streamID,
					"error":     err.Error(),
				}).Debug("Evaluation skipped")
			}
		}
	}
}

// referenceTime derives the session reference position as the furthest
// playout position among active streams.
func (e *Engine) referenceTime(playouts map[string]time.Duration) time.Duration {
	var ref time.Duration
	for _, p := range playouts {
		if p > ref {
			ref = p
		}
	}
	return ref
}

// IterationInterval returns the recommended Iterate cadence.
func (e *Engine) IterationInterval() time.Duration {
	return e.iterationInterval
}

// Run drives the engine's periodic work until the context is canceled.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if e.running {
		e.mu.Unlock()
		return ErrEngineAlreadyRunning
	}
	e.running = true
	tp := e.timeProvider
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	ticker := tp.NewTicker(e.iterationInterval)
	defer ticker.Stop()

	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"interval": e.iterationInterval,
	}).Info("Engine loop started")

	for {
		select {
		case <-ctx.Done():
			logrus.WithFields(logrus.Fields{
				"function": "Run",
			}).Info("Engine loop stopped")
			return ctx.Err()
		case <-ticker.C:
			e.Iterate()
		}
	}
}

// Close ends all streams and terminates the session. The engine cannot
// be reused afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	ids := make([]string, 0, len(e.streams))
	for id := range e.streams {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.mu.Lock()
		e.teardownStream(id)
		delete(e.streams, id)
		e.mu.Unlock()
	}

	e.clocks.Terminate()

	logrus.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Streamsync engine closed")
}

func (e *Engine) now() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.timeProvider.Now()
}
