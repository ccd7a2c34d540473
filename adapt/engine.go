package adapt

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/streamsync/codec"
	"github.com/opd-ai/streamsync/media"
)

// Config defines adaptation engine parameters.
type Config struct {
	// DwellTime is the minimum period between quality changes for one
	// stream, the hysteresis cooldown (default: 3s).
	DwellTime time.Duration

	// SampleStaleness is the horizon over which network samples decay to
	// zero confidence (default: 5s).
	SampleStaleness time.Duration

	// EvaluationInterval is the period of the evaluation cycle when
	// driven by the engine loop (default: 1s).
	EvaluationInterval time.Duration

	// ApplyTimeline is how soon a normal decision should take effect;
	// emergency decisions always carry a zero timeline (default: 500ms).
	ApplyTimeline time.Duration
}

// DefaultConfig returns configuration with conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		DwellTime:          3 * time.Second,
		SampleStaleness:    5 * time.Second,
		EvaluationInterval: time.Second,
		ApplyTimeline:      500 * time.Millisecond,
	}
}

// Engine produces adaptation decisions for active streams.
type Engine struct {
	mu       sync.RWMutex
	contexts map[string]*Context

	config *Config
	scorer Scorer

	// Decision hook wired by the streamsync engine.
	onDecision func(Decision)

	// Time provider for deterministic testing.
	// If nil, media.RealTimeProvider is used.
	timeProvider media.TimeProvider
}

// NewEngine creates a quality adaptation engine.
//
// Parameters:
//   - config: Engine configuration (nil uses DefaultConfig())
//
// Returns:
//   - *Engine: The new engine with the rule-based scorer installed
func NewEngine(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}

	logrus.WithFields(logrus.Fields{
		"function":         "NewEngine",
		"dwell_time":       config.DwellTime,
		"sample_staleness": config.SampleStaleness,
	}).Info("Creating quality adaptation engine")

	return &Engine{
		contexts:     make(map[string]*Context),
		config:       config,
		scorer:       &RuleScorer{},
		timeProvider: media.RealTimeProvider{},
	}
}

// SetScorer installs a scoring strategy. A nil scorer restores the
// rule-based default.
func (e *Engine) SetScorer(s Scorer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s == nil {
		s = &RuleScorer{}
	}
	e.scorer = s
}

// SetDecisionCallback configures the decision hook invoked for every
// emitted decision.
func (e *Engine) SetDecisionCallback(cb func(Decision)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDecision = cb
}

// SetTimeProvider sets the time provider for deterministic testing.
func (e *Engine) SetTimeProvider(tp media.TimeProvider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tp == nil {
		tp = media.RealTimeProvider{}
	}
	e.timeProvider = tp
}

// CreateContext begins adaptation for a stream.
//
// The stream starts on the lowest rung satisfying its constraints, the
// conservative choice until real network samples arrive. Returns
// media.ErrInvalidConstraint when the constraints are inconsistent and
// ErrNoValidRung when no rung can satisfy them.
func (e *Engine) CreateContext(streamID string, kind media.StreamKind, ladder *codec.Ladder,
	constraints media.QualityConstraints, prefs media.UserPreferences) (*Context, error) {

	if err := constraints.Validate(); err != nil {
		return nil, err
	}
	start, ok := ladder.LowestValid(constraints)
	if !ok {
		return nil, fmt.Errorf("%w: stream %s", ErrNoValidRung, streamID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.contexts[streamID]; exists {
		return nil, fmt.Errorf("%w: adaptation context for %s", media.ErrStreamAlreadyExists, streamID)
	}

	ctx := &Context{
		streamID:    streamID,
		kind:        kind,
		ladder:      ladder,
		constraints: constraints,
		prefs:       prefs,
		currentRung: start,
	}
	e.contexts[streamID] = ctx

	logrus.WithFields(logrus.Fields{
		"function":     "CreateContext",
		"stream_id":    streamID,
		"kind":         kind.String(),
		"ladder_rungs": ladder.Len(),
		"start_rung":   start,
	}).Info("Adaptation context created")

	return ctx, nil
}

// RemoveContext ends adaptation for a stream. In-flight work referencing
// the removed context observes it as gone on the next operation.
func (e *Engine) RemoveContext(streamID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.contexts, streamID)
}

// UpdateNetwork refreshes a stream's network sample.
func (e *Engine) UpdateNetwork(streamID string, nc media.NetworkConditions) error {
	ctx, err := e.context(streamID)
	if err != nil {
		return err
	}
	ctx.mu.Lock()
	ctx.network = nc
	ctx.mu.Unlock()
	return nil
}

// UpdateDevice refreshes a stream's device capability sample.
func (e *Engine) UpdateDevice(streamID string, dc media.DeviceCapabilities) error {
	ctx, err := e.context(streamID)
	if err != nil {
		return err
	}
	ctx.mu.Lock()
	ctx.device = dc
	ctx.mu.Unlock()
	return nil
}

// SignalUnderrun marks a buffer underrun for the stream; the next
// evaluation takes the emergency path.
func (e *Engine) SignalUnderrun(streamID string) error {
	ctx, err := e.context(streamID)
	if err != nil {
		return err
	}
	ctx.mu.Lock()
	ctx.pendingUnderrun = true
	ctx.mu.Unlock()
	return nil
}

// SignalDesync marks a sync desync for the stream; the next evaluation
// takes the emergency path.
func (e *Engine) SignalDesync(streamID string) error {
	ctx, err := e.context(streamID)
	if err != nil {
		return err
	}
	ctx.mu.Lock()
	ctx.pendingDesync = true
	ctx.mu.Unlock()
	return nil
}

// Evaluate runs one adaptation cycle for a stream and returns the
// resulting decision.
//
// Underrun or desync signals preempt everything: the stream drops to the
// lowest rung meeting its minimum constraints with no hysteresis. The
// normal path scores a candidate, applies rung-distance hysteresis and
// the dwell-time cooldown, validates against constraints (clamping to the
// nearest valid rung), and emits the decision with confidence derived
// from sample freshness.
func (e *Engine) Evaluate(streamID string) (*Decision, error) {
	ctx, err := e.context(streamID)
	if err != nil {
		return nil, err
	}

	now := e.now()

	ctx.mu.Lock()
	var decision Decision
	if ctx.pendingUnderrun || ctx.pendingDesync {
		decision, err = e.emergencyLocked(ctx, now)
	} else {
		decision, err = e.evaluateLocked(ctx, now)
	}
	if err != nil {
		ctx.mu.Unlock()
		return nil, err
	}
	e.commitLocked(ctx, &decision, now)
	ctx.mu.Unlock()

	e.dispatch(decision)
	return &decision, nil
}

// emergencyLocked computes the lowest valid rung and emits an emergency
// decision, skipping hysteresis entirely.
func (e *Engine) emergencyLocked(ctx *Context, now time.Time) (Decision, error) {
	target, ok := ctx.ladder.LowestValid(ctx.constraints)
	if !ok {
		return Decision{}, fmt.Errorf("%w: stream %s", ErrNoValidRung, ctx.streamID)
	}

	reason := "buffer underrun"
	if ctx.pendingDesync {
		reason = "stream desync"
	}
	ctx.pendingUnderrun = false
	ctx.pendingDesync = false

	logrus.WithFields(logrus.Fields{
		"function":  "Evaluate",
		"stream_id": ctx.streamID,
		"reason":    reason,
		"from_rung": ctx.currentRung,
		"to_rung":   target,
	}).Warn("Emergency adaptation decision")

	return e.buildDecisionLocked(ctx, ActionEmergency, target, reason, 0.9, now), nil
}

// evaluateLocked runs the normal scoring path with hysteresis.
func (e *Engine) evaluateLocked(ctx *Context, now time.Time) (Decision, error) {
	snap := ctx.snapshot(now)

	// Bandwidth collapsing below the lowest rung's requirement is
	// emergency territory regardless of signal state.
	if snap.Network.BandwidthBps > 0 && ctx.ladder.Rung(0).Bitrate > snap.Network.BandwidthBps {
		target, ok := ctx.ladder.LowestValid(ctx.constraints)
		if !ok {
			return Decision{}, fmt.Errorf("%w: stream %s", ErrNoValidRung, ctx.streamID)
		}
		logrus.WithFields(logrus.Fields{
			"function":      "Evaluate",
			"stream_id":     ctx.streamID,
			"bandwidth_bps": snap.Network.BandwidthBps,
			"floor_bps":     ctx.ladder.Rung(0).Bitrate,
		}).Warn("Bandwidth below ladder floor, emergency downgrade")
		return e.buildDecisionLocked(ctx, ActionEmergency, target,
			"bandwidth below ladder floor", 0.9, now), nil
	}

	e.mu.RLock()
	scorer := e.scorer
	e.mu.RUnlock()

	candidate, scoreConf := scorer.Score(snap, ctx.ladder)

	// Hysteresis: act only when the candidate is more than one rung away
	// and dwell time has elapsed since the previous decision.
	distance := candidate - ctx.currentRung
	if distance < 0 {
		distance = -distance
	}
	dwellElapsed := ctx.lastDecisionAt.IsZero() ||
		now.Sub(ctx.lastDecisionAt) >= e.config.DwellTime

	if distance <= 1 || !dwellElapsed {
		return e.buildDecisionLocked(ctx, ActionMaintain, ctx.currentRung,
			"within hysteresis band", e.freshness(snap, now)*scoreConf, now), nil
	}

	// Validate against constraints; clamp to the nearest valid rung.
	if !ctx.ladder.Valid(candidate, ctx.constraints) {
		clamped, ok := ctx.ladder.NearestValid(candidate, ctx.constraints)
		if !ok {
			return Decision{}, fmt.Errorf("%w: stream %s", ErrNoValidRung, ctx.streamID)
		}
		candidate = clamped
	}

	action := ActionMaintain
	reason := "conditions stable"
	switch {
	case candidate > ctx.currentRung:
		action = ActionUpgrade
		reason = "bandwidth headroom available"
	case candidate < ctx.currentRung:
		action = ActionDowngrade
		reason = "conditions degraded"
	}

	return e.buildDecisionLocked(ctx, action, candidate,
		reason, e.freshness(snap, now)*scoreConf, now), nil
}

// ForceQualityChange applies an operator-directed quality override.
//
// The target is still validated against the stream's constraints: an
// invalid target fails with media.ErrInvalidConstraint rather than being
// silently clamped, since the change is explicitly directed. A pending
// emergency signal wins over the override and fails the call with
// ErrEmergencyPending.
func (e *Engine) ForceQualityChange(streamID string, targetRung int, reason string) (*Decision, error) {
	ctx, err := e.context(streamID)
	if err != nil {
		return nil, err
	}

	now := e.now()

	ctx.mu.Lock()
	if ctx.pendingUnderrun || ctx.pendingDesync {
		ctx.mu.Unlock()
		return nil, fmt.Errorf("%w: stream %s", ErrEmergencyPending, streamID)
	}
	if !ctx.ladder.Valid(targetRung, ctx.constraints) {
		ctx.mu.Unlock()
		return nil, fmt.Errorf("%w: rung %d for stream %s",
			media.ErrInvalidConstraint, targetRung, streamID)
	}

	action := ActionMaintain
	switch {
	case targetRung > ctx.currentRung:
		action = ActionUpgrade
	case targetRung < ctx.currentRung:
		action = ActionDowngrade
	}

	decision := e.buildDecisionLocked(ctx, action, targetRung, reason, 1.0, now)
	e.commitLocked(ctx, &decision, now)
	ctx.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "ForceQualityChange",
		"stream_id": streamID,
		"target":    targetRung,
		"reason":    reason,
	}).Info("Forced quality change applied")

	e.dispatch(decision)
	return &decision, nil
}

// buildDecisionLocked assembles an immutable decision value.
func (e *Engine) buildDecisionLocked(ctx *Context, action Action, target int,
	reason string, confidence float64, now time.Time) Decision {

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	decision := Decision{
		StreamID:   ctx.streamID,
		Action:     action,
		Reason:     reason,
		Confidence: confidence,
		RungIndex:  target,
		NewQuality: ctx.ladder.Rung(target),
		Impact:     e.estimateImpact(ctx, target),
		IssuedAt:   now,
	}

	if action == ActionEmergency {
		decision.Timeline = 0
		decision.Rollback = &Rollback{
			PreviousRung: ctx.currentRung,
			Deadline:     now.Add(e.config.DwellTime),
		}
	} else if action != ActionMaintain {
		decision.Timeline = e.config.ApplyTimeline
	}

	return decision
}

// commitLocked records the decision in the context.
func (e *Engine) commitLocked(ctx *Context, d *Decision, now time.Time) {
	if d.Action != ActionMaintain {
		ctx.currentRung = d.RungIndex
		ctx.lastDecisionAt = now
	}
	ctx.lastAction = d.Action
	ctx.decisionCount++
}

// estimateImpact computes ladder deltas between the current and target
// rungs.
func (e *Engine) estimateImpact(ctx *Context, target int) Impact {
	cur := ctx.ladder.Rung(ctx.currentRung)
	next := ctx.ladder.Rung(target)

	impact := Impact{
		Bandwidth: int64(next.Bitrate) - int64(cur.Bitrate),
	}

	if cur.Bitrate > 0 {
		ratio := float64(next.Bitrate) / float64(cur.Bitrate)
		impact.CPU = ratio - 1.0
		impact.Battery = ratio - 1.0
		if next.Codec != nil && next.Codec.Capabilities.HWAccel {
			impact.Battery *= 0.5
		}
	}
	if ctx.ladder.Len() > 1 {
		impact.UX = float64(target-ctx.currentRung) / float64(ctx.ladder.Len()-1)
	}
	if impact.Bandwidth < 0 {
		// Lower bitrate drains the buffer slower; playout latency risk drops.
		impact.Latency = -time.Duration(float64(time.Millisecond) * 50 * -impact.UX * float64(ctx.ladder.Len()))
	}

	return impact
}

// freshness maps network sample age to a confidence multiplier.
func (e *Engine) freshness(snap Snapshot, now time.Time) float64 {
	age := snap.Network.Age(now)
	if age >= e.config.SampleStaleness {
		return 0.2
	}
	f := 1.0 - float64(age)/float64(e.config.SampleStaleness)
	if f < 0.2 {
		f = 0.2
	}
	return f
}

// ActiveContexts returns the IDs of streams currently under adaptation.
func (e *Engine) ActiveContexts() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.contexts))
	for id := range e.contexts {
		ids = append(ids, id)
	}
	return ids
}

// Context returns the adaptation context for a stream.
func (e *Engine) Context(streamID string) (*Context, error) {
	return e.context(streamID)
}

func (e *Engine) context(streamID string) (*Context, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ctx, exists := e.contexts[streamID]
	if !exists {
		return nil, fmt.Errorf("%w: adaptation context for %s", media.ErrStreamNotFound, streamID)
	}
	return ctx, nil
}

func (e *Engine) now() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.timeProvider.Now()
}

func (e *Engine) dispatch(d Decision) {
	e.mu.RLock()
	cb := e.onDecision
	e.mu.RUnlock()
	if cb != nil {
		cb(d)
	}
}
