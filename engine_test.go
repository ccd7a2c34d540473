package streamsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/streamsync/adapt"
	"github.com/opd-ai/streamsync/clock"
	"github.com/opd-ai/streamsync/media"
)

// mockTimeProvider implements media.TimeProvider with manually advanced
// time for deterministic tests.
type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *mockTimeProvider) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}

func (m *mockTimeProvider) NewTimer(d time.Duration) *time.Timer {
	return time.NewTimer(d)
}

func newTestStreamEngine(t *testing.T) (*Engine, *mockTimeProvider) {
	t.Helper()
	e, err := New(nil)
	require.NoError(t, err)
	tp := newMockTimeProvider()
	e.SetTimeProvider(tp)
	t.Cleanup(e.Close)
	return e, tp
}

func startVideo(t *testing.T, e *Engine, streamID string) {
	t.Helper()
	err := e.StartStream(streamID, media.KindVideo,
		media.DefaultUserPreferences(), media.QualityConstraints{})
	require.NoError(t, err)
}

func TestEngineStreamLifecycle(t *testing.T) {
	e, _ := newTestStreamEngine(t)

	startVideo(t, e, "video-1")

	err := e.StartStream("video-1", media.KindVideo,
		media.DefaultUserPreferences(), media.QualityConstraints{})
	assert.True(t, errors.Is(err, media.ErrStreamAlreadyExists))

	require.NoError(t, e.EndStream("video-1"))

	err = e.EndStream("video-1")
	assert.True(t, errors.Is(err, media.ErrStreamNotFound))

	// The stream ID is reusable after teardown.
	startVideo(t, e, "video-1")
}

func TestEngineAutoInitsMasterClock(t *testing.T) {
	e, _ := newTestStreamEngine(t)

	assert.Nil(t, e.Clocks().Master())
	startVideo(t, e, "video-1")
	assert.NotNil(t, e.Clocks().Master())
}

func TestEngineChunkRoundTrip(t *testing.T) {
	e, _ := newTestStreamEngine(t)
	startVideo(t, e, "video-1")

	chunk := &media.Chunk{
		StreamID:  "video-1",
		Sequence:  1,
		Timestamp: 20 * time.Millisecond,
		Kind:      media.KindVideo,
		Payload:   []byte("frame"),
	}
	admitted, err := e.SubmitChunk("video-1", chunk)
	require.NoError(t, err)
	assert.True(t, admitted)

	got, err := e.NextChunk("video-1", 20*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(1), got.Sequence)

	_, err = e.SubmitChunk("missing", chunk)
	assert.True(t, errors.Is(err, media.ErrStreamNotFound))
}

func TestEngineStats(t *testing.T) {
	e, _ := newTestStreamEngine(t)
	startVideo(t, e, "video-1")

	for i := 1; i <= 2; i++ {
		admitted, err := e.SubmitChunk("video-1", &media.Chunk{
			StreamID:  "video-1",
			Sequence:  uint64(i),
			Timestamp: time.Duration(i) * 20 * time.Millisecond,
			Kind:      media.KindVideo,
			Payload:   []byte("frame"),
		})
		require.NoError(t, err)
		require.True(t, admitted)
	}
	_, err := e.NextChunk("video-1", 20*time.Millisecond)
	require.NoError(t, err)

	stats, err := e.Stats("video-1")
	require.NoError(t, err)
	assert.Equal(t, media.KindVideo, stats.Kind)
	assert.Equal(t, 1, stats.Buffer.Level)
	assert.Equal(t, 0, stats.CurrentRung)
	assert.Equal(t, DefaultConfig().LadderRungCount, stats.LadderRungs)
	assert.Equal(t, uint64(0), stats.DecisionCount)
	assert.Equal(t, 20*time.Millisecond, stats.Playout)

	_, err = e.Stats("missing")
	assert.True(t, errors.Is(err, media.ErrStreamNotFound))
}

func TestEngineStatsDataStream(t *testing.T) {
	e, _ := newTestStreamEngine(t)

	err := e.StartStream("data-1", media.KindData,
		media.DefaultUserPreferences(), media.QualityConstraints{})
	require.NoError(t, err)

	stats, err := e.Stats("data-1")
	require.NoError(t, err)
	assert.Equal(t, -1, stats.CurrentRung)
	assert.Zero(t, stats.LadderRungs)
}

func TestEngineFlushStream(t *testing.T) {
	e, _ := newTestStreamEngine(t)
	startVideo(t, e, "video-1")

	for i := 1; i <= 3; i++ {
		_, err := e.SubmitChunk("video-1", &media.Chunk{
			StreamID:  "video-1",
			Sequence:  uint64(i),
			Timestamp: time.Duration(i) * 20 * time.Millisecond,
			Kind:      media.KindVideo,
			Payload:   []byte("frame"),
		})
		require.NoError(t, err)
	}

	removed, err := e.FlushStream("video-1")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
}

func TestEngineForceQualityChangeEmitsDecision(t *testing.T) {
	e, _ := newTestStreamEngine(t)
	startVideo(t, e, "video-1")

	decision, err := e.ForceQualityChange("video-1", 3, "operator directive")
	require.NoError(t, err)
	assert.Equal(t, adapt.ActionUpgrade, decision.Action)

	select {
	case d := <-e.Decisions():
		assert.Equal(t, "video-1", d.StreamID)
		assert.Equal(t, 3, d.RungIndex)
	default:
		t.Fatal("expected a decision on the outbound channel")
	}
}

func TestEngineEvaluateWithNetworkSample(t *testing.T) {
	e, tp := newTestStreamEngine(t)
	startVideo(t, e, "video-1")

	require.NoError(t, e.ReportNetworkConditions("video-1", media.NetworkConditions{
		BandwidthBps: 12_000_000,
		Timestamp:    tp.Now(),
	}))
	require.NoError(t, e.ReportDeviceCapabilities("video-1", media.DeviceCapabilities{
		MaxWidth: 1920, MaxHeight: 1080, BatteryLevel: 0.9,
	}))

	decision, err := e.Evaluate("video-1")
	require.NoError(t, err)
	assert.Equal(t, adapt.ActionUpgrade, decision.Action)
	assert.Equal(t, 4, decision.RungIndex)
}

func TestEngineDataStreamsSkipAdaptation(t *testing.T) {
	e, tp := newTestStreamEngine(t)

	err := e.StartStream("data-1", media.KindData,
		media.DefaultUserPreferences(), media.QualityConstraints{})
	require.NoError(t, err)

	// Data streams buffer and synchronize but are never adapted.
	err = e.ReportNetworkConditions("data-1", media.NetworkConditions{
		BandwidthBps: 1_000_000,
		Timestamp:    tp.Now(),
	})
	assert.True(t, errors.Is(err, media.ErrStreamNotFound))

	_, err = e.Evaluate("data-1")
	assert.True(t, errors.Is(err, media.ErrStreamNotFound))

	admitted, err := e.SubmitChunk("data-1", &media.Chunk{
		StreamID: "data-1", Sequence: 1, Kind: media.KindData, Payload: []byte("x"),
	})
	require.NoError(t, err)
	assert.True(t, admitted)
}

func TestEngineUnderrunFlowsToEmergency(t *testing.T) {
	e, tp := newTestStreamEngine(t)
	startVideo(t, e, "video-1")

	// Climb to the top so the emergency has somewhere to fall.
	require.NoError(t, e.ReportNetworkConditions("video-1", media.NetworkConditions{
		BandwidthBps: 12_000_000,
		Timestamp:    tp.Now(),
	}))
	_, err := e.Evaluate("video-1")
	require.NoError(t, err)
	drainDecisions(e)

	// Arm the starvation window, let the grace period lapse, and poll
	// again: the underrun event fires and the next evaluation is an
	// emergency downgrade.
	_, err = e.NextChunk("video-1", 0)
	require.NoError(t, err)
	tp.Advance(time.Second)
	_, err = e.NextChunk("video-1", 0)
	require.NoError(t, err)

	select {
	case ev := <-e.Underruns():
		assert.Equal(t, "video-1", ev.StreamID)
	default:
		t.Fatal("expected an underrun event")
	}

	decision, err := e.Evaluate("video-1")
	require.NoError(t, err)
	assert.Equal(t, adapt.ActionEmergency, decision.Action)
	assert.Equal(t, 0, decision.RungIndex)
}

func TestEngineSyncPointDesyncEvent(t *testing.T) {
	e, tp := newTestStreamEngine(t)
	startVideo(t, e, "video-1")
	err := e.StartStream("audio-1", media.KindAudio,
		media.DefaultUserPreferences(), media.QualityConstraints{})
	require.NoError(t, err)

	require.NoError(t, e.AddSyncPoint(&clock.SyncPoint{
		ID:           "sp-1",
		Timestamp:    500 * time.Millisecond,
		StreamID:     "video-1",
		Tolerance:    20 * time.Millisecond,
		Dependencies: []string{"audio-1"},
	}))

	within, err := e.ReportSyncArrival("sp-1", "video-1", 505*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, within)

	// The audio stream never reports; expiry surfaces as a desync event.
	tp.Advance(10 * time.Second)
	e.Clocks().Reconcile(tp.Now())

	select {
	case ev := <-e.Desyncs():
		assert.Equal(t, "audio-1", ev.StreamID)
		assert.Equal(t, "sp-1", ev.Point.ID)
	default:
		t.Fatal("expected a desync event")
	}
}

func TestEngineIterate(t *testing.T) {
	e, tp := newTestStreamEngine(t)
	startVideo(t, e, "video-1")

	require.NoError(t, e.ReportNetworkConditions("video-1", media.NetworkConditions{
		BandwidthBps: 12_000_000,
		Timestamp:    tp.Now(),
	}))

	tp.Advance(2 * time.Second)
	e.Iterate()

	select {
	case d := <-e.Decisions():
		assert.Equal(t, adapt.ActionUpgrade, d.Action)
	default:
		t.Fatal("iterate should have evaluated the stream")
	}

	assert.Equal(t, 250*time.Millisecond, e.IterationInterval())
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	e, _ := newTestStreamEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx)
	}()

	// A second Run while the loop is live is rejected.
	time.Sleep(20 * time.Millisecond)
	err := e.Run(ctx)
	assert.True(t, errors.Is(err, ErrEngineAlreadyRunning))

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("engine loop did not stop on cancel")
	}
}

func TestEngineClose(t *testing.T) {
	e, _ := newTestStreamEngine(t)
	startVideo(t, e, "video-1")

	e.Close()

	err := e.StartStream("video-2", media.KindVideo,
		media.DefaultUserPreferences(), media.QualityConstraints{})
	assert.True(t, errors.Is(err, ErrEngineClosed))

	err = e.Run(context.Background())
	assert.True(t, errors.Is(err, ErrEngineClosed))

	// Closing twice is safe.
	e.Close()
}

func TestEngineEventOverflowAccounting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EventBuffer = 1
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(e.Close)

	startVideo(t, e, "video-1")

	// Two decisions into a one-slot channel: the oldest is dropped and
	// counted, the newest is retained.
	_, err = e.ForceQualityChange("video-1", 2, "first")
	require.NoError(t, err)
	_, err = e.ForceQualityChange("video-1", 4, "second")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), e.EventOverflow())

	d := <-e.Decisions()
	assert.Equal(t, 4, d.RungIndex)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 20*time.Millisecond, cfg.SyncTolerance)
	assert.Equal(t, 0.05, cfg.CorrectionRateLimit)
	assert.Equal(t, 3*time.Second, cfg.DwellTime)
	assert.Equal(t, 5, cfg.LadderRungCount)
	assert.Equal(t, 256, cfg.EventBuffer)
	assert.Equal(t, "opus", cfg.BaseCodecs[media.KindAudio])
	assert.Equal(t, "h264-hw", cfg.BaseCodecs[media.KindVideo])
}

func drainDecisions(e *Engine) {
	for {
		select {
		case <-e.Decisions():
		default:
			return
		}
	}
}
