package streamsync

import (
	"time"

	"github.com/opd-ai/streamsync/buffer"
	"github.com/opd-ai/streamsync/media"
)

// Config is the engine's configuration surface. Each option affects only
// the core algorithms; there is no other observable behavior.
type Config struct {
	// CapacityStrategy selects the buffer pool sizing profile.
	CapacityStrategy buffer.Strategy

	// WatermarkFractions derive pool watermarks from capacity.
	WatermarkFractions buffer.WatermarkFractions

	// SyncTolerance bounds acceptable cross-stream deviation at sync
	// points (default: 20ms).
	SyncTolerance time.Duration

	// CorrectionRateLimit caps the playout-rate change per reconciliation
	// cycle (default: 0.05, i.e. 5%).
	CorrectionRateLimit float64

	// DwellTime is the adaptation cooldown between quality changes for
	// one stream (default: 3s).
	DwellTime time.Duration

	// LadderRungCount is the number of quality ladder rungs built per
	// stream, clamped to [3, 6] (default: 5).
	LadderRungCount int

	// BaseCodecs names the ladder base codec per stream kind. Missing
	// kinds fall back to the built-in defaults.
	BaseCodecs map[media.StreamKind]string

	// MaxBitrates bounds the ladder per stream kind. Missing kinds fall
	// back to the built-in defaults.
	MaxBitrates map[media.StreamKind]uint64

	// EventBuffer is the per-consumer event channel capacity
	// (default: 256).
	EventBuffer int
}

// DefaultConfig returns configuration with conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		CapacityStrategy: buffer.StrategyBalanced,
		WatermarkFractions: buffer.WatermarkFractions{
			Low:      0.25,
			High:     0.75,
			Critical: 0.95,
		},
		SyncTolerance:       20 * time.Millisecond,
		CorrectionRateLimit: 0.05,
		DwellTime:           3 * time.Second,
		LadderRungCount:     5,
		BaseCodecs: map[media.StreamKind]string{
			media.KindAudio: "opus",
			media.KindVideo: "h264-hw",
		},
		MaxBitrates: map[media.StreamKind]uint64{
			media.KindAudio: 256_000,
			media.KindVideo: 8_000_000,
		},
		EventBuffer: 256,
	}
}

// baseCodec returns the configured ladder base codec for a stream kind.
func (c *Config) baseCodec(kind media.StreamKind) string {
	if name, ok := c.BaseCodecs[kind]; ok {
		return name
	}
	if kind == media.KindVideo {
		return "h264-hw"
	}
	return "opus"
}

// maxBitrate returns the configured ladder ceiling for a stream kind.
func (c *Config) maxBitrate(kind media.StreamKind) uint64 {
	if bps, ok := c.MaxBitrates[kind]; ok {
		return bps
	}
	if kind == media.KindVideo {
		return 8_000_000
	}
	return 256_000
}
