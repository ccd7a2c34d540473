package buffer

import (
	"time"

	"github.com/opd-ai/streamsync/media"
)

// Strategy selects the capacity profile for a new pool.
type Strategy int

const (
	// StrategyBalanced is the default capacity profile
	StrategyBalanced Strategy = iota
	// StrategyLowLatency favors small pools and fast turnover
	StrategyLowLatency
	// StrategyThroughput favors large pools that absorb bursts
	StrategyThroughput
	// StrategyConservative sizes pools small to bound memory use
	StrategyConservative
)

// String returns a human-readable strategy description.
func (s Strategy) String() string {
	switch s {
	case StrategyBalanced:
		return "balanced"
	case StrategyLowLatency:
		return "low-latency"
	case StrategyThroughput:
		return "throughput"
	case StrategyConservative:
		return "conservative"
	default:
		return "unknown"
	}
}

// baseCapacity returns the chunk capacity for audio/data pools under this
// strategy. Video pools scale this by Config.VideoCapacityFactor.
func (s Strategy) baseCapacity() int {
	switch s {
	case StrategyLowLatency:
		return 16
	case StrategyThroughput:
		return 128
	case StrategyConservative:
		return 24
	default:
		return 64
	}
}

// CapacityFor returns the derived pool capacity for a stream kind under
// the given strategy. Video pools scale the strategy base by
// VideoCapacityFactor.
func (c *Config) CapacityFor(strategy Strategy, kind media.StreamKind) int {
	capacity := strategy.baseCapacity()
	if kind == media.KindVideo {
		capacity *= c.VideoCapacityFactor
	}
	return capacity
}

// WatermarkFractions define watermark levels as fractions of pool capacity.
type WatermarkFractions struct {
	Low      float64
	High     float64
	Critical float64
}

// Watermarks are absolute fill-level thresholds derived from capacity.
// The pool constructor enforces Low < High < Critical <= capacity.
type Watermarks struct {
	Low      int
	High     int
	Critical int
}

// Config defines buffer pool manager parameters.
//
// The defaults are tuned for interactive streaming: video pools several
// times larger than audio, watermarks at quarter/three-quarter/near-full,
// and an underrun grace period short enough to react within a single
// adaptation cycle.
type Config struct {
	// Capacity sizing
	VideoCapacityFactor int                // Video pool size multiplier over audio/data (default: 4)
	Fractions           WatermarkFractions // Watermark fractions of capacity (default: 0.25/0.75/0.95)

	// Eviction scoring weights
	AgeWeight        float64 // Weight on chunk age (default: 1.0)
	PriorityWeight   float64 // Weight on chunk priority (default: 0.5)
	DependencyWeight float64 // Weight protecting chunks with dependents (default: 2.0)

	// Underrun detection
	UnderrunGrace time.Duration // Not-ready duration before an underrun is raised (default: 200ms)

	// Integrity checking
	VerifyDigests bool // Compute and verify blake2b payload digests on admission
}

// DefaultConfig returns configuration with conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		VideoCapacityFactor: 4,
		Fractions: WatermarkFractions{
			Low:      0.25,
			High:     0.75,
			Critical: 0.95,
		},
		AgeWeight:        1.0,
		PriorityWeight:   0.5,
		DependencyWeight: 2.0,
		UnderrunGrace:    200 * time.Millisecond,
		VerifyDigests:    false,
	}
}
