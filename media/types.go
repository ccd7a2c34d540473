// Package media defines the shared stream data model used by the buffering,
// synchronization, codec, and adaptation components.
//
// This package holds only plain types and validation logic so that the
// component packages can share a common vocabulary without import cycles.
// The design follows established patterns from the streamsync codebase:
// - Immutable value types for data that crosses component boundaries
// - Explicit validation with sentinel errors
// - No network or disk I/O
package media

import (
	"fmt"
	"time"
)

// StreamKind identifies the media type carried by a stream.
type StreamKind int

const (
	// KindAudio indicates an audio stream
	KindAudio StreamKind = iota
	// KindVideo indicates a video stream
	KindVideo
	// KindData indicates an auxiliary data stream (captions, metadata)
	KindData
)

// String returns a human-readable stream kind description.
func (k StreamKind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// ChunkPriority expresses relative importance of a chunk for eviction
// and sync decisions. Higher values are evicted later.
type ChunkPriority int

const (
	// PriorityLow marks chunks that can be dropped first under pressure
	PriorityLow ChunkPriority = iota
	// PriorityNormal is the default priority for media chunks
	PriorityNormal
	// PriorityHigh marks chunks that other chunks depend on (keyframes)
	PriorityHigh
	// PriorityCritical marks chunks referenced by an active sync point
	PriorityCritical
)

// String returns a human-readable priority description.
func (p ChunkPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Chunk is a single unit of buffered media.
//
// A chunk is immutable once admitted to a buffer pool. Ordering within a
// pool is by Timestamp, with ties broken by Sequence. Dependencies list the
// sequence numbers that must be delivered before this chunk may be returned.
type Chunk struct {
	StreamID     string
	Sequence     uint64
	Timestamp    time.Duration // Presentation time relative to stream start
	Kind         StreamKind
	Payload      []byte
	Dependencies []uint64
	Priority     ChunkPriority

	// Digest is the blake2b-256 payload digest, populated on admission
	// when integrity checking is enabled. Empty otherwise.
	Digest []byte
}

// Size returns the payload size in bytes.
func (c *Chunk) Size() int {
	return len(c.Payload)
}

// Before reports whether this chunk orders before other within a pool.
// Ordering is by timestamp, ties broken by sequence number.
func (c *Chunk) Before(other *Chunk) bool {
	if c.Timestamp != other.Timestamp {
		return c.Timestamp < other.Timestamp
	}
	return c.Sequence < other.Sequence
}

// NetworkConditions is a point-in-time sample of the network path feeding
// a stream, reported by the transport layer.
type NetworkConditions struct {
	BandwidthBps  uint64        // Estimated available bandwidth
	PacketLossPct float64       // Packet loss percentage (0.0-100.0)
	Jitter        time.Duration // Inter-arrival jitter
	RTT           time.Duration // Round-trip time estimate
	Timestamp     time.Time     // When the sample was measured
}

// Age returns how stale this sample is relative to now.
func (nc NetworkConditions) Age(now time.Time) time.Duration {
	if nc.Timestamp.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(nc.Timestamp)
}

// DeviceCapabilities describes the rendering device for a stream.
type DeviceCapabilities struct {
	MaxWidth     int
	MaxHeight    int
	MaxFramerate int
	HWDecode     bool    // Hardware decode available
	CPUScore     float64 // Relative CPU capacity (1.0 = baseline)
	BatteryLevel float64 // 0.0-1.0, 1.0 when on mains power
	PowerSaver   bool    // Device requested reduced power draw
}

// UserPreferences capture per-stream user weighting for adaptation.
//
// Weights are relative; they do not need to sum to one.
type UserPreferences struct {
	PreferQuality float64 // Weight on visual/audio fidelity
	PreferLatency float64 // Weight on low end-to-end delay
	PreferBattery float64 // Weight on power savings
}

// DefaultUserPreferences returns a balanced preference profile.
func DefaultUserPreferences() UserPreferences {
	return UserPreferences{
		PreferQuality: 1.0,
		PreferLatency: 1.0,
		PreferBattery: 0.5,
	}
}

// QualityConstraints bound the quality levels a stream may occupy.
//
// Min/Max pairs with a zero Max mean "unbounded above". Constraints are
// hard limits: every adaptation decision must satisfy them.
type QualityConstraints struct {
	MinBitrate   uint64
	MaxBitrate   uint64
	MaxWidth     int
	MaxHeight    int
	MaxFramerate int
	MaxLatency   time.Duration
	PowerBudget  float64 // 0 means no budget
}

// Validate checks internal consistency of the constraint set.
func (qc QualityConstraints) Validate() error {
	if qc.MaxBitrate > 0 && qc.MinBitrate > qc.MaxBitrate {
		return fmt.Errorf("%w: min bitrate %d exceeds max bitrate %d",
			ErrInvalidConstraint, qc.MinBitrate, qc.MaxBitrate)
	}
	if qc.MaxWidth < 0 || qc.MaxHeight < 0 || qc.MaxFramerate < 0 {
		return fmt.Errorf("%w: negative resolution or framerate bound", ErrInvalidConstraint)
	}
	return nil
}

// AllowsBitrate reports whether a bitrate satisfies the constraint bounds.
func (qc QualityConstraints) AllowsBitrate(bps uint64) bool {
	if bps < qc.MinBitrate {
		return false
	}
	if qc.MaxBitrate > 0 && bps > qc.MaxBitrate {
		return false
	}
	return true
}

// AllowsResolution reports whether a resolution satisfies the constraint bounds.
func (qc QualityConstraints) AllowsResolution(width, height int) bool {
	if qc.MaxWidth > 0 && width > qc.MaxWidth {
		return false
	}
	if qc.MaxHeight > 0 && height > qc.MaxHeight {
		return false
	}
	return true
}
