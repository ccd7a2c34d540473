package media

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStreamKindString(t *testing.T) {
	tests := []struct {
		name     string
		kind     StreamKind
		expected string
	}{
		{"audio kind", KindAudio, "audio"},
		{"video kind", KindVideo, "video"},
		{"data kind", KindData, "data"},
		{"unknown kind", StreamKind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.kind.String())
		})
	}
}

func TestChunkBefore(t *testing.T) {
	tests := []struct {
		name     string
		a        Chunk
		b        Chunk
		expected bool
	}{
		{
			name:     "earlier timestamp wins",
			a:        Chunk{Timestamp: 100 * time.Millisecond, Sequence: 5},
			b:        Chunk{Timestamp: 200 * time.Millisecond, Sequence: 1},
			expected: true,
		},
		{
			name:     "later timestamp loses",
			a:        Chunk{Timestamp: 300 * time.Millisecond, Sequence: 1},
			b:        Chunk{Timestamp: 200 * time.Millisecond, Sequence: 2},
			expected: false,
		},
		{
			name:     "equal timestamps break on sequence",
			a:        Chunk{Timestamp: 100 * time.Millisecond, Sequence: 1},
			b:        Chunk{Timestamp: 100 * time.Millisecond, Sequence: 2},
			expected: true,
		},
		{
			name:     "identical chunks are not before each other",
			a:        Chunk{Timestamp: 100 * time.Millisecond, Sequence: 1},
			b:        Chunk{Timestamp: 100 * time.Millisecond, Sequence: 1},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.a.Before(&tt.b))
		})
	}
}

func TestChunkSize(t *testing.T) {
	c := Chunk{Payload: make([]byte, 1200)}
	assert.Equal(t, 1200, c.Size())

	empty := Chunk{}
	assert.Equal(t, 0, empty.Size())
}

func TestNetworkConditionsAge(t *testing.T) {
	now := time.Now()
	nc := NetworkConditions{Timestamp: now.Add(-2 * time.Second)}
	age := nc.Age(now)
	assert.Equal(t, 2*time.Second, age)
}

func TestQualityConstraintsValidate(t *testing.T) {
	tests := []struct {
		name        string
		constraints QualityConstraints
		wantErr     bool
	}{
		{
			name:        "empty constraints are valid",
			constraints: QualityConstraints{},
			wantErr:     false,
		},
		{
			name: "well-formed bitrate range",
			constraints: QualityConstraints{
				MinBitrate: 500_000,
				MaxBitrate: 4_000_000,
			},
			wantErr: false,
		},
		{
			name: "min above max is invalid",
			constraints: QualityConstraints{
				MinBitrate: 4_000_000,
				MaxBitrate: 500_000,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.constraints.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidConstraint))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQualityConstraintsAllowsBitrate(t *testing.T) {
	qc := QualityConstraints{MinBitrate: 500_000, MaxBitrate: 4_000_000}

	assert.True(t, qc.AllowsBitrate(500_000))
	assert.True(t, qc.AllowsBitrate(2_000_000))
	assert.True(t, qc.AllowsBitrate(4_000_000))
	assert.False(t, qc.AllowsBitrate(499_999))
	assert.False(t, qc.AllowsBitrate(4_000_001))

	unbounded := QualityConstraints{}
	assert.True(t, unbounded.AllowsBitrate(100_000_000))
}

func TestQualityConstraintsAllowsResolution(t *testing.T) {
	qc := QualityConstraints{MaxWidth: 1920, MaxHeight: 1080}

	assert.True(t, qc.AllowsResolution(1920, 1080))
	assert.True(t, qc.AllowsResolution(1280, 720))
	assert.False(t, qc.AllowsResolution(3840, 2160))
	assert.False(t, qc.AllowsResolution(1920, 1440))
}

func TestDefaultUserPreferences(t *testing.T) {
	prefs := DefaultUserPreferences()

	assert.Equal(t, 1.0, prefs.PreferQuality)
	assert.Equal(t, 1.0, prefs.PreferLatency)
	assert.Equal(t, 0.5, prefs.PreferBattery)
}

func TestRealTimeProvider(t *testing.T) {
	tp := RealTimeProvider{}

	before := time.Now()
	now := tp.Now()
	after := time.Now()
	assert.False(t, now.Before(before))
	assert.False(t, now.After(after))

	ticker := tp.NewTicker(time.Hour)
	assert.NotNil(t, ticker)
	ticker.Stop()

	timer := tp.NewTimer(time.Hour)
	assert.NotNil(t, timer)
	timer.Stop()
}
