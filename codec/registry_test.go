package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/streamsync/media"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Lookup("opus")
	assert.False(t, ok)

	r.Register(Profile{
		Name: "opus", MIME: "audio/opus", Kind: media.KindAudio, Priority: 100,
		Capabilities: Capabilities{Encode: true, Decode: true, MaxBitrate: 510_000},
	})

	p, ok := r.Lookup("opus")
	require.True(t, ok)
	assert.Equal(t, "audio/opus", p.MIME)

	// Re-registration replaces the previous entry.
	r.Register(Profile{
		Name: "opus", MIME: "audio/opus", Kind: media.KindAudio, Priority: 50,
		Capabilities: Capabilities{Encode: true, Decode: true, MaxBitrate: 256_000},
	})
	p, ok = r.Lookup("opus")
	require.True(t, ok)
	assert.Equal(t, uint64(256_000), p.Capabilities.MaxBitrate)
	assert.Equal(t, 50, p.Priority)
}

func TestRegistryLookupReturnsCopy(t *testing.T) {
	r := NewDefaultRegistry()

	p, ok := r.Lookup("opus")
	require.True(t, ok)
	p.Priority = -1

	again, ok := r.Lookup("opus")
	require.True(t, ok)
	assert.Equal(t, 100, again.Priority, "mutating a lookup result must not affect the registry")
}

func TestRegistryProfilesSorted(t *testing.T) {
	r := NewDefaultRegistry()

	audio := r.Profiles(media.KindAudio)
	require.Len(t, audio, 2)
	assert.Equal(t, "opus", audio[0].Name)
	assert.Equal(t, "aac-lc", audio[1].Name)

	video := r.Profiles(media.KindVideo)
	require.NotEmpty(t, video)
	for i := 1; i < len(video); i++ {
		assert.GreaterOrEqual(t, video[i-1].Priority, video[i].Priority)
	}
}

func TestSelectFiltersByCapability(t *testing.T) {
	r := NewRegistry()
	r.Register(Profile{
		Name: "hw-encoder", Kind: media.KindVideo, Priority: 90,
		Capabilities: Capabilities{
			Encode: true, Decode: true, HWAccel: true,
			MaxWidth: 1920, MaxHeight: 1080, MaxBitrate: 1_500_000, MaxFramerate: 60,
		},
	})
	r.Register(Profile{
		Name: "sw-encoder", Kind: media.KindVideo, Priority: 70,
		Capabilities: Capabilities{
			Encode: true, Decode: true,
			MaxWidth: 1920, MaxHeight: 1080, MaxBitrate: 3_000_000, MaxFramerate: 30,
		},
	})

	// The hardware profile cannot cover a 2 Mbps target, so the software
	// profile wins even with a hardware preference in place.
	selected := r.Select(media.KindVideo, Constraints{
		TargetBitrate: 2_000_000,
		PreferHWAccel: true,
	})
	require.NotNil(t, selected)
	assert.Equal(t, "sw-encoder", selected.Name)

	// At a 1 Mbps target both qualify and the hardware bonus decides.
	selected = r.Select(media.KindVideo, Constraints{
		TargetBitrate: 1_000_000,
		PreferHWAccel: true,
	})
	require.NotNil(t, selected)
	assert.Equal(t, "hw-encoder", selected.Name)

	// A hard hardware requirement filters rather than scores.
	selected = r.Select(media.KindVideo, Constraints{
		TargetBitrate:  2_000_000,
		RequireHWAccel: true,
	})
	assert.Nil(t, selected)
}

func TestSelectConstraintFilters(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		name        string
		kind        media.StreamKind
		constraints Constraints
		expectNil   bool
		expected    string
	}{
		{
			name:        "decode-only profile excluded when encode required",
			kind:        media.KindVideo,
			constraints: Constraints{RequireEncode: true, Compatible: []string{"av1"}},
			expectNil:   true,
		},
		{
			name:        "decode-only profile usable for decode",
			kind:        media.KindVideo,
			constraints: Constraints{RequireDecode: true, Compatible: []string{"av1"}},
			expected:    "av1",
		},
		{
			name:        "resolution filter excludes small codecs",
			kind:        media.KindVideo,
			constraints: Constraints{Width: 3840, Height: 2160, TargetBitrate: 10_000_000},
			expected:    "vp9",
		},
		{
			name:        "audio target within opus range",
			kind:        media.KindAudio,
			constraints: Constraints{TargetBitrate: 400_000},
			expected:    "opus",
		},
		{
			name:        "no audio profile covers an absurd target",
			kind:        media.KindAudio,
			constraints: Constraints{TargetBitrate: 10_000_000},
			expectNil:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected := r.Select(tt.kind, tt.constraints)
			if tt.expectNil {
				assert.Nil(t, selected)
				return
			}
			require.NotNil(t, selected)
			assert.Equal(t, tt.expected, selected.Name)
		})
	}
}

func TestSelectCompatibilityRanking(t *testing.T) {
	r := NewDefaultRegistry()

	// Restricting to a compatibility list excludes everything else.
	selected := r.Select(media.KindVideo, Constraints{
		TargetBitrate: 1_000_000,
		Compatible:    []string{"vp8"},
	})
	require.NotNil(t, selected)
	assert.Equal(t, "vp8", selected.Name)
}

func TestSelectDeterministicTies(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"codec-b", "codec-a"} {
		r.Register(Profile{
			Name: name, Kind: media.KindAudio, Priority: 10,
			Capabilities: Capabilities{Encode: true, Decode: true, MaxBitrate: 128_000},
		})
	}

	// Identical capabilities and priority: the name breaks the tie the
	// same way every call.
	for i := 0; i < 5; i++ {
		selected := r.Select(media.KindAudio, Constraints{TargetBitrate: 64_000})
		require.NotNil(t, selected)
		assert.Equal(t, "codec-a", selected.Name)
	}
}
