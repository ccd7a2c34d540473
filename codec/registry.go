package codec

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/streamsync/media"
)

// Selection scoring weights. Bitrate fit dominates; hardware acceleration
// and registry priority break close calls; compatibility-list rank nudges
// explicitly preferred codecs ahead.
const (
	fitWeight           = 1.0
	hwAccelBonus        = 0.25
	priorityWeight      = 0.01
	compatibilityWeight = 0.1
)

// Registry catalogs codec profiles and selects codecs against constraints.
//
// The registry is safely shared read-only across all streams after
// startup registration; mutation is serialized by the internal lock.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewRegistry creates an empty codec registry.
func NewRegistry() *Registry {
	return &Registry{
		profiles: make(map[string]*Profile),
	}
}

// NewDefaultRegistry creates a registry preloaded with the built-in
// profile set covering the common streaming codecs.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range builtinProfiles() {
		r.Register(p)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewDefaultRegistry",
		"profiles": len(r.profiles),
	}).Info("Codec registry loaded with built-in profiles")

	return r
}

// Register upserts a profile by name. Registration is idempotent:
// re-registering a name replaces the previous entry.
func (r *Registry) Register(profile Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := profile
	r.profiles[p.Name] = &p

	logrus.WithFields(logrus.Fields{
		"function": "Register",
		"name":     p.Name,
		"mime":     p.MIME,
		"kind":     p.Kind.String(),
		"hw_accel": p.Capabilities.HWAccel,
	}).Debug("Codec profile registered")
}

// Lookup returns the profile registered under name.
func (r *Registry) Lookup(name string) (*Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[name]
	if !ok {
		return nil, false
	}
	copied := *p
	return &copied, true
}

// Profiles returns all registered profiles for a stream kind, sorted by
// descending priority.
func (r *Registry) Profiles(kind media.StreamKind) []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		if p.Kind == kind {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Priority != out[b].Priority {
			return out[a].Priority > out[b].Priority
		}
		return out[a].Name < out[b].Name
	})
	return out
}

// Select returns the best profile for a stream kind under the given
// constraints, or nil when no profile survives the constraint filter.
//
// Survivors are scored as a weighted sum of fit to the target bitrate,
// hardware-acceleration bonus, registry priority, and compatibility-list
// rank; ties break on registry priority, then name for determinism.
func (r *Registry) Select(kind media.StreamKind, c Constraints) *Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Profile
	var bestScore float64

	for _, p := range r.profiles {
		if !p.MeetsConstraints(kind, c) {
			continue
		}
		score := r.score(p, c)
		if best == nil || score > bestScore ||
			(score == bestScore && betterTie(p, best)) {
			best = p
			bestScore = score
		}
	}

	if best == nil {
		logrus.WithFields(logrus.Fields{
			"function":       "Select",
			"kind":           kind.String(),
			"target_bitrate": c.TargetBitrate,
		}).Debug("No codec profile meets constraints")
		return nil
	}

	copied := *best
	return &copied
}

// score computes the weighted selection score for a surviving profile.
func (r *Registry) score(p *Profile, c Constraints) float64 {
	score := 0.0

	// Fit to target bitrate: a cap close above the target scores higher
	// than a wildly oversized one.
	if c.TargetBitrate > 0 && p.Capabilities.MaxBitrate > 0 {
		score += fitWeight * float64(c.TargetBitrate) / float64(p.Capabilities.MaxBitrate)
	}

	if p.Capabilities.HWAccel && (c.PreferHWAccel || c.RequireHWAccel) {
		score += hwAccelBonus
	}

	score += priorityWeight * float64(p.Priority)

	if rank := compatibilityRank(p.Name, c.Compatible); rank >= 0 {
		score += compatibilityWeight / float64(rank+1)
	}

	return score
}

// betterTie breaks equal scores by registry priority, then name.
func betterTie(a, b *Profile) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Name < b.Name
}

// builtinProfiles returns the default profile set registered at startup.
func builtinProfiles() []Profile {
	return []Profile{
		{
			Name: "opus", MIME: "audio/opus", Kind: media.KindAudio, Priority: 100,
			Capabilities: Capabilities{Encode: true, Decode: true, MaxBitrate: 510_000},
		},
		{
			Name: "aac-lc", MIME: "audio/aac", Kind: media.KindAudio, Priority: 80,
			Capabilities: Capabilities{Encode: true, Decode: true, MaxBitrate: 320_000},
		},
		{
			Name: "h264-hw", MIME: "video/avc", Kind: media.KindVideo, Priority: 90,
			Capabilities: Capabilities{
				Encode: true, Decode: true, HWAccel: true,
				MaxWidth: 1920, MaxHeight: 1080, MaxBitrate: 8_000_000, MaxFramerate: 60,
			},
		},
		{
			Name: "h264-sw", MIME: "video/avc", Kind: media.KindVideo, Priority: 70,
			Capabilities: Capabilities{
				Encode: true, Decode: true,
				MaxWidth: 1920, MaxHeight: 1080, MaxBitrate: 6_000_000, MaxFramerate: 30,
			},
		},
		{
			Name: "vp8", MIME: "video/vp8", Kind: media.KindVideo, Priority: 60,
			Capabilities: Capabilities{
				Encode: true, Decode: true,
				MaxWidth: 1280, MaxHeight: 720, MaxBitrate: 2_000_000, MaxFramerate: 30,
			},
		},
		{
			Name: "vp9", MIME: "video/vp9", Kind: media.KindVideo, Priority: 75,
			Capabilities: Capabilities{
				Encode: true, Decode: true,
				MaxWidth: 3840, MaxHeight: 2160, MaxBitrate: 12_000_000, MaxFramerate: 60,
			},
		},
		{
			Name: "av1", MIME: "video/av1", Kind: media.KindVideo, Priority: 50,
			Capabilities: Capabilities{
				Encode: false, Decode: true,
				MaxWidth: 3840, MaxHeight: 2160, MaxBitrate: 15_000_000, MaxFramerate: 60,
			},
		},
	}
}
