package codec

import (
	"github.com/opd-ai/streamsync/media"
)

// Capabilities is the capability envelope of a codec profile.
type Capabilities struct {
	Encode       bool
	Decode       bool
	HWAccel      bool
	MaxWidth     int
	MaxHeight    int
	MaxBitrate   uint64
	MaxFramerate int
}

// Profile is a static codec registry entry, loaded at startup.
type Profile struct {
	Name         string
	MIME         string
	Kind         media.StreamKind
	Capabilities Capabilities
	Priority     int // Registry preference, higher wins ties
}

// Constraints bound codec selection for one quality target.
//
// TargetBitrate and the resolution/framerate fields are requirements the
// codec's capability envelope must cover. RequireHWAccel filters to
// hardware-accelerated profiles; PreferHWAccel only awards a scoring
// bonus. A non-empty Compatible list restricts selection to the named
// profiles, ranked by list position.
type Constraints struct {
	TargetBitrate  uint64
	Width          int
	Height         int
	Framerate      int
	RequireEncode  bool
	RequireDecode  bool
	RequireHWAccel bool
	PreferHWAccel  bool
	Compatible     []string
}

// MeetsConstraints reports whether the profile's capability envelope
// covers the constraint requirements.
func (p *Profile) MeetsConstraints(kind media.StreamKind, c Constraints) bool {
	if p.Kind != kind {
		return false
	}
	if c.RequireEncode && !p.Capabilities.Encode {
		return false
	}
	if c.RequireDecode && !p.Capabilities.Decode {
		return false
	}
	if c.RequireHWAccel && !p.Capabilities.HWAccel {
		return false
	}
	if c.TargetBitrate > 0 && p.Capabilities.MaxBitrate > 0 && c.TargetBitrate > p.Capabilities.MaxBitrate {
		return false
	}
	if c.Width > 0 && p.Capabilities.MaxWidth > 0 && c.Width > p.Capabilities.MaxWidth {
		return false
	}
	if c.Height > 0 && p.Capabilities.MaxHeight > 0 && c.Height > p.Capabilities.MaxHeight {
		return false
	}
	if c.Framerate > 0 && p.Capabilities.MaxFramerate > 0 && c.Framerate > p.Capabilities.MaxFramerate {
		return false
	}
	if len(c.Compatible) > 0 && compatibilityRank(p.Name, c.Compatible) < 0 {
		return false
	}
	return true
}

// compatibilityRank returns the position of name in the compatibility
// list, or -1 when absent. Earlier positions rank higher.
func compatibilityRank(name string, compatible []string) int {
	for i, n := range compatible {
		if n == name {
			return i
		}
	}
	return -1
}
