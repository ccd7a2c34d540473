package codec

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/streamsync/media"
)

// Ladder rung count bounds. Requests outside this range are clamped.
const (
	MinRungs     = 3
	MaxRungs     = 6
	DefaultRungs = 5
)

// Rung is one step of an adaptive-bitrate ladder.
type Rung struct {
	Name      string
	Codec     *Profile
	Bitrate   uint64
	Width     int
	Height    int
	Framerate int
}

// Ladder is an ordered set of quality rungs with monotonically increasing
// bitrate, bounded above by the build-time maximum. Index 0 is the lowest
// quality.
type Ladder struct {
	Kind  media.StreamKind
	Rungs []Rung
}

// BuildLadder generates an adaptive-bitrate ladder anchored on a base
// codec and bounded above by maxBitrate.
//
// Rung bitrates halve per step downward from the maximum, each rung
// assigned the best codec Select returns for that rung's constraints
// (falling back to the base codec). Returns media.ErrInvariantViolation
// for a zero maxBitrate and ErrProfileNotFound for an unknown base codec;
// an unbuildable ladder is a construction-time fault, never a runtime one.
func (r *Registry) BuildLadder(baseCodec string, maxBitrate uint64, rungCount int) (*Ladder, error) {
	base, ok := r.Lookup(baseCodec)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, baseCodec)
	}
	if maxBitrate == 0 {
		return nil, fmt.Errorf("%w: ladder max bitrate must be positive", media.ErrInvariantViolation)
	}
	if rungCount < MinRungs {
		rungCount = MinRungs
	}
	if rungCount > MaxRungs {
		rungCount = MaxRungs
	}
	if base.Capabilities.MaxBitrate > 0 && maxBitrate > base.Capabilities.MaxBitrate {
		maxBitrate = base.Capabilities.MaxBitrate
	}

	ladder := &Ladder{Kind: base.Kind, Rungs: make([]Rung, 0, rungCount)}
	for i := 0; i < rungCount; i++ {
		bitrate := maxBitrate >> uint(rungCount-1-i)
		if bitrate == 0 {
			bitrate = 1
		}

		rung := Rung{Bitrate: bitrate}
		if base.Kind == media.KindVideo {
			rung.Width, rung.Height, rung.Framerate = resolutionFor(bitrate, base.Capabilities)
			rung.Name = fmt.Sprintf("%dp", rung.Height)
		} else {
			rung.Name = fmt.Sprintf("%dk", bitrate/1000)
		}

		selected := r.Select(base.Kind, Constraints{
			TargetBitrate: bitrate,
			Width:         rung.Width,
			Height:        rung.Height,
			Framerate:     rung.Framerate,
			PreferHWAccel: true,
		})
		if selected == nil {
			selected = base
		}
		rung.Codec = selected

		ladder.Rungs = append(ladder.Rungs, rung)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "BuildLadder",
		"base_codec":  baseCodec,
		"max_bitrate": maxBitrate,
		"rungs":       len(ladder.Rungs),
	}).Info("Quality ladder built")

	return ladder, nil
}

// resolutionFor maps a rung bitrate to a standard resolution and
// framerate, bounded by the base codec's capability envelope.
func resolutionFor(bitrate uint64, caps Capabilities) (width, height, framerate int) {
	switch {
	case bitrate < 400_000:
		width, height, framerate = 426, 240, 24
	case bitrate < 1_000_000:
		width, height, framerate = 640, 360, 30
	case bitrate < 2_500_000:
		width, height, framerate = 1280, 720, 30
	case bitrate < 5_000_000:
		width, height, framerate = 1920, 1080, 30
	default:
		width, height, framerate = 3840, 2160, 60
	}

	if caps.MaxWidth > 0 && width > caps.MaxWidth {
		width = caps.MaxWidth
	}
	if caps.MaxHeight > 0 && height > caps.MaxHeight {
		height = caps.MaxHeight
	}
	if caps.MaxFramerate > 0 && framerate > caps.MaxFramerate {
		framerate = caps.MaxFramerate
	}
	return width, height, framerate
}

// Len returns the number of rungs.
func (l *Ladder) Len() int {
	return len(l.Rungs)
}

// Rung returns the rung at idx, clamped into range.
func (l *Ladder) Rung(idx int) Rung {
	if idx < 0 {
		idx = 0
	}
	if idx >= len(l.Rungs) {
		idx = len(l.Rungs) - 1
	}
	return l.Rungs[idx]
}

// Valid reports whether the rung at idx satisfies the constraints.
func (l *Ladder) Valid(idx int, qc media.QualityConstraints) bool {
	if idx < 0 || idx >= len(l.Rungs) {
		return false
	}
	rung := l.Rungs[idx]
	if !qc.AllowsBitrate(rung.Bitrate) {
		return false
	}
	if l.Kind == media.KindVideo {
		if !qc.AllowsResolution(rung.Width, rung.Height) {
			return false
		}
		if qc.MaxFramerate > 0 && rung.Framerate > qc.MaxFramerate {
			return false
		}
	}
	return true
}

// LowestValid returns the lowest rung meeting the constraints.
func (l *Ladder) LowestValid(qc media.QualityConstraints) (int, bool) {
	for i := range l.Rungs {
		if l.Valid(i, qc) {
			return i, true
		}
	}
	return 0, false
}

// HighestValid returns the highest rung meeting the constraints.
func (l *Ladder) HighestValid(qc media.QualityConstraints) (int, bool) {
	for i := len(l.Rungs) - 1; i >= 0; i-- {
		if l.Valid(i, qc) {
			return i, true
		}
	}
	return 0, false
}

// NearestValid returns the valid rung closest to idx, preferring the
// lower side on equal distance.
func (l *Ladder) NearestValid(idx int, qc media.QualityConstraints) (int, bool) {
	if l.Valid(idx, qc) {
		return idx, true
	}
	for dist := 1; dist < len(l.Rungs); dist++ {
		if l.Valid(idx-dist, qc) {
			return idx - dist, true
		}
		if l.Valid(idx+dist, qc) {
			return idx + dist, true
		}
	}
	return 0, false
}

// HighestAffordable returns the highest rung whose bitrate fits within
// the given bandwidth budget, or false when even the lowest rung does not.
func (l *Ladder) HighestAffordable(budgetBps uint64) (int, bool) {
	best := -1
	for i := range l.Rungs {
		if l.Rungs[i].Bitrate <= budgetBps {
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}
