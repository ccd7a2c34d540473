package adapt

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/streamsync/codec"
	"github.com/opd-ai/streamsync/media"
)

// Snapshot is the immutable context view handed to a scoring strategy.
type Snapshot struct {
	StreamID    string
	Kind        media.StreamKind
	Network     media.NetworkConditions
	Device      media.DeviceCapabilities
	Prefs       media.UserPreferences
	Constraints media.QualityConstraints
	CurrentRung int
	Now         time.Time
}

// Scorer is a pluggable quality scoring strategy.
//
// Implementations compute a candidate target rung from a context
// snapshot. The rule-based scorer is the default, mandatory
// implementation; predictive scorers can be swapped in without touching
// the evaluation loop.
type Scorer interface {
	// Name identifies the strategy in decisions and logs.
	Name() string

	// Score returns the candidate rung index and the scorer's own
	// confidence in it (0.0-1.0).
	Score(snap Snapshot, ladder *codec.Ladder) (rung int, confidence float64)
}

// Rule scorer tuning. Headroom keeps the target bitrate comfortably under
// the estimated bandwidth; the loss knee converts packet loss into an
// additional bandwidth discount.
const (
	defaultHeadroom  = 0.8
	lossDiscountKnee = 5.0 // Packet loss % at which the budget halves
)

// RuleScorer is the default weighted rule set: bandwidth headroom, device
// capability fit, user priority weighting, and latency budget.
type RuleScorer struct {
	// Headroom is the fraction of estimated bandwidth spent on media
	// (default 0.8 when zero).
	Headroom float64
}

// Name identifies the rule-based strategy.
func (rs *RuleScorer) Name() string {
	return "rules"
}

// Score derives the candidate rung.
//
// The bandwidth budget is the sampled bandwidth, discounted by headroom
// and packet loss; the candidate starts at the highest affordable rung,
// is capped by device resolution fit, and is biased downward when the
// latency budget is exceeded or the device is battery constrained.
func (rs *RuleScorer) Score(snap Snapshot, ladder *codec.Ladder) (int, float64) {
	headroom := rs.Headroom
	if headroom <= 0 {
		headroom = defaultHeadroom
	}

	budget := float64(snap.Network.BandwidthBps) * headroom
	if snap.Network.PacketLossPct > 0 {
		budget *= lossDiscountKnee / (lossDiscountKnee + snap.Network.PacketLossPct)
	}

	candidate, ok := ladder.HighestAffordable(uint64(budget))
	if !ok {
		// Even the lowest rung exceeds the budget; the engine treats
		// this as emergency territory.
		return 0, 0.3
	}

	candidate = rs.capByDevice(candidate, snap, ladder)
	candidate = rs.applyBiases(candidate, snap, ladder)

	confidence := rs.marginConfidence(budget, ladder.Rung(candidate).Bitrate)

	logrus.WithFields(logrus.Fields{
		"function":   "Score",
		"stream_id":  snap.StreamID,
		"budget_bps": uint64(budget),
		"candidate":  candidate,
		"confidence": confidence,
	}).Debug("Rule scorer produced candidate rung")

	return candidate, confidence
}

// capByDevice lowers the candidate until its resolution and framerate fit
// the rendering device.
func (rs *RuleScorer) capByDevice(candidate int, snap Snapshot, ladder *codec.Ladder) int {
	if snap.Kind != media.KindVideo {
		return candidate
	}
	for candidate > 0 {
		rung := ladder.Rung(candidate)
		fits := true
		if snap.Device.MaxWidth > 0 && rung.Width > snap.Device.MaxWidth {
			fits = false
		}
		if snap.Device.MaxHeight > 0 && rung.Height > snap.Device.MaxHeight {
			fits = false
		}
		if snap.Device.MaxFramerate > 0 && rung.Framerate > snap.Device.MaxFramerate {
			fits = false
		}
		if fits {
			break
		}
		candidate--
	}
	return candidate
}

// applyBiases nudges the candidate down for latency overruns and power
// pressure, weighted by user preferences.
func (rs *RuleScorer) applyBiases(candidate int, snap Snapshot, ladder *codec.Ladder) int {
	if candidate > 0 && snap.Constraints.MaxLatency > 0 {
		pathDelay := snap.Network.RTT/2 + snap.Network.Jitter
		if pathDelay > snap.Constraints.MaxLatency && snap.Prefs.PreferLatency >= snap.Prefs.PreferQuality {
			candidate--
		}
	}

	if candidate > 0 && (snap.Device.PowerSaver ||
		(snap.Device.BatteryLevel > 0 && snap.Device.BatteryLevel < 0.2)) {
		if snap.Prefs.PreferBattery > 0 {
			candidate--
		}
	}

	return candidate
}

// marginConfidence maps the budget margin over the chosen rung's bitrate
// into a confidence value: a tight fit scores lower than ample headroom.
func (rs *RuleScorer) marginConfidence(budget float64, bitrate uint64) float64 {
	if bitrate == 0 || budget <= 0 {
		return 0.5
	}
	margin := (budget - float64(bitrate)) / budget
	conf := 0.6 + margin
	if conf > 1.0 {
		conf = 1.0
	}
	if conf < 0.3 {
		conf = 0.3
	}
	return conf
}
