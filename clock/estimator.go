package clock

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Offset estimation constants. The fixed smoothing gain matches the
// simplified Kalman update used for playout clock discipline; samples with
// excessive round-trip time or residual are rejected as congestion noise
// or clock jumps.
const (
	estimatorGain = 0.1
	maxSampleRTT  = 100 * time.Millisecond
	maxResidual   = 50 * time.Millisecond
)

// estimator tracks the offset and drift of one stream clock relative to
// the master reference. Not safe for concurrent use; the coordinator
// serializes access.
type estimator struct {
	offset      time.Duration
	drift       float64 // dimensionless rate of offset change
	lastSample  time.Time
	sampleCount int
}

// computeOffset derives round-trip time and clock offset from a
// four-timestamp exchange: t1 local send, t2 remote receive, t3 remote
// send, t4 local receive.
func computeOffset(t1, t2, t3, t4 time.Time) (rtt, offset time.Duration) {
	rtt = t4.Sub(t1) - t3.Sub(t2)
	offset = (t2.Sub(t1) + t3.Sub(t4)) / 2
	return rtt, offset
}

// observe folds one offset measurement into the estimate.
//
// The first sample initializes the offset, the second initializes drift,
// and subsequent samples are blended through drift prediction plus a
// fixed-gain residual correction. Returns false when the sample was
// rejected (high RTT, non-monotonic time, or residual outlier).
func (e *estimator) observe(measured, rtt time.Duration, at time.Time) bool {
	if rtt > maxSampleRTT {
		logrus.WithFields(logrus.Fields{
			"function": "observe",
			"rtt":      rtt,
		}).Debug("Discarding clock sample with high RTT")
		return false
	}

	if e.sampleCount == 0 {
		e.offset = measured
		e.lastSample = at
		e.sampleCount++
		return true
	}

	dt := at.Sub(e.lastSample)
	if dt <= 0 {
		logrus.WithFields(logrus.Fields{
			"function": "observe",
		}).Debug("Discarding clock sample with non-monotonic time")
		return false
	}

	if e.sampleCount == 1 {
		e.drift = float64(measured-e.offset) / float64(dt)
		e.offset = measured
		e.lastSample = at
		e.sampleCount++
		return true
	}

	predicted := e.offset + time.Duration(e.drift*float64(dt))
	residual := measured - predicted
	if residual > maxResidual || residual < -maxResidual {
		logrus.WithFields(logrus.Fields{
			"function": "observe",
			"residual": residual,
		}).Debug("Discarding clock sample with outlier residual")
		return false
	}

	e.offset = predicted + time.Duration(estimatorGain*float64(residual))
	e.drift += estimatorGain * float64(residual) / float64(dt)
	e.lastSample = at
	e.sampleCount++
	return true
}
