package buffer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/streamsync/media"
)

// Metrics is a snapshot of pool health counters.
type Metrics struct {
	Level         int           // Current number of buffered chunks
	Capacity      int           // Maximum number of buffered chunks
	UnderrunCount uint64        // Underrun events raised
	OverrunCount  uint64        // Admissions above the critical watermark
	LatencyAvg    time.Duration // Smoothed chunk residency time
	Jitter        time.Duration // Smoothed inter-arrival deviation
	ThroughputBps float64       // Smoothed delivery throughput
}

// PinFunc reports whether a chunk is pinned by an active sync point and
// therefore exempt from eviction.
type PinFunc func(streamID string, sequence uint64) bool

// entry pairs an admitted chunk with its arrival time for age scoring.
type entry struct {
	chunk   *media.Chunk
	arrived time.Time
}

// Pool is the ordered jitter buffer for a single stream.
//
// All pool state is guarded by a single mutex; access is serialized per
// stream per the streamsync concurrency model. Chunks are kept sorted by
// timestamp with sequence-number tie-breaking, so retrieval is always in
// non-decreasing timestamp order.
type Pool struct {
	mu sync.Mutex

	streamID   string
	kind       media.StreamKind
	strategy   Strategy
	capacity   int
	watermarks Watermarks
	config     *Config

	entries   []entry
	delivered map[uint64]struct{}

	// Underrun tracking: zero means the pool is not starving.
	notReadySince time.Time

	// Metrics state
	underrunCount uint64
	overrunCount  uint64
	latencyAvg    time.Duration
	jitter        time.Duration
	throughputBps float64
	lastArrival   time.Time
	lastDelivery  time.Time

	pin           PinFunc
	onPinConflict func(streamID string, sequence uint64)

	timeProvider media.TimeProvider
}

// newPool constructs a pool for one stream, deriving capacity from the
// strategy and stream kind and watermarks from the configured fractions.
//
// Returns media.ErrInvariantViolation when the derived watermarks do not
// satisfy low < high < critical <= capacity. This is the only fatal
// condition in the package and can only arise from misconfiguration.
func newPool(streamID string, kind media.StreamKind, strategy Strategy, config *Config, tp media.TimeProvider) (*Pool, error) {
	capacity := config.CapacityFor(strategy, kind)

	watermarks, err := deriveWatermarks(capacity, config.Fractions)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "newPool",
		"stream_id": streamID,
		"kind":      kind.String(),
		"strategy":  strategy.String(),
		"capacity":  capacity,
		"low":       watermarks.Low,
		"high":      watermarks.High,
		"critical":  watermarks.Critical,
	}).Info("Buffer pool created")

	return &Pool{
		streamID:     streamID,
		kind:         kind,
		strategy:     strategy,
		capacity:     capacity,
		watermarks:   watermarks,
		config:       config,
		entries:      make([]entry, 0, capacity),
		delivered:    make(map[uint64]struct{}),
		timeProvider: tp,
	}, nil
}

// deriveWatermarks computes absolute watermark levels from capacity and
// validates the watermark ordering invariant.
func deriveWatermarks(capacity int, fractions WatermarkFractions) (Watermarks, error) {
	if capacity <= 0 {
		return Watermarks{}, fmt.Errorf("%w: pool capacity %d must be positive",
			media.ErrInvariantViolation, capacity)
	}

	w := Watermarks{
		Low:      int(float64(capacity) * fractions.Low),
		High:     int(float64(capacity) * fractions.High),
		Critical: int(float64(capacity) * fractions.Critical),
	}
	if w.Low < 1 {
		w.Low = 1
	}

	if !(w.Low < w.High && w.High < w.Critical && w.Critical <= capacity) {
		return Watermarks{}, fmt.Errorf(
			"%w: watermarks low=%d high=%d critical=%d capacity=%d violate ordering",
			media.ErrInvariantViolation, w.Low, w.High, w.Critical, capacity)
	}

	return w, nil
}

// Add inserts a chunk at its sorted position.
//
// Returns false when the pool is full and eviction cannot free enough
// space; this is an admission result, not an error. The dropped count of
// any eviction performed to make room is returned for event reporting.
func (p *Pool) Add(chunk *media.Chunk, now time.Time) (admitted bool, dropped int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config.VerifyDigests && !p.checkDigest(chunk) {
		logrus.WithFields(logrus.Fields{
			"function":  "Add",
			"stream_id": p.streamID,
			"sequence":  chunk.Sequence,
		}).Warn("Rejecting chunk with mismatched payload digest")
		return false, 0
	}

	if len(p.entries) >= p.capacity {
		freed := p.evictLocked(1, now)
		dropped = freed
		if len(p.entries) >= p.capacity {
			logrus.WithFields(logrus.Fields{
				"function":  "Add",
				"stream_id": p.streamID,
				"sequence":  chunk.Sequence,
				"level":     len(p.entries),
			}).Warn("Chunk admission rejected, eviction could not free space")
			return false, dropped
		}
	}

	p.insertLocked(chunk, now)
	p.updateArrivalMetricsLocked(now)

	if len(p.entries) > p.watermarks.Critical {
		p.overrunCount++
	}

	// New data may clear a pending starvation window.
	if !p.notReadySince.IsZero() && p.hasEligibleLocked() {
		p.notReadySince = time.Time{}
	}

	return true, dropped
}

// insertLocked places the chunk at its sorted position using binary search
// on (timestamp, sequence).
func (p *Pool) insertLocked(chunk *media.Chunk, now time.Time) {
	idx := sort.Search(len(p.entries), func(i int) bool {
		return !p.entries[i].chunk.Before(chunk)
	})
	p.entries = append(p.entries, entry{})
	copy(p.entries[idx+1:], p.entries[idx:])
	p.entries[idx] = entry{chunk: chunk, arrived: now}
}

// Next returns the earliest chunk whose timestamp is at or before current
// and whose dependencies have all been delivered.
//
// Outcomes:
//   - (chunk, nil): a chunk is due and delivered
//   - (nil, nil): nothing is due (pool empty or all data buffered ahead)
//   - (nil, media.ErrDependencyUnresolved): a chunk is due but held pending
//
// The starvation window used for underrun detection covers both the
// empty-pool and held-pending outcomes; data buffered ahead of the playout
// position is healthy and does not arm it.
func (p *Pool) Next(current time.Duration, now time.Time) (*media.Chunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		p.armStarvationLocked(now)
		return nil, nil
	}

	for i := range p.entries {
		c := p.entries[i].chunk
		if c.Timestamp > current {
			// Data is buffered ahead of playout; not starving.
			p.notReadySince = time.Time{}
			return nil, nil
		}
		if !p.dependenciesMetLocked(c) {
			p.armStarvationLocked(now)
			return nil, fmt.Errorf("%w: chunk seq=%d stream=%s",
				media.ErrDependencyUnresolved, c.Sequence, p.streamID)
		}

		arrived := p.entries[i].arrived
		p.entries = append(p.entries[:i], p.entries[i+1:]...)
		p.delivered[c.Sequence] = struct{}{}
		p.notReadySince = time.Time{}
		p.updateDeliveryMetricsLocked(c, arrived, now)
		return c, nil
	}

	// Every buffered chunk is due but blocked by dependencies.
	p.armStarvationLocked(now)
	return nil, fmt.Errorf("%w: all due chunks held pending on stream %s",
		media.ErrDependencyUnresolved, p.streamID)
}

// hasEligibleLocked reports whether any buffered chunk has all its
// dependencies delivered.
func (p *Pool) hasEligibleLocked() bool {
	for i := range p.entries {
		if p.dependenciesMetLocked(p.entries[i].chunk) {
			return true
		}
	}
	return false
}

// dependenciesMetLocked reports whether every dependency of the chunk has
// already been delivered.
func (p *Pool) dependenciesMetLocked(c *media.Chunk) bool {
	for _, dep := range c.Dependencies {
		if _, ok := p.delivered[dep]; !ok {
			return false
		}
	}
	return true
}

// armStarvationLocked starts the starvation window if not already running.
func (p *Pool) armStarvationLocked(now time.Time) {
	if p.notReadySince.IsZero() {
		p.notReadySince = now
	}
}

// CheckUnderrun reports whether the pool has been starving past the grace
// period while below its low watermark. A reported underrun re-arms the
// window so repeated checks do not raise an event storm.
func (p *Pool) CheckUnderrun(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.notReadySince.IsZero() || len(p.entries) >= p.watermarks.Low {
		return false
	}
	if now.Sub(p.notReadySince) < p.config.UnderrunGrace {
		return false
	}

	p.underrunCount++
	p.notReadySince = now

	logrus.WithFields(logrus.Fields{
		"function":       "CheckUnderrun",
		"stream_id":      p.streamID,
		"level":          len(p.entries),
		"low_watermark":  p.watermarks.Low,
		"underrun_count": p.underrunCount,
	}).Warn("Buffer underrun detected")

	return true
}

// evictLocked frees space for needed chunks by dropping the lowest-value
// entries first. Chunks pinned by an active sync point are never evicted;
// if pins prevent freeing enough space the pin-conflict hook is invoked so
// the sync coordinator can degrade the session instead.
func (p *Pool) evictLocked(needed int, now time.Time) int {
	type candidate struct {
		idx   int
		score float64
	}

	candidates := make([]candidate, 0, len(p.entries))
	pinnedBlocked := false
	for i := range p.entries {
		c := p.entries[i].chunk
		if p.pin != nil && p.pin(p.streamID, c.Sequence) {
			pinnedBlocked = true
			continue
		}
		age := now.Sub(p.entries[i].arrived).Seconds()
		score := p.config.AgeWeight * age
		score -= p.config.PriorityWeight * float64(c.Priority)
		if p.hasDependentsLocked(c.Sequence) {
			score -= p.config.DependencyWeight
		}
		candidates = append(candidates, candidate{idx: i, score: score})
	}

	// Oldest, lowest-priority, dependency-free chunks go first. Equal
	// scores fall back to buffer order so eviction stays deterministic.
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return candidates[a].idx < candidates[b].idx
	})

	if len(candidates) > needed {
		candidates = candidates[:needed]
	}

	drop := make(map[int]struct{}, len(candidates))
	for _, c := range candidates {
		drop[c.idx] = struct{}{}
	}

	kept := p.entries[:0]
	freed := 0
	for i := range p.entries {
		if _, ok := drop[i]; ok {
			freed++
			continue
		}
		kept = append(kept, p.entries[i])
	}
	p.entries = kept

	if freed < needed && pinnedBlocked && p.onPinConflict != nil {
		for i := range p.entries {
			seq := p.entries[i].chunk.Sequence
			if p.pin != nil && p.pin(p.streamID, seq) {
				p.onPinConflict(p.streamID, seq)
				break
			}
		}
	}

	if freed > 0 {
		logrus.WithFields(logrus.Fields{
			"function":  "evictLocked",
			"stream_id": p.streamID,
			"freed":     freed,
			"needed":    needed,
			"level":     len(p.entries),
		}).Debug("Evicted chunks to free pool space")
	}

	return freed
}

// hasDependentsLocked reports whether any buffered chunk depends on the
// given sequence number.
func (p *Pool) hasDependentsLocked(sequence uint64) bool {
	for i := range p.entries {
		for _, dep := range p.entries[i].chunk.Dependencies {
			if dep == sequence {
				return true
			}
		}
	}
	return false
}

// Flush drops all buffered chunks, resets metrics, and returns the number
// removed. Flushing an already-empty pool returns zero.
func (p *Pool) Flush() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := len(p.entries)
	p.entries = p.entries[:0]
	p.delivered = make(map[uint64]struct{})
	p.notReadySince = time.Time{}
	p.underrunCount = 0
	p.overrunCount = 0
	p.latencyAvg = 0
	p.jitter = 0
	p.throughputBps = 0
	p.lastArrival = time.Time{}
	p.lastDelivery = time.Time{}

	logrus.WithFields(logrus.Fields{
		"function":  "Flush",
		"stream_id": p.streamID,
		"removed":   count,
	}).Info("Buffer pool flushed")

	return count
}

// Resize changes pool capacity, rederiving watermarks from the configured
// fractions. Shrinking below the current level evicts the overflow.
func (p *Pool) Resize(capacity int, now time.Time) (dropped int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	watermarks, err := deriveWatermarks(capacity, p.config.Fractions)
	if err != nil {
		return 0, err
	}

	if over := len(p.entries) - capacity; over > 0 {
		dropped = p.evictLocked(over, now)
	}

	p.capacity = capacity
	p.watermarks = watermarks

	logrus.WithFields(logrus.Fields{
		"function":  "Resize",
		"stream_id": p.streamID,
		"capacity":  capacity,
		"dropped":   dropped,
	}).Info("Buffer pool resized")

	return dropped, nil
}

// Metrics returns a snapshot of the pool's health counters.
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Metrics{
		Level:         len(p.entries),
		Capacity:      p.capacity,
		UnderrunCount: p.underrunCount,
		OverrunCount:  p.overrunCount,
		LatencyAvg:    p.latencyAvg,
		Jitter:        p.jitter,
		ThroughputBps: p.throughputBps,
	}
}

// Level returns the current number of buffered chunks.
func (p *Pool) Level() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Capacity returns the maximum number of buffered chunks.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// Watermarks returns the pool's absolute watermark levels.
func (p *Pool) Watermarks() Watermarks {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watermarks
}

// ewmaWeight controls smoothing for rolling pool metrics, matching the
// 1/16 gain used for RTP jitter estimation in RFC 3550.
const ewmaWeight = 1.0 / 16.0

// updateArrivalMetricsLocked folds a new arrival into the jitter estimate.
func (p *Pool) updateArrivalMetricsLocked(now time.Time) {
	if !p.lastArrival.IsZero() {
		delta := now.Sub(p.lastArrival)
		diff := delta - p.jitter
		if diff < 0 {
			diff = -diff
		}
		p.jitter += time.Duration(float64(diff-p.jitter) * ewmaWeight)
		if p.jitter < 0 {
			p.jitter = 0
		}
	}
	p.lastArrival = now
}

// updateDeliveryMetricsLocked folds a delivery into latency and throughput.
func (p *Pool) updateDeliveryMetricsLocked(c *media.Chunk, arrived, now time.Time) {
	residency := now.Sub(arrived)
	if p.latencyAvg == 0 {
		p.latencyAvg = residency
	} else {
		p.latencyAvg += time.Duration(float64(residency-p.latencyAvg) * ewmaWeight)
	}

	if !p.lastDelivery.IsZero() {
		interval := now.Sub(p.lastDelivery).Seconds()
		if interval > 0 {
			instant := float64(c.Size()*8) / interval
			if p.throughputBps == 0 {
				p.throughputBps = instant
			} else {
				p.throughputBps += (instant - p.throughputBps) * ewmaWeight
			}
		}
	}
	p.lastDelivery = now
}
