package buffer

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/streamsync/media"
)

// Manager owns the buffer pools for all active streams.
//
// One pool exists per active stream, created on stream start and destroyed
// on stream end or explicit flush. The manager map is guarded by its own
// read-write mutex; each pool serializes its own operations, so chunk
// traffic for different streams never contends.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool

	config *Config

	// Event hooks wired by the engine. Invoked without holding the
	// manager lock.
	onUnderrun    func(streamID string)
	onEviction    func(streamID string, dropped int)
	onPinConflict func(streamID string, sequence uint64)

	// Pin checker consulted during eviction; wired to the sync
	// coordinator's sync point table.
	pin PinFunc

	// Time provider for deterministic testing.
	// If nil, media.RealTimeProvider is used.
	timeProvider media.TimeProvider
}

// NewManager creates a buffer pool manager.
//
// Parameters:
//   - config: Pool sizing and eviction configuration (nil uses DefaultConfig())
//
// Returns:
//   - *Manager: The new manager instance
func NewManager(config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}

	logrus.WithFields(logrus.Fields{
		"function":       "NewManager",
		"video_factor":   config.VideoCapacityFactor,
		"underrun_grace": config.UnderrunGrace,
		"verify_digests": config.VerifyDigests,
	}).Info("Creating buffer pool manager")

	return &Manager{
		pools:        make(map[string]*Pool),
		config:       config,
		timeProvider: media.RealTimeProvider{},
	}
}

// SetCallbacks configures buffer event hooks.
//
// Parameters:
//   - onUnderrun: Called when a pool underruns
//   - onEviction: Called after an admission evicted chunks
//   - onPinConflict: Called when eviction is blocked by a pinned chunk
func (m *Manager) SetCallbacks(
	onUnderrun func(streamID string),
	onEviction func(streamID string, dropped int),
	onPinConflict func(streamID string, sequence uint64),
) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onUnderrun = onUnderrun
	m.onEviction = onEviction
	m.onPinConflict = onPinConflict
}

// SetPinChecker installs the sync-point pin check used during eviction.
func (m *Manager) SetPinChecker(pin PinFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pin = pin
	for _, p := range m.pools {
		p.mu.Lock()
		p.pin = pin
		p.onPinConflict = m.onPinConflict
		p.mu.Unlock()
	}
}

// SetTimeProvider sets the time provider for deterministic testing.
func (m *Manager) SetTimeProvider(tp media.TimeProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tp == nil {
		tp = media.RealTimeProvider{}
	}
	m.timeProvider = tp
}

// CreatePool creates the pool for a newly started stream.
//
// Capacity is derived from the strategy and stream kind (video pools scale
// by the configured factor) and watermarks from the configured fractions.
//
// Returns media.ErrStreamAlreadyExists when the stream already has a pool
// and media.ErrInvariantViolation when the derived watermarks are invalid.
func (m *Manager) CreatePool(streamID string, kind media.StreamKind, strategy Strategy) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pools[streamID]; exists {
		return nil, fmt.Errorf("%w: %s", media.ErrStreamAlreadyExists, streamID)
	}

	pool, err := newPool(streamID, kind, strategy, m.config, m.timeProvider)
	if err != nil {
		return nil, err
	}
	pool.pin = m.pin
	pool.onPinConflict = m.onPinConflict

	m.pools[streamID] = pool
	return pool, nil
}

// AddChunk admits a chunk into the stream's pool.
//
// Returns false (with a nil error) when the pool is full and eviction
// cannot free enough space. The only error condition is an unknown stream.
// An eviction performed to make room is reported through the eviction hook.
func (m *Manager) AddChunk(streamID string, chunk *media.Chunk) (bool, error) {
	pool, err := m.pool(streamID)
	if err != nil {
		return false, err
	}

	admitted, dropped := pool.Add(chunk, m.now())
	if dropped > 0 && m.evictionHook() != nil {
		m.evictionHook()(streamID, dropped)
	}
	return admitted, nil
}

// NextChunk returns the earliest deliverable chunk at the given playout
// position. See Pool.Next for the outcome contract. A starvation window
// that has exceeded the grace period raises the underrun hook.
func (m *Manager) NextChunk(streamID string, current time.Duration) (*media.Chunk, error) {
	pool, err := m.pool(streamID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	chunk, nextErr := pool.Next(current, now)

	if pool.CheckUnderrun(now) && m.underrunHook() != nil {
		m.underrunHook()(streamID)
	}

	return chunk, nextErr
}

// Flush drops all chunks from the stream's pool and resets its metrics.
// Returns the number of chunks removed; a second consecutive flush
// returns zero.
func (m *Manager) Flush(streamID string) (int, error) {
	pool, err := m.pool(streamID)
	if err != nil {
		return 0, err
	}
	return pool.Flush(), nil
}

// DestroyPool removes the stream's pool entirely. In-flight operations for
// the stream observe it as gone on their next call.
func (m *Manager) DestroyPool(streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, exists := m.pools[streamID]
	if !exists {
		return fmt.Errorf("%w: %s", media.ErrStreamNotFound, streamID)
	}
	pool.Flush()
	delete(m.pools, streamID)

	logrus.WithFields(logrus.Fields{
		"function":  "DestroyPool",
		"stream_id": streamID,
	}).Info("Buffer pool destroyed")

	return nil
}

// ResizePool changes a pool's capacity, used when adaptation decisions are
// applied back to the buffering layer. Shrinking evicts overflow chunks and
// reports them through the eviction hook.
func (m *Manager) ResizePool(streamID string, capacity int) error {
	pool, err := m.pool(streamID)
	if err != nil {
		return err
	}

	dropped, err := pool.Resize(capacity, m.now())
	if err != nil {
		return err
	}
	if dropped > 0 && m.evictionHook() != nil {
		m.evictionHook()(streamID, dropped)
	}
	return nil
}

// PoolMetrics returns a metrics snapshot for the stream's pool.
func (m *Manager) PoolMetrics(streamID string) (Metrics, error) {
	pool, err := m.pool(streamID)
	if err != nil {
		return Metrics{}, err
	}
	return pool.Metrics(), nil
}

// ActiveStreams returns the IDs of all streams with a live pool.
func (m *Manager) ActiveStreams() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) pool(streamID string) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pool, exists := m.pools[streamID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", media.ErrStreamNotFound, streamID)
	}
	return pool, nil
}

func (m *Manager) now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeProvider.Now()
}

func (m *Manager) underrunHook() func(string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.onUnderrun
}

func (m *Manager) evictionHook() func(string, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.onEviction
}
