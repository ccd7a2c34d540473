package media

import "errors"

// Sentinel errors shared across the streamsync components.
// These errors enable reliable error classification using errors.Is().

// Admission and delivery errors.
var (
	// ErrAdmissionRejected indicates a pool is full and eviction could not
	// free enough space for the chunk.
	ErrAdmissionRejected = errors.New("chunk admission rejected")

	// ErrDependencyUnresolved indicates a chunk is held pending because one
	// of its dependencies has not been delivered yet.
	ErrDependencyUnresolved = errors.New("chunk dependency unresolved")

	// ErrUnderrun indicates a pool ran dry while playout demanded data.
	ErrUnderrun = errors.New("buffer underrun")
)

// Synchronization errors.
var (
	// ErrDesync indicates a stream drifted beyond the recoverable
	// correction window. Recoverable via emergency adaptation.
	ErrDesync = errors.New("stream desynchronized")
)

// Configuration and constraint errors.
var (
	// ErrInvalidConstraint indicates a quality target violates the
	// stream's hard constraints.
	ErrInvalidConstraint = errors.New("invalid quality constraint")

	// ErrInvariantViolation indicates broken construction-time invariants
	// (for example watermark ordering). Fatal for the owning component's
	// initialization; must never occur from runtime traffic.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Stream lifecycle errors.
var (
	// ErrStreamNotFound indicates the stream ID is not known.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrStreamAlreadyExists indicates a stream with this ID is already active.
	ErrStreamAlreadyExists = errors.New("stream already exists")
)
