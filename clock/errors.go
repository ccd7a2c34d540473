package clock

import "errors"

// Sentinel errors for clock coordination operations.
// These errors enable reliable error classification using errors.Is().

var (
	// ErrNoMasterClock indicates stream registration or synchronization
	// was attempted before the master clock was established.
	ErrNoMasterClock = errors.New("master clock not initialized")

	// ErrMasterAlreadyInitialized indicates a second master clock
	// initialization; exactly one master reference exists per session.
	ErrMasterAlreadyInitialized = errors.New("master clock already initialized")

	// ErrNoClockSource indicates no usable clock source was offered.
	ErrNoClockSource = errors.New("no clock source available")

	// ErrInvalidTransition indicates an invalid session state transition.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrSyncPointNotFound indicates the sync point ID is not known.
	ErrSyncPointNotFound = errors.New("sync point not found")

	// ErrSyncPointExists indicates a sync point with this ID is already registered.
	ErrSyncPointExists = errors.New("sync point already registered")

	// ErrUnknownParticipant indicates a stream reported arrival at a sync
	// point it does not participate in.
	ErrUnknownParticipant = errors.New("stream is not a sync point participant")
)
