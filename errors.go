package streamsync

import "errors"

// Sentinel errors for engine lifecycle operations.

var (
	// ErrEngineClosed indicates the engine has been closed.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrEngineAlreadyRunning indicates Run was called twice.
	ErrEngineAlreadyRunning = errors.New("engine is already running")
)
