package adapt

import "errors"

// Sentinel errors for adaptation engine operations.

var (
	// ErrEmergencyPending indicates a forced quality change was rejected
	// because an emergency signal is awaiting evaluation; emergency
	// decisions always win over operator overrides.
	ErrEmergencyPending = errors.New("emergency adaptation pending")

	// ErrNoValidRung indicates no ladder rung satisfies the stream's
	// constraints.
	ErrNoValidRung = errors.New("no ladder rung satisfies constraints")
)
