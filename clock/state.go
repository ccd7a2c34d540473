package clock

import "fmt"

// SessionState represents the synchronization state of a session.
type SessionState int

const (
	// StateUninitialized indicates no master clock has been established
	StateUninitialized SessionState = iota
	// StateSynchronizing indicates stream clocks are being disciplined
	StateSynchronizing
	// StateSynchronized indicates all streams are within tolerance
	StateSynchronized
	// StateDesynced indicates at least one stream exceeded the correction
	// window; recoverable through emergency adaptation
	StateDesynced
	// StateTerminated indicates the session has ended
	StateTerminated
)

// String returns a human-readable session state description.
func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSynchronizing:
		return "synchronizing"
	case StateSynchronized:
		return "synchronized"
	case StateDesynced:
		return "desynced"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// validTransitions encodes the session state machine:
// uninitialized -> synchronizing -> synchronized <-> desynced, with
// termination reachable from every live state.
var validTransitions = map[SessionState][]SessionState{
	StateUninitialized: {StateSynchronizing, StateTerminated},
	StateSynchronizing: {StateSynchronized, StateDesynced, StateTerminated},
	StateSynchronized:  {StateDesynced, StateSynchronizing, StateTerminated},
	StateDesynced:      {StateSynchronized, StateSynchronizing, StateTerminated},
	StateTerminated:    {},
}

// transition validates and applies a session state change.
func (c *Coordinator) transitionLocked(to SessionState) error {
	if c.state == to {
		return nil
	}
	for _, allowed := range validTransitions[c.state] {
		if allowed == to {
			c.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, to)
}
