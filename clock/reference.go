package clock

import (
	"time"

	"github.com/google/uuid"
)

// ReferenceKind identifies the provenance of a clock reference.
type ReferenceKind int

const (
	// ClockLocal is a reference derived from the local monotonic clock
	ClockLocal ReferenceKind = iota
	// ClockNetwork is a reference disciplined by a network time source
	ClockNetwork
	// ClockMaster is the session's single authoritative reference
	ClockMaster
)

// String returns a human-readable reference kind description.
func (k ReferenceKind) String() string {
	switch k {
	case ClockLocal:
		return "local"
	case ClockNetwork:
		return "network"
	case ClockMaster:
		return "master"
	default:
		return "unknown"
	}
}

// Reference is a clock reference tracked by the coordinator.
//
// Exactly one reference per session has kind ClockMaster; every other
// reference carries an Offset expressed relative to it.
type Reference struct {
	ID        string
	Kind      ReferenceKind
	Frequency float64       // Effective rate relative to nominal (1.0 = nominal)
	Drift     float64       // Estimated drift rate (dimensionless)
	Offset    time.Duration // Offset relative to the master reference
	Accuracy  time.Duration // Source accuracy bound
	LastSync  time.Time     // When the reference was last disciplined
}

// Source describes an available clock source offered at master
// initialization time.
type Source struct {
	Kind     ReferenceKind // ClockLocal or ClockNetwork
	Accuracy time.Duration // Claimed accuracy bound, smaller is better
}

// newReference constructs a reference with a generated ID and nominal rate.
func newReference(kind ReferenceKind, accuracy time.Duration, now time.Time) *Reference {
	return &Reference{
		ID:        uuid.New().String(),
		Kind:      kind,
		Frequency: 1.0,
		Accuracy:  accuracy,
		LastSync:  now,
	}
}

// betterSource reports whether a should be preferred over b as the master
// clock source. Network sources beat local ones; within a kind the
// tighter accuracy bound wins.
func betterSource(a, b Source) bool {
	if a.Kind != b.Kind {
		return a.Kind == ClockNetwork
	}
	return a.Accuracy < b.Accuracy
}
