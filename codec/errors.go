package codec

import "errors"

// Sentinel errors for codec registry operations.

var (
	// ErrProfileNotFound indicates the named codec profile is not registered.
	ErrProfileNotFound = errors.New("codec profile not found")

	// ErrEmptyLadder indicates a ladder operation on a ladder with no rungs.
	ErrEmptyLadder = errors.New("quality ladder has no rungs")
)
