package storage

import "errors"

// Storage errors shared by every backend.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a seq, tx id or snapshot key is
	// already stored. Journal and snapshot stores never update in place.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDivergentHistory is returned when two journals disagree on the
	// tx id at the same seq.
	ErrDivergentHistory = errors.New("journal history diverges")
)
