package replay

import "errors"

var (
	// ErrInvalidOrdering is returned when journal entries are not in gapless seq order.
	ErrInvalidOrdering = errors.New("journal entries are not in deterministic order")

	// ErrDivergence is returned when re-running an entry does not reproduce it.
	ErrDivergence = errors.New("replayed transaction diverges from journal")

	// ErrReadOnly is returned when appending to a journal that is not live.
	ErrReadOnly = errors.New("journal is read-only while replaying")
)
