package ledger

import "errors"

var (
	// ErrKeyNotHeld is returned when a transaction touches a record whose
	// lock key was not declared in the Update call.
	ErrKeyNotHeld = errors.New("ledger: lock key not held by transaction")

	// ErrNoEntry is returned when a transaction function succeeds without recording a journal payload.
	ErrNoEntry = errors.New("ledger: transaction recorded no journal entry")

	// ErrConservationViolated is returned when free + staked + retired differs from a batch's total supply.
	ErrConservationViolated = errors.New("ledger: supply conservation violated")
)
