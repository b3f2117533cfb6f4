package domain

import "errors"

// Ledger errors. Callers match them with errors.Is; operations wrap them
// with the failing operation's context.
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidSupply       = errors.New("invalid supply: must be positive")
	ErrInvalidMetadata     = errors.New("invalid metadata: external id is required")
	ErrInvalidHolder       = errors.New("invalid holder: must not be empty")
	ErrDuplicateBatch      = errors.New("batch already registered")
	ErrAlreadyMinted       = errors.New("batch already minted")
	ErrInvalidLockPeriod   = errors.New("invalid lock period")
	ErrStillLocked         = errors.New("position is still locked")
	ErrNothingToClaim      = errors.New("nothing to claim")
	ErrDuplicateGrant      = errors.New("boost already granted")
	ErrInvalidBoostID      = errors.New("invalid boost id")
	ErrNotFound            = errors.New("not found")

	// ErrBelowMinimumStake is returned when a stake is smaller than the configured minimum.
	ErrBelowMinimumStake = errors.New("amount below minimum stake")

	// ErrPositionClosed is returned when unstaking a position that is already closed.
	ErrPositionClosed = errors.New("position already closed")
)
