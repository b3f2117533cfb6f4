package domain

import "github.com/shopspring/decimal"

// PositionStatus is the lifecycle state of a staking position.
type PositionStatus string

const (
	PositionActive   PositionStatus = "ACTIVE"   // lock period running
	PositionUnlocked PositionStatus = "UNLOCKED" // lock elapsed, still escrowed
	PositionClosed   PositionStatus = "CLOSED"   // principal returned; terminal
)

// IsValid checks if the status is a known value.
func (s PositionStatus) IsValid() bool {
	return s == PositionActive || s == PositionUnlocked || s == PositionClosed
}

// StakingPosition is one escrow of units that accrues yield.
// Reward figures are only meaningful right after accrual has been applied
// for a given observation time.
type StakingPosition struct {
	PositionID      string
	Holder          string
	BatchID         string
	Amount          int64      // escrowed units
	LockPeriod      LockPeriod // tier chosen at stake time
	StartTime       int64      // Unix ms
	UnlockTime      int64      // StartTime + lock duration (ms)
	BaseAPY         decimal.Decimal
	LockMultiplier  decimal.Decimal
	BoostMultiplier decimal.Decimal // 1 + sum(boost%)/100, frozen at stake time

	AccumulatedReward decimal.Decimal // accrued but unclaimed
	ClaimedReward     decimal.Decimal // paid out so far
	LastAccrualTime   int64           // Unix ms of the last accrual
	ClosedAt          int64           // Unix ms of unstake; 0 while open

	Status PositionStatus
}

// Clone returns a copy of the position.
func (p *StakingPosition) Clone() *StakingPosition {
	c := *p
	return &c
}

// IsClosed reports whether the principal has been returned.
func (p *StakingPosition) IsClosed() bool {
	return p.Status == PositionClosed
}

// Rate returns the effective yearly rate: baseAPY * lock * boost.
func (p *StakingPosition) Rate() decimal.Decimal {
	return p.BaseAPY.Mul(p.LockMultiplier).Mul(p.BoostMultiplier)
}
