package staking

import (
	"github.com/shopspring/decimal"

	"carbon-ledger/internal/domain"
)

// DefaultSecondsPerYear is a 365-day year.
const DefaultSecondsPerYear int64 = 365 * 24 * 60 * 60

// RewardPrecision is the number of decimal places rewards are rounded to.
const RewardPrecision int32 = 18

// Earned returns the total reward a position has produced by time at (Unix ms):
//
//	amount * baseAPY * lockMultiplier * boostMultiplier * (t - start) / secondsPerYear
//
// where t is at capped at ClosedAt for closed positions. The result depends
// only on elapsed time, never on how often it was computed before.
func Earned(p *domain.StakingPosition, at int64, secondsPerYear int64) decimal.Decimal {
	end := observedAt(p, at)
	if end <= p.StartTime {
		return decimal.Zero
	}

	elapsedMs := decimal.NewFromInt(end - p.StartTime)
	yearMs := decimal.NewFromInt(secondsPerYear).Mul(decimal.NewFromInt(1000))

	return decimal.NewFromInt(p.Amount).
		Mul(p.Rate()).
		Mul(elapsedMs).
		DivRound(yearMs, RewardPrecision)
}

// Accrue returns a copy of p brought up to time at: AccumulatedReward is
// earned minus claimed, LastAccrualTime advances, and an Active position
// whose lock has elapsed reports Unlocked. p itself is not modified.
func Accrue(p *domain.StakingPosition, at int64, secondsPerYear int64) *domain.StakingPosition {
	c := p.Clone()

	acc := Earned(c, at, secondsPerYear).Sub(c.ClaimedReward)
	if acc.IsNegative() {
		acc = decimal.Zero
	}
	c.AccumulatedReward = acc

	if observed := observedAt(c, at); observed > c.LastAccrualTime {
		c.LastAccrualTime = observed
	}

	if c.Status == domain.PositionActive && at >= c.UnlockTime {
		c.Status = domain.PositionUnlocked
	}
	return c
}

// observedAt returns at, capped at ClosedAt once the position is closed.
func observedAt(p *domain.StakingPosition, at int64) int64 {
	if p.IsClosed() && at > p.ClosedAt {
		return p.ClosedAt
	}
	return at
}
