package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LockPeriod is one of the enumerated staking lock tiers.
type LockPeriod string

const (
	Lock30d  LockPeriod = "30d"
	Lock90d  LockPeriod = "90d"
	Lock180d LockPeriod = "180d"
	Lock365d LockPeriod = "365d"
)

// LockPeriods lists every tier in ascending duration.
var LockPeriods = []LockPeriod{Lock30d, Lock90d, Lock180d, Lock365d}

// IsValid checks if the lock period is a known tier.
func (p LockPeriod) IsValid() bool {
	switch p {
	case Lock30d, Lock90d, Lock180d, Lock365d:
		return true
	}
	return false
}

// Days returns the tier length in days, or 0 for an unknown tier.
func (p LockPeriod) Days() int {
	switch p {
	case Lock30d:
		return 30
	case Lock90d:
		return 90
	case Lock180d:
		return 180
	case Lock365d:
		return 365
	}
	return 0
}

// Duration returns the tier length.
func (p LockPeriod) Duration() time.Duration {
	return time.Duration(p.Days()) * 24 * time.Hour
}

// String returns the string representation of LockPeriod.
func (p LockPeriod) String() string {
	return string(p)
}

// ParseLockPeriod accepts "90d", "90" or "90days".
func ParseLockPeriod(s string) (LockPeriod, error) {
	switch s {
	case "30", "30d", "30days":
		return Lock30d, nil
	case "90", "90d", "90days":
		return Lock90d, nil
	case "180", "180d", "180days":
		return Lock180d, nil
	case "365", "365d", "365days":
		return Lock365d, nil
	}
	return "", ErrInvalidLockPeriod
}

// LockTier binds a lock period to its yield multiplier (always >= 1).
type LockTier struct {
	Period     LockPeriod
	Multiplier decimal.Decimal
}

// DefaultLockTiers returns the product's standard tier table.
func DefaultLockTiers() []LockTier {
	return []LockTier{
		{Period: Lock30d, Multiplier: decimal.RequireFromString("1.0")},
		{Period: Lock90d, Multiplier: decimal.RequireFromString("1.2")},
		{Period: Lock180d, Multiplier: decimal.RequireFromString("1.5")},
		{Period: Lock365d, Multiplier: decimal.RequireFromString("2.0")},
	}
}
