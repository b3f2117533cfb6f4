// Package staking escrows units into time-locked positions that accrue yield.
package staking

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/idhash"
	"carbon-ledger/internal/ledger"
	"carbon-ledger/internal/observability"
)

// BatchSource resolves batches for their base APY.
type BatchSource interface {
	GetBatch(ctx context.Context, batchID string) (*domain.CreditBatch, error)
}

// BoostSource supplies the holder's boost multiplier at stake time.
type BoostSource interface {
	Multiplier(ctx context.Context, holder string) decimal.Decimal
}

// Config configures an Engine.
type Config struct {
	Tiers          []domain.LockTier // defaults to domain.DefaultLockTiers
	SecondsPerYear int64             // defaults to DefaultSecondsPerYear
	MinStake       int64             // 0 disables the minimum
	IDs            idhash.Generator  // defaults to UUIDs
	Logger         *zap.Logger
}

// Engine is the StakingYieldEngine. It owns positions and the holders'
// paid-out reward accounts, and touches balances only through escrow.
type Engine struct {
	ledger  *ledger.Ledger
	batches BatchSource
	boosts  BoostSource
	tiers   map[domain.LockPeriod]decimal.Decimal
	spy     int64
	min     int64
	ids     idhash.Generator
	logger  *zap.Logger

	mu        sync.RWMutex
	positions map[string]*domain.StakingPosition
	byHolder  map[string][]string
	rewards   map[string]decimal.Decimal
	open      int
}

// New creates a staking engine.
func New(l *ledger.Ledger, batches BatchSource, boosts BoostSource, cfg Config) *Engine {
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = domain.DefaultLockTiers()
	}
	if cfg.SecondsPerYear <= 0 {
		cfg.SecondsPerYear = DefaultSecondsPerYear
	}
	if cfg.IDs == nil {
		cfg.IDs = idhash.UUIDGenerator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	tiers := make(map[domain.LockPeriod]decimal.Decimal, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		tiers[t.Period] = t.Multiplier
	}

	return &Engine{
		ledger:    l,
		batches:   batches,
		boosts:    boosts,
		tiers:     tiers,
		spy:       cfg.SecondsPerYear,
		min:       cfg.MinStake,
		ids:       cfg.IDs,
		logger:    cfg.Logger,
		positions: make(map[string]*domain.StakingPosition),
		byHolder:  make(map[string][]string),
		rewards:   make(map[string]decimal.Decimal),
	}
}

// Stake escrows amount of the holder's free units for the lock period.
// The boost multiplier is snapshotted now and never changes afterwards.
func (e *Engine) Stake(ctx context.Context, holder, batchID string, amount int64, lock domain.LockPeriod) (string, error) {
	if amount <= 0 {
		return "", domain.ErrInvalidAmount
	}
	lockMult, ok := e.tiers[lock]
	if !ok || !lock.IsValid() {
		return "", fmt.Errorf("%q: %w", lock, domain.ErrInvalidLockPeriod)
	}
	if amount < e.min {
		return "", fmt.Errorf("%w: %d < %d", domain.ErrBelowMinimumStake, amount, e.min)
	}
	if holder == "" {
		return "", domain.ErrInvalidHolder
	}
	batch, err := e.batches.GetBatch(ctx, batchID)
	if err != nil {
		return "", fmt.Errorf("stake: %w", err)
	}

	positionID := e.ids.NewID()
	keys := []string{
		ledger.AccountKey(holder, batchID),
		ledger.BoostKey(holder),
		ledger.PositionKey(positionID),
	}

	_, err = e.ledger.Update(ctx, domain.OpStake, keys, func(tx *ledger.Tx) error {
		if err := tx.EscrowOut(batchID, holder, amount); err != nil {
			return err
		}

		now := tx.Now()
		p := &domain.StakingPosition{
			PositionID:        positionID,
			Holder:            holder,
			BatchID:           batchID,
			Amount:            amount,
			LockPeriod:        lock,
			StartTime:         now,
			UnlockTime:        now + lock.Duration().Milliseconds(),
			BaseAPY:           batch.BaseAPY,
			LockMultiplier:    lockMult,
			BoostMultiplier:   e.boosts.Multiplier(ctx, holder),
			AccumulatedReward: decimal.Zero,
			ClaimedReward:     decimal.Zero,
			LastAccrualTime:   now,
			Status:            domain.PositionActive,
		}
		tx.Record(domain.JournalPayload{Position: p.Clone()})
		tx.OnCommit(func(*domain.JournalEntry) {
			e.mu.Lock()
			e.positions[positionID] = p
			e.byHolder[holder] = append(e.byHolder[holder], positionID)
			e.open++
			open := e.open
			e.mu.Unlock()
			observability.UpdateOpenPositions(open)
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("stake %d of %s: %w", amount, batchID, err)
	}

	e.logger.Debug("position opened",
		zap.String("position_id", positionID),
		zap.String("holder", holder),
		zap.String("batch_id", batchID),
		zap.Int64("amount", amount),
		zap.String("lock", lock.String()))
	return positionID, nil
}

// ClaimRewards pays out everything accrued so far into the holder's reward
// account. Allowed for Active, Unlocked and Closed positions.
func (e *Engine) ClaimRewards(ctx context.Context, positionID string) (decimal.Decimal, error) {
	p, err := e.committed(positionID)
	if err != nil {
		return decimal.Zero, err
	}
	holder := p.Holder

	var paid decimal.Decimal
	keys := []string{ledger.PositionKey(positionID), ledger.RewardKey(holder)}
	_, err = e.ledger.Update(ctx, domain.OpClaim, keys, func(tx *ledger.Tx) error {
		cur, err := e.committed(positionID)
		if err != nil {
			return err
		}
		acc := Accrue(cur, tx.Now(), e.spy)
		if !acc.AccumulatedReward.IsPositive() {
			return domain.ErrNothingToClaim
		}

		paid = acc.AccumulatedReward
		acc.ClaimedReward = acc.ClaimedReward.Add(paid)
		acc.AccumulatedReward = decimal.Zero

		tx.Record(domain.JournalPayload{Claim: &domain.ClaimRecord{
			PositionID: positionID,
			Holder:     holder,
			Amount:     paid,
		}})
		tx.OnCommit(func(*domain.JournalEntry) {
			e.mu.Lock()
			e.positions[positionID] = acc
			e.rewards[holder] = e.rewards[holder].Add(paid)
			e.mu.Unlock()
		})
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("claim %s: %w", positionID, err)
	}

	observability.RecordRewardPaid(paid.InexactFloat64())
	e.logger.Debug("rewards claimed",
		zap.String("position_id", positionID),
		zap.String("holder", holder),
		zap.String("amount", paid.String()))
	return paid, nil
}

// Unstake returns the principal once the lock period has elapsed.
// Unclaimed reward stays on the position and remains claimable.
func (e *Engine) Unstake(ctx context.Context, positionID string) error {
	p, err := e.committed(positionID)
	if err != nil {
		return err
	}

	keys := []string{ledger.PositionKey(positionID), ledger.AccountKey(p.Holder, p.BatchID)}
	_, err = e.ledger.Update(ctx, domain.OpUnstake, keys, func(tx *ledger.Tx) error {
		cur, err := e.committed(positionID)
		if err != nil {
			return err
		}
		if cur.IsClosed() {
			return domain.ErrPositionClosed
		}
		now := tx.Now()
		if now < cur.UnlockTime {
			return fmt.Errorf("%w: unlocks at %d", domain.ErrStillLocked, cur.UnlockTime)
		}

		acc := Accrue(cur, now, e.spy)
		acc.ClosedAt = now
		acc.Status = domain.PositionClosed

		if err := tx.EscrowIn(cur.BatchID, cur.Holder, cur.Amount); err != nil {
			return err
		}
		tx.Record(domain.JournalPayload{Unstake: &domain.UnstakeRecord{
			PositionID: positionID,
			Holder:     cur.Holder,
			BatchID:    cur.BatchID,
			Amount:     cur.Amount,
			Reward:     acc.AccumulatedReward,
		}})
		tx.OnCommit(func(*domain.JournalEntry) {
			e.mu.Lock()
			e.positions[positionID] = acc
			e.open--
			open := e.open
			e.mu.Unlock()
			observability.UpdateOpenPositions(open)
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("unstake %s: %w", positionID, err)
	}

	e.logger.Debug("position closed",
		zap.String("position_id", positionID),
		zap.String("holder", p.Holder))
	return nil
}

func (e *Engine) committed(positionID string) (*domain.StakingPosition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.positions[positionID]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", positionID, domain.ErrNotFound)
	}
	return p, nil
}

// GetPosition returns the position with rewards accrued up to now.
// Observing a position never changes what it will pay.
func (e *Engine) GetPosition(_ context.Context, positionID string) (*domain.StakingPosition, error) {
	p, err := e.committed(positionID)
	if err != nil {
		return nil, err
	}
	return Accrue(p, e.now(), e.spy), nil
}

// ListPositions returns the holder's positions, accrued up to now,
// ordered by start time, then id.
func (e *Engine) ListPositions(_ context.Context, holder string) []*domain.StakingPosition {
	now := e.now()

	e.mu.RLock()
	ids := e.byHolder[holder]
	result := make([]*domain.StakingPosition, 0, len(ids))
	for _, id := range ids {
		result = append(result, Accrue(e.positions[id], now, e.spy))
	}
	e.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartTime != result[j].StartTime {
			return result[i].StartTime < result[j].StartTime
		}
		return result[i].PositionID < result[j].PositionID
	})
	return result
}

// AllPositions returns every position accrued up to now, ordered by id.
func (e *Engine) AllPositions(_ context.Context) []*domain.StakingPosition {
	now := e.now()

	e.mu.RLock()
	result := make([]*domain.StakingPosition, 0, len(e.positions))
	for _, p := range e.positions {
		result = append(result, Accrue(p, now, e.spy))
	}
	e.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].PositionID < result[j].PositionID
	})
	return result
}

// RewardBalance returns the total reward paid out to holder.
func (e *Engine) RewardBalance(_ context.Context, holder string) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rewards[holder]
}

// Tiers returns the configured lock tiers in ascending duration.
func (e *Engine) Tiers() []domain.LockTier {
	result := make([]domain.LockTier, 0, len(e.tiers))
	for _, p := range domain.LockPeriods {
		if m, ok := e.tiers[p]; ok {
			result = append(result, domain.LockTier{Period: p, Multiplier: m})
		}
	}
	return result
}

func (e *Engine) now() int64 {
	return e.ledger.Clock().Now().UnixMilli()
}

// Records returns the stored positions, without accrual, ordered by id.
func (e *Engine) Records(_ context.Context) []*domain.StakingPosition {
	e.mu.RLock()
	result := make([]*domain.StakingPosition, 0, len(e.positions))
	for _, p := range e.positions {
		result = append(result, p.Clone())
	}
	e.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].PositionID < result[j].PositionID
	})
	return result
}

// Rewards returns the paid-out reward of every holder.
func (e *Engine) Rewards(_ context.Context) map[string]decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make(map[string]decimal.Decimal, len(e.rewards))
	for h, r := range e.rewards {
		result[h] = r
	}
	return result
}
