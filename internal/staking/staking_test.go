package staking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-ledger/internal/boost"
	"carbon-ledger/internal/clock"
	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/ledger"
	"carbon-ledger/internal/registry"
)

const day = 24 * time.Hour

type fixture struct {
	clk     *clock.Manual
	ledger  *ledger.Ledger
	reg     *registry.Registry
	boosts  *boost.Registry
	staking *Engine
	batchID string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	l := ledger.New(ledger.Config{Clock: clk})
	reg := registry.New(l, registry.Config{})
	boosts := boost.New(l, boost.Config{})

	batchID, err := reg.RegisterBatch(context.Background(), "H",
		domain.BatchMetadata{ExternalID: "VCS-1234-2021"}, 10_000, decimal.RequireFromString("0.10"))
	require.NoError(t, err)

	return &fixture{
		clk:     clk,
		ledger:  l,
		reg:     reg,
		boosts:  boosts,
		staking: New(l, reg, boosts, cfg),
		batchID: batchID,
	}
}

func (f *fixture) balance(t *testing.T, holder string) domain.Balance {
	t.Helper()
	b, err := f.ledger.BalanceOf(context.Background(), holder, f.batchID)
	require.NoError(t, err)
	return b
}

// expectedReward computes amount * apy * mult * boost * elapsed / year at full precision.
func expectedReward(amount int64, apy, mult, boost string, elapsed time.Duration) decimal.Decimal {
	return decimal.NewFromInt(amount).
		Mul(decimal.RequireFromString(apy)).
		Mul(decimal.RequireFromString(mult)).
		Mul(decimal.RequireFromString(boost)).
		Mul(decimal.NewFromInt(elapsed.Milliseconds())).
		DivRound(decimal.NewFromInt(DefaultSecondsPerYear*1000), RewardPrecision)
}

func TestScenarioA_StakeAccrueClaim(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.ledger.Transfer(ctx, f.batchID, "H", "K", 2_500))
	posID, err := f.staking.Stake(ctx, "H", f.batchID, 1_000, domain.Lock90d)
	require.NoError(t, err)

	h := f.balance(t, "H")
	assert.Equal(t, int64(6_500), h.Free)
	assert.Equal(t, int64(1_000), h.Staked)

	f.clk.Advance(90 * day)

	p, err := f.staking.GetPosition(ctx, posID)
	require.NoError(t, err)
	want := expectedReward(1_000, "0.10", "1.2", "1", 90*day)
	assert.True(t, p.AccumulatedReward.Equal(want), "got %s want %s", p.AccumulatedReward, want)
	assert.Equal(t, domain.PositionUnlocked, p.Status)

	// ~29.589 units of reward
	assert.True(t, p.AccumulatedReward.Sub(decimal.RequireFromString("29.589041")).Abs().LessThan(decimal.RequireFromString("0.000001")))

	paid, err := f.staking.ClaimRewards(ctx, posID)
	require.NoError(t, err)
	assert.True(t, paid.Equal(want))
	assert.True(t, f.staking.RewardBalance(ctx, "H").Equal(want))

	p, err = f.staking.GetPosition(ctx, posID)
	require.NoError(t, err)
	assert.True(t, p.AccumulatedReward.IsZero())
	assert.True(t, p.ClaimedReward.Equal(want))

	_, err = f.staking.ClaimRewards(ctx, posID)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestScenarioC_ConcurrentStakes(t *testing.T) {
	for run := 0; run < 20; run++ {
		f := newFixture(t, Config{})
		ctx := context.Background()
		before := f.balance(t, "H").Free

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.staking.Stake(ctx, "H", f.batchID, before/2+1, domain.Lock30d)
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
			}
		}
		assert.Equal(t, 1, succeeded)

		h := f.balance(t, "H")
		assert.LessOrEqual(t, h.Staked, before)
		assert.Equal(t, before, h.Free+h.Staked)
		assert.Len(t, f.staking.ListPositions(ctx, "H"), 1)
	}
}

func TestStake_Validation(t *testing.T) {
	f := newFixture(t, Config{MinStake: 10})
	ctx := context.Background()

	tests := []struct {
		name    string
		batchID string
		amount  int64
		lock    domain.LockPeriod
		wantErr error
	}{
		{name: "zero amount", batchID: f.batchID, amount: 0, lock: domain.Lock30d, wantErr: domain.ErrInvalidAmount},
		{name: "unknown lock", batchID: f.batchID, amount: 100, lock: "45d", wantErr: domain.ErrInvalidLockPeriod},
		{name: "below minimum", batchID: f.batchID, amount: 9, lock: domain.Lock30d, wantErr: domain.ErrBelowMinimumStake},
		{name: "unknown batch", batchID: "nope", amount: 100, lock: domain.Lock30d, wantErr: domain.ErrNotFound},
		{name: "more than free", batchID: f.batchID, amount: 10_001, lock: domain.Lock30d, wantErr: domain.ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.staking.Stake(ctx, "H", tt.batchID, tt.amount, tt.lock)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	h := f.balance(t, "H")
	assert.Equal(t, int64(10_000), h.Free)
	assert.Equal(t, int64(0), h.Staked)
}

func TestUnstake_LockEnforcement(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	posID, err := f.staking.Stake(ctx, "H", f.batchID, 1_000, domain.Lock30d)
	require.NoError(t, err)

	f.clk.Advance(30*day - time.Millisecond)
	err = f.staking.Unstake(ctx, posID)
	assert.ErrorIs(t, err, domain.ErrStillLocked)
	assert.Equal(t, int64(1_000), f.balance(t, "H").Staked)

	f.clk.Advance(time.Millisecond)
	require.NoError(t, f.staking.Unstake(ctx, posID))

	h := f.balance(t, "H")
	assert.Equal(t, int64(10_000), h.Free)
	assert.Equal(t, int64(0), h.Staked)

	p, err := f.staking.GetPosition(ctx, posID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, p.Status)

	err = f.staking.Unstake(ctx, posID)
	assert.ErrorIs(t, err, domain.ErrPositionClosed)
	assert.Equal(t, int64(10_000), f.balance(t, "H").Free)
}

func TestUnstake_RewardStaysClaimable(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	posID, err := f.staking.Stake(ctx, "H", f.batchID, 1_000, domain.Lock30d)
	require.NoError(t, err)
	f.clk.Advance(30 * day)
	require.NoError(t, f.staking.Unstake(ctx, posID))

	// Accrual stops at close
	f.clk.Advance(365 * day)
	want := expectedReward(1_000, "0.10", "1.0", "1", 30*day)

	p, err := f.staking.GetPosition(ctx, posID)
	require.NoError(t, err)
	assert.True(t, p.AccumulatedReward.Equal(want), "got %s want %s", p.AccumulatedReward, want)

	paid, err := f.staking.ClaimRewards(ctx, posID)
	require.NoError(t, err)
	assert.True(t, paid.Equal(want))
}

func TestGetPosition_IdempotentObservation(t *testing.T) {
	observed := newFixture(t, Config{})
	untouched := newFixture(t, Config{})
	ctx := context.Background()

	a, err := observed.staking.Stake(ctx, "H", observed.batchID, 1_000, domain.Lock180d)
	require.NoError(t, err)
	b, err := untouched.staking.Stake(ctx, "H", untouched.batchID, 1_000, domain.Lock180d)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		observed.clk.Advance(time.Hour)
		_, err := observed.staking.GetPosition(ctx, a)
		require.NoError(t, err)
		observed.staking.ListPositions(ctx, "H")
	}
	untouched.clk.Advance(100 * time.Hour)

	pa, _ := observed.staking.GetPosition(ctx, a)
	pb, _ := untouched.staking.GetPosition(ctx, b)
	assert.True(t, pa.AccumulatedReward.Equal(pb.AccumulatedReward))

	again, _ := observed.staking.GetPosition(ctx, a)
	assert.True(t, again.AccumulatedReward.Equal(pa.AccumulatedReward))
}

func TestAccrual_Linearity(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	posID, err := f.staking.Stake(ctx, "H", f.batchID, 1_000, domain.Lock365d)
	require.NoError(t, err)

	// Claims at arbitrary points sum to the reward of the whole interval
	total := decimal.Zero
	for _, step := range []time.Duration{3 * day, 17 * time.Hour, 41 * day, time.Minute, 200 * day} {
		f.clk.Advance(step)
		paid, err := f.staking.ClaimRewards(ctx, posID)
		require.NoError(t, err)
		total = total.Add(paid)
	}
	elapsed := 3*day + 17*time.Hour + 41*day + time.Minute + 200*day
	assert.True(t, total.Equal(expectedReward(1_000, "0.10", "2.0", "1", elapsed)))

	// Doubling the elapsed time doubles the reward
	p := &domain.StakingPosition{
		Amount:          1_000,
		StartTime:       0,
		BaseAPY:         decimal.RequireFromString("0.10"),
		LockMultiplier:  decimal.NewFromInt(1),
		BoostMultiplier: decimal.NewFromInt(1),
	}
	year := DefaultSecondsPerYear * 1000
	assert.True(t, Earned(p, year/2, DefaultSecondsPerYear).Equal(decimal.NewFromInt(50)))
	assert.True(t, Earned(p, year, DefaultSecondsPerYear).Equal(decimal.NewFromInt(100)))
}

func TestBoostSnapshotAtStakeTime(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.boosts.GrantBoost(ctx, "H", "tree_planter", decimal.NewFromInt(10)))
	posID, err := f.staking.Stake(ctx, "H", f.batchID, 1_000, domain.Lock90d)
	require.NoError(t, err)

	// A later grant does not change the open position
	require.NoError(t, f.boosts.GrantBoost(ctx, "H", "carbon_champion", decimal.NewFromInt(50)))
	f.clk.Advance(90 * day)

	p, err := f.staking.GetPosition(ctx, posID)
	require.NoError(t, err)
	assert.True(t, p.BoostMultiplier.Equal(decimal.RequireFromString("1.1")))
	assert.True(t, p.AccumulatedReward.Equal(expectedReward(1_000, "0.10", "1.2", "1.1", 90*day)))

	// New positions pick up the new grant
	posID2, err := f.staking.Stake(ctx, "H", f.batchID, 1_000, domain.Lock90d)
	require.NoError(t, err)
	p2, _ := f.staking.GetPosition(ctx, posID2)
	assert.True(t, p2.BoostMultiplier.Equal(decimal.RequireFromString("1.6")))
}

func TestPositionsNotFound(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.staking.GetPosition(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.staking.ClaimRewards(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, f.staking.Unstake(ctx, "missing"), domain.ErrNotFound)
}

func TestClaimRewards_NothingAtStart(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	posID, err := f.staking.Stake(ctx, "H", f.batchID, 1_000, domain.Lock30d)
	require.NoError(t, err)

	_, err = f.staking.ClaimRewards(ctx, posID)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestCustomTiers(t *testing.T) {
	f := newFixture(t, Config{Tiers: []domain.LockTier{
		{Period: domain.Lock30d, Multiplier: decimal.RequireFromString("1.05")},
	}})
	ctx := context.Background()

	_, err := f.staking.Stake(ctx, "H", f.batchID, 100, domain.Lock90d)
	assert.ErrorIs(t, err, domain.ErrInvalidLockPeriod)

	_, err = f.staking.Stake(ctx, "H", f.batchID, 100, domain.Lock30d)
	assert.NoError(t, err)
	require.Len(t, f.staking.Tiers(), 1)
}

func TestAccrual_CappedOnClosedStatus(t *testing.T) {
	year := DefaultSecondsPerYear * 1000
	p := &domain.StakingPosition{
		Amount:          1_000,
		StartTime:       -year,
		BaseAPY:         decimal.RequireFromString("0.10"),
		LockMultiplier:  decimal.NewFromInt(1),
		BoostMultiplier: decimal.NewFromInt(1),
		LastAccrualTime: -year,
		ClosedAt:        0,
		Status:          domain.PositionClosed,
	}

	// Closed at Unix ms 0: a year of reward and nothing after.
	assert.True(t, Earned(p, year, DefaultSecondsPerYear).Equal(decimal.NewFromInt(100)))

	acc := Accrue(p, year, DefaultSecondsPerYear)
	assert.True(t, acc.AccumulatedReward.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(0), acc.LastAccrualTime)
	assert.Equal(t, domain.PositionClosed, acc.Status)

	// An open position with a zero ClosedAt keeps accruing.
	p.Status = domain.PositionUnlocked
	assert.True(t, Earned(p, year, DefaultSecondsPerYear).Equal(decimal.NewFromInt(200)))
}
