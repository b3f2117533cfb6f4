package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-ledger/internal/clock"
	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/replay"
	"carbon-ledger/internal/retirement"
	"carbon-ledger/internal/storage/memory"
)

const day = 24 * time.Hour

func strPtr(s string) *string { return &s }

// populate runs a small history touching every operation kind.
func populate(t *testing.T, e *Engine, clk *clock.Manual) (batchID, posID string) {
	t.Helper()
	ctx := context.Background()

	batchID, err := e.RegisterBatch(ctx, "H", domain.BatchMetadata{
		ExternalID:  "VCS-1234-2021",
		ProjectName: "Katingan Peatland",
		Registry:    "Verra",
		Vintage:     2021,
	}, 10_000, decimal.RequireFromString("0.10"))
	require.NoError(t, err)

	clk.Advance(time.Hour)
	require.NoError(t, e.Transfer(ctx, batchID, "H", "K", 2_500))
	require.NoError(t, e.GrantAchievement(ctx, "H", domain.AchievementFirstTrade))

	clk.Advance(time.Hour)
	posID, err = e.Stake(ctx, "H", batchID, 1_000, domain.Lock90d)
	require.NoError(t, err)

	clk.Advance(45 * day)
	_, err = e.ClaimRewards(ctx, posID)
	require.NoError(t, err)

	clk.Advance(45 * day)
	require.NoError(t, e.Unstake(ctx, posID))

	_, err = e.Retire(ctx, "K", batchID, 300, retirement.Options{Beneficiary: strPtr("ACME"), Reason: strPtr("FY24")})
	require.NoError(t, err)
	return batchID, posID
}

func TestEngine_Portfolio(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	e := New(Config{Clock: clk})
	ctx := context.Background()
	batchID, _ := populate(t, e, clk)

	_, err := e.Stake(ctx, "H", batchID, 500, domain.Lock30d)
	require.NoError(t, err)
	clk.Advance(10 * day)

	h := e.Portfolio(ctx, "H")
	require.Len(t, h.Holdings, 1)
	assert.Equal(t, int64(7_000), h.TotalFree)
	assert.Equal(t, int64(500), h.TotalStaked)
	assert.Len(t, h.Positions, 2)
	assert.True(t, h.PendingRewards.IsPositive())
	assert.True(t, h.PaidRewards.IsPositive())
	assert.True(t, h.BoostMultiplier.Equal(decimal.RequireFromString("1.01")))

	k := e.Portfolio(ctx, "K")
	assert.Equal(t, int64(300), k.TotalRetired)
	assert.Equal(t, int64(2_200), k.TotalFree)
	assert.Equal(t, 1, k.Certificates)
	require.Len(t, k.Holdings, 1)
	assert.Equal(t, int64(300), k.Holdings[0].Retired)
}

func TestOpen_RebuildsFromJournal(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	journal := memory.NewJournalStore()
	live := New(Config{Journal: journal, Clock: clk})
	ctx := context.Background()
	batchID, posID := populate(t, live, clk)

	rebuilt, err := Open(ctx, Config{Journal: journal, Clock: clk})
	require.NoError(t, err)
	assert.Equal(t, live.Seq(), rebuilt.Seq())

	for _, holder := range []string{"H", "K"} {
		a, _ := live.BalanceOf(ctx, holder, batchID)
		b, _ := rebuilt.BalanceOf(ctx, holder, batchID)
		assert.Equal(t, a, b, holder)
	}

	a, _ := live.GetPosition(ctx, posID)
	b, err := rebuilt.GetPosition(ctx, posID)
	require.NoError(t, err)
	assert.True(t, a.ClaimedReward.Equal(b.ClaimedReward))
	assert.True(t, a.AccumulatedReward.Equal(b.AccumulatedReward))
	assert.Equal(t, a.ClosedAt, b.ClosedAt)

	ca := live.ListCertificates(ctx, "K")
	cb := rebuilt.ListCertificates(ctx, "K")
	require.Len(t, cb, 1)
	assert.Equal(t, ca[0].CertificateID, cb[0].CertificateID)
	assert.Equal(t, ca[0].Fingerprint, cb[0].Fingerprint)
	assert.Equal(t, ca[0].TxID, cb[0].TxID)

	// The rebuilt engine keeps appending where the journal ended
	require.NoError(t, rebuilt.Transfer(ctx, batchID, "K", "H", 1))
	last, _ := journal.LastSeq(ctx)
	assert.Equal(t, live.Seq()+1, last)
}

func TestOpen_ReadOnly(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	journal := memory.NewJournalStore()
	batchID, _ := populate(t, New(Config{Journal: journal, Clock: clk}), clk)
	ctx := context.Background()

	ro, err := Open(ctx, Config{Journal: journal, Clock: clk, ReadOnly: true})
	require.NoError(t, err)

	err = ro.Transfer(ctx, batchID, "H", "K", 1)
	assert.ErrorIs(t, err, replay.ErrReadOnly)

	last, _ := journal.LastSeq(ctx)
	assert.Equal(t, ro.Seq(), last)
}

func TestOpen_DetectsTamperedJournal(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	journal := memory.NewJournalStore()
	populate(t, New(Config{Journal: journal, Clock: clk}), clk)
	ctx := context.Background()

	entries, err := journal.List(ctx, 1, 0)
	require.NoError(t, err)

	// Inflate the recorded transfer without fixing its tx id
	tampered := memory.NewJournalStore()
	for _, e := range entries {
		if e.Kind == domain.OpTransfer {
			e.Payload.Transfer.Amount = 2_600
		}
		require.NoError(t, tampered.Append(ctx, e))
	}

	_, err = Open(ctx, Config{Journal: tampered, Clock: clk})
	assert.ErrorIs(t, err, replay.ErrDivergence)
}

func TestOpen_DetectsImpossibleEntry(t *testing.T) {
	ctx := context.Background()
	journal := memory.NewJournalStore()
	require.NoError(t, journal.Append(ctx, &domain.JournalEntry{
		Seq:  1,
		TxID: "forged",
		Kind: domain.OpTransfer,
		At:   1704067200000,
		Payload: domain.JournalPayload{Transfer: &domain.TransferRecord{
			BatchID: "nope", From: "H", To: "K", Amount: 1,
		}},
	}))

	_, err := Open(ctx, Config{Journal: journal})
	assert.ErrorIs(t, err, replay.ErrDivergence)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOpen_EmptyJournal(t *testing.T) {
	e, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.Seq())

	_, err = e.RegisterBatch(context.Background(), "H", domain.BatchMetadata{ExternalID: "X"}, 1, decimal.Zero)
	assert.NoError(t, err)
}

func TestOpen_SinkNotRepublished(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	journal := memory.NewJournalStore()
	sink := memory.NewJournalStore()
	batchID, _ := populate(t, New(Config{Journal: journal, Clock: clk, Sink: sink}), clk)
	ctx := context.Background()

	published, _ := sink.LastSeq(ctx)

	// Replaying into the same sink must not fail on duplicates or add entries
	rebuilt, err := Open(ctx, Config{Journal: journal, Clock: clk, Sink: sink})
	require.NoError(t, err)
	after, _ := sink.LastSeq(ctx)
	assert.Equal(t, published, after)

	require.NoError(t, rebuilt.Transfer(ctx, batchID, "H", "K", 1))
	after, _ = sink.LastSeq(ctx)
	assert.Equal(t, published+1, after)
}
