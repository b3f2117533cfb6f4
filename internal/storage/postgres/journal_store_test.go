package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-ledger/internal/clock"
	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/engine"
	"carbon-ledger/internal/storage"
)

func batchEntry(seq int64) *domain.JournalEntry {
	return &domain.JournalEntry{
		Seq:  seq,
		TxID: "tx-" + decimal.NewFromInt(seq).String(),
		Kind: domain.OpRegisterBatch,
		At:   1_700_000_000_000 + seq,
		Payload: domain.JournalPayload{
			Batch: &domain.CreditBatch{
				BatchID:     "b1",
				Registrant:  "H",
				TotalSupply: 10_000,
				BaseAPY:     decimal.RequireFromString("0.10"),
				Metadata: domain.BatchMetadata{
					ExternalID: "VCS-1234-2021",
					Vintage:    2021,
					Attributes: map[string]string{"sdg": "13"},
				},
				MintedAt: 1_700_000_000_000 + seq,
			},
		},
	}
}

func TestJournalStore_AppendAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewJournalStore(pool)

	e := batchEntry(1)
	require.NoError(t, store.Append(ctx, e))

	got, err := store.GetBySeq(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, e.TxID, got.TxID)
	assert.Equal(t, e.Kind, got.Kind)
	assert.Equal(t, e.At, got.At)
	require.NotNil(t, got.Payload.Batch)
	assert.True(t, e.Payload.Batch.BaseAPY.Equal(got.Payload.Batch.BaseAPY))
	assert.Equal(t, e.Payload.Batch.Metadata, got.Payload.Batch.Metadata)

	last, err := store.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
}

func TestJournalStore_Duplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewJournalStore(pool)

	require.NoError(t, store.Append(ctx, batchEntry(1)))
	assert.ErrorIs(t, store.Append(ctx, batchEntry(1)), storage.ErrDuplicateKey)
}

func TestJournalStore_InvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewJournalStore(pool)
	bad := batchEntry(1)
	bad.Payload.Batch = nil
	assert.ErrorIs(t, store.Append(context.Background(), bad), storage.ErrInvalidInput)
}

func TestJournalStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := NewJournalStore(pool).GetBySeq(context.Background(), 42)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJournalStore_AppendBulkAtomic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewJournalStore(pool)

	require.NoError(t, store.Append(ctx, batchEntry(2)))

	// seq 2 already exists, so nothing from this batch is kept
	err := store.AppendBulk(ctx, []*domain.JournalEntry{batchEntry(1), batchEntry(2), batchEntry(3)})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetBySeq(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.AppendBulk(ctx, []*domain.JournalEntry{batchEntry(1), batchEntry(3)}))
	last, err := store.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestJournalStore_ListPaged(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewJournalStore(pool)

	var entries []*domain.JournalEntry
	for i := int64(1); i <= 5; i++ {
		entries = append(entries, batchEntry(i))
	}
	require.NoError(t, store.AppendBulk(ctx, entries))

	page, err := store.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].Seq)
	assert.Equal(t, int64(3), page[1].Seq)

	rest, err := store.List(ctx, 4, 0)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

// A journal written through Postgres must rebuild to the same state:
// the JSONB round trip may not change any transaction id.
func TestJournalStore_EngineReplay(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewJournalStore(pool)
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	live := engine.New(engine.Config{Journal: store, Clock: clk})
	batchID, err := live.RegisterBatch(ctx, "H", domain.BatchMetadata{ExternalID: "VCS-981-2019", Vintage: 2019}, 1_000, decimal.RequireFromString("0.085"))
	require.NoError(t, err)
	require.NoError(t, live.GrantAchievement(ctx, "H", domain.AchievementFirstTrade))

	posID, err := live.Stake(ctx, "H", batchID, 400, domain.Lock30d)
	require.NoError(t, err)
	clk.Advance(40 * 24 * time.Hour)
	_, err = live.ClaimRewards(ctx, posID)
	require.NoError(t, err)
	require.NoError(t, live.Unstake(ctx, posID))

	rebuilt, err := engine.Open(ctx, engine.Config{Journal: store, Clock: clk, ReadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, live.Seq(), rebuilt.Seq())
	assert.True(t, live.RewardBalance(ctx, "H").Equal(rebuilt.RewardBalance(ctx, "H")))
}
