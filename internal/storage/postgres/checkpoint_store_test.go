package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-ledger/internal/storage"
)

func TestCheckpointStore_SaveAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCheckpointStore(pool)

	_, err := store.GetLast(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	cp := &storage.VerificationCheckpoint{Seq: 10, TxID: "tx10", VerifiedAt: 1000, Conserved: true}
	require.NoError(t, store.Save(ctx, cp))

	got, err := store.GetLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, cp, got)
}

func TestCheckpointStore_Upsert(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCheckpointStore(pool)

	require.NoError(t, store.Save(ctx, &storage.VerificationCheckpoint{Seq: 10, TxID: "tx10", Conserved: true}))
	require.NoError(t, store.Save(ctx, &storage.VerificationCheckpoint{Seq: 20, TxID: "tx20", Divergent: 2}))

	got, err := store.GetLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Seq)
	assert.Equal(t, 2, got.Divergent)
	assert.False(t, got.Conserved)
}

func TestCheckpointStore_RejectsGoingBackwards(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCheckpointStore(pool)

	require.NoError(t, store.Save(ctx, &storage.VerificationCheckpoint{Seq: 20, TxID: "tx20"}))
	err := store.Save(ctx, &storage.VerificationCheckpoint{Seq: 5, TxID: "tx5"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	got, err := store.GetLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Seq)
}
