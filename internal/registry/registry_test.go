package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-ledger/internal/clock"
	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/idhash"
	"carbon-ledger/internal/ledger"
)

func newTestRegistry() (*Registry, *ledger.Ledger, *clock.Manual) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	l := ledger.New(ledger.Config{Clock: clk})
	return New(l, Config{}), l, clk
}

func meta(externalID string) domain.BatchMetadata {
	return domain.BatchMetadata{
		ExternalID:  externalID,
		ProjectName: "Mangrove Restoration",
		Registry:    "Verra",
		Vintage:     2021,
		Methodology: "VM0033",
		Attributes:  map[string]string{"co_benefits": "biodiversity"},
	}
}

func TestRegisterBatch(t *testing.T) {
	r, l, _ := newTestRegistry()
	ctx := context.Background()
	apy := decimal.RequireFromString("0.10")

	id, err := r.RegisterBatch(ctx, "H", meta("VCS-1234-2021"), 10_000, apy)
	require.NoError(t, err)
	assert.Equal(t, idhash.ComputeBatchID("VCS-1234-2021"), id)

	b, err := r.GetBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), b.TotalSupply)
	assert.Equal(t, "H", b.Registrant)
	assert.True(t, b.BaseAPY.Equal(apy))
	assert.Equal(t, "biodiversity", b.Metadata.Attributes["co_benefits"])

	bal, err := l.BalanceOf(ctx, "H", id)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), bal.Free)
}

func TestRegisterBatch_Validation(t *testing.T) {
	r, l, _ := newTestRegistry()
	ctx := context.Background()
	apy := decimal.RequireFromString("0.10")

	tests := []struct {
		name       string
		registrant string
		metadata   domain.BatchMetadata
		supply     int64
		apy        decimal.Decimal
		wantErr    error
	}{
		{name: "zero supply", registrant: "H", metadata: meta("A"), supply: 0, apy: apy, wantErr: domain.ErrInvalidSupply},
		{name: "negative supply", registrant: "H", metadata: meta("A"), supply: -1, apy: apy, wantErr: domain.ErrInvalidSupply},
		{name: "negative apy", registrant: "H", metadata: meta("A"), supply: 1, apy: decimal.RequireFromString("-0.01"), wantErr: domain.ErrInvalidAmount},
		{name: "missing external id", registrant: "H", metadata: meta("  "), supply: 1, apy: apy, wantErr: domain.ErrInvalidMetadata},
		{name: "missing registrant", registrant: "", metadata: meta("A"), supply: 1, apy: apy, wantErr: domain.ErrInvalidHolder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.RegisterBatch(ctx, tt.registrant, tt.metadata, tt.supply, tt.apy)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, r.ListBatches(ctx))
	assert.Equal(t, int64(0), l.Seq())
}

func TestRegisterBatch_Duplicate(t *testing.T) {
	r, l, _ := newTestRegistry()
	ctx := context.Background()
	apy := decimal.RequireFromString("0.05")

	_, err := r.RegisterBatch(ctx, "H", meta("VCS-1"), 100, apy)
	require.NoError(t, err)

	// Same serial with different case is the same batch
	_, err = r.RegisterBatch(ctx, "K", meta("vcs-1"), 500, apy)
	assert.ErrorIs(t, err, domain.ErrDuplicateBatch)

	k, _ := l.BalanceOf(ctx, "K", idhash.ComputeBatchID("VCS-1"))
	assert.Equal(t, int64(0), k.Free)
}

func TestRegisterBatch_ConcurrentDuplicates(t *testing.T) {
	r, _, _ := newTestRegistry()
	ctx := context.Background()

	var ok int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.RegisterBatch(ctx, "H", meta("GS-42"), 100, decimal.Zero); err == nil {
				atomic.AddInt32(&ok, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok)
	assert.Len(t, r.ListBatches(ctx), 1)
}

func TestGetBatch_NotFound(t *testing.T) {
	r, _, _ := newTestRegistry()
	_, err := r.GetBatch(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListBatches_Ordered(t *testing.T) {
	r, _, clk := newTestRegistry()
	ctx := context.Background()

	_, err := r.RegisterBatch(ctx, "H", meta("B-2"), 1, decimal.Zero)
	require.NoError(t, err)
	clk.Advance(time.Hour)
	_, err = r.RegisterBatch(ctx, "H", meta("B-1"), 1, decimal.Zero)
	require.NoError(t, err)

	list := r.ListBatches(ctx)
	require.Len(t, list, 2)
	assert.Equal(t, "B-2", list[0].Metadata.ExternalID)
	assert.Equal(t, "B-1", list[1].Metadata.ExternalID)
}
