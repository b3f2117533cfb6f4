package retirement

import (
	"context"
	"errors"
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
	"carbon-ledger/internal/staking"
	"carbon-ledger/internal/storage"
	"carbon-ledger/internal/storage/memory"
)

type fixture struct {
	clk       *clock.Manual
	ledger    *ledger.Ledger
	staking   *staking.Engine
	certifier *Certifier
	batchID   string
}

func newFixture(t *testing.T, journal storage.JournalStore) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	l := ledger.New(ledger.Config{Clock: clk, Journal: journal})
	reg := registry.New(l, registry.Config{})
	boosts := boost.New(l, boost.Config{})

	batchID, err := reg.RegisterBatch(context.Background(), "H",
		domain.BatchMetadata{ExternalID: "GS-500-2022"}, 1_000, decimal.RequireFromString("0.08"))
	require.NoError(t, err)

	return &fixture{
		clk:       clk,
		ledger:    l,
		staking:   staking.New(l, reg, boosts, staking.Config{}),
		certifier: New(l, reg, Config{}),
		batchID:   batchID,
	}
}

func TestRetire(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	beneficiary := "City of Oslo"
	reason := "2024 scope 3 offset"

	certID, err := f.certifier.Retire(ctx, "H", f.batchID, 250, Options{Beneficiary: &beneficiary, Reason: &reason})
	require.NoError(t, err)

	cert, err := f.certifier.GetCertificate(ctx, certID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), cert.Amount)
	assert.Equal(t, "H", cert.Holder)
	require.NotNil(t, cert.Beneficiary)
	assert.Equal(t, beneficiary, *cert.Beneficiary)
	assert.NotEmpty(t, cert.Fingerprint)
	assert.True(t, VerifyFingerprint(cert))
	assert.Len(t, cert.TxID, 64)

	entry, err := f.ledger.Journal().GetBySeq(ctx, f.ledger.Seq())
	require.NoError(t, err)
	assert.Equal(t, domain.OpRetire, entry.Kind)
	assert.Equal(t, entry.TxID, cert.TxID)

	s, err := f.ledger.Supply(ctx, f.batchID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), s.Retired)
	assert.Equal(t, int64(750), s.Circulating())
	assert.True(t, s.Conserved())

	// Caller-owned labels are copied
	beneficiary = "changed"
	cert, _ = f.certifier.GetCertificate(ctx, certID)
	assert.Equal(t, "City of Oslo", *cert.Beneficiary)

	// Tampering breaks the fingerprint
	cert.Amount = 1
	assert.False(t, VerifyFingerprint(cert))
}

func TestScenarioB_RetireNeedsFreeUnits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	posID, err := f.staking.Stake(ctx, "H", f.batchID, 700, domain.Lock30d)
	require.NoError(t, err)

	_, err = f.certifier.Retire(ctx, "H", f.batchID, 500, Options{})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Empty(t, f.certifier.ListCertificates(ctx, "H"))

	f.clk.Advance(30 * 24 * time.Hour)
	require.NoError(t, f.staking.Unstake(ctx, posID))

	before, _ := f.ledger.Supply(ctx, f.batchID)
	certID, err := f.certifier.Retire(ctx, "H", f.batchID, 500, Options{})
	require.NoError(t, err)

	certs := f.certifier.ListCertificates(ctx, "H")
	require.Len(t, certs, 1)
	assert.Equal(t, certID, certs[0].CertificateID)
	assert.Equal(t, int64(500), certs[0].Amount)

	after, _ := f.ledger.Supply(ctx, f.batchID)
	assert.Equal(t, before.Circulating()-500, after.Circulating())
	assert.True(t, after.Conserved())
}

func TestRetire_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.certifier.Retire(ctx, "H", f.batchID, 0, Options{})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.certifier.Retire(ctx, "H", "unknown", 1, Options{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.certifier.Retire(ctx, "", f.batchID, 1, Options{})
	assert.ErrorIs(t, err, domain.ErrInvalidHolder)
	_, err = f.certifier.Retire(ctx, "K", f.batchID, 1, Options{})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = f.certifier.GetCertificate(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type brokenJournal struct {
	*memory.JournalStore
	fail bool
}

func (j *brokenJournal) Append(ctx context.Context, e *domain.JournalEntry) error {
	if j.fail {
		return errors.New("journal unavailable")
	}
	return j.JournalStore.Append(ctx, e)
}

func TestRetire_AtomicOnJournalFailure(t *testing.T) {
	journal := &brokenJournal{JournalStore: memory.NewJournalStore()}
	f := newFixture(t, journal)
	ctx := context.Background()

	journal.fail = true
	_, err := f.certifier.Retire(ctx, "H", f.batchID, 100, Options{})
	require.Error(t, err)

	// Neither the burn nor the certificate happened
	assert.Empty(t, f.certifier.AllCertificates(ctx))
	assert.Equal(t, int64(0), f.certifier.TotalRetired(ctx, "H"))
	bal, _ := f.ledger.BalanceOf(ctx, "H", f.batchID)
	assert.Equal(t, int64(1_000), bal.Free)
	s, _ := f.ledger.Supply(ctx, f.batchID)
	assert.Equal(t, int64(0), s.Retired)
}

func TestRetire_ConcurrentNeverOverdraws(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.certifier.Retire(ctx, "H", f.batchID, 75, Options{})
		}()
	}
	wg.Wait()

	// 13 * 75 = 975 fits, the 14th would not
	certs := f.certifier.ListCertificates(ctx, "H")
	assert.Len(t, certs, 13)
	bal, _ := f.ledger.BalanceOf(ctx, "H", f.batchID)
	assert.Equal(t, int64(25), bal.Free)

	s, _ := f.ledger.Supply(ctx, f.batchID)
	assert.Equal(t, int64(975), s.Retired)
	assert.True(t, s.Conserved())
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.ledger.Transfer(ctx, f.batchID, "H", "A", 300))
	require.NoError(t, f.ledger.Transfer(ctx, f.batchID, "H", "B", 300))

	for _, r := range []struct {
		holder string
		amount int64
	}{{"A", 100}, {"B", 50}, {"A", 20}, {"H", 120}, {"B", 70}} {
		_, err := f.certifier.Retire(ctx, r.holder, f.batchID, r.amount, Options{})
		require.NoError(t, err)
	}

	board := f.certifier.Leaderboard(ctx, 0)
	require.Len(t, board, 3)
	// A, B and H all retired 120; ties are ordered by holder
	assert.Equal(t, []string{"A", "B", "H"}, []string{board[0].Holder, board[1].Holder, board[2].Holder})
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, 2, board[0].Certificates)

	top := f.certifier.Leaderboard(ctx, 1)
	require.Len(t, top, 1)
	assert.Equal(t, int64(120), top[0].Retired)
	assert.Equal(t, int64(120), f.certifier.TotalRetired(ctx, "A"))
}
