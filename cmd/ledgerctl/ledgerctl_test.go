package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-ledger/internal/backend"
	"carbon-ledger/internal/clock"
	"carbon-ledger/internal/config"
	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/engine"
	"carbon-ledger/internal/retirement"
	"carbon-ledger/internal/storage"
	"carbon-ledger/internal/storage/memory"
)

// writeJournal records a short history into a new SQLite journal and
// returns its path and the batch id.
func writeJournal(t *testing.T) (string, string) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	stores, err := backend.OpenJournal(ctx, config.JournalConfig{
		Backend:    config.BackendSQLite,
		SQLitePath: path,
		Migrate:    true,
	}, nil)
	require.NoError(t, err)
	defer stores.Close()

	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	e := engine.New(engine.Config{Journal: stores.Journal, Clock: clk})

	batchID, err := e.RegisterBatch(ctx, "registry", domain.BatchMetadata{
		ExternalID:  "VCS-1650-2020",
		ProjectName: "Rimba Raya",
		Registry:    "Verra",
		Vintage:     2020,
	}, 8000, decimal.RequireFromString("0.10"))
	require.NoError(t, err)

	clk.Advance(time.Hour)
	require.NoError(t, e.Transfer(ctx, batchID, "registry", "alice", 3000))
	require.NoError(t, e.GrantAchievement(ctx, "alice", domain.AchievementTreePlanter))

	posID, err := e.Stake(ctx, "alice", batchID, 1000, domain.Lock30d)
	require.NoError(t, err)

	clk.Advance(31 * 24 * time.Hour)
	_, err = e.ClaimRewards(ctx, posID)
	require.NoError(t, err)
	require.NoError(t, e.Unstake(ctx, posID))

	_, err = e.Retire(ctx, "alice", batchID, 500, retirement.Options{})
	require.NoError(t, err)

	return path, batchID
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func sqliteArgs(path string, args ...string) []string {
	return append([]string{"--journal", "sqlite", "--sqlite-path", path}, args...)
}

func TestJournalCmd(t *testing.T) {
	path, _ := writeJournal(t)

	out, err := run(t, sqliteArgs(path, "--json", "journal")...)
	require.NoError(t, err)

	var stats journalStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(7), stats.Entries)
	assert.Equal(t, int64(1), stats.FirstSeq)
	assert.Equal(t, int64(7), stats.LastSeq)
	assert.Equal(t, int64(1), stats.ByKind["STAKE"])
	assert.Equal(t, int64(1), stats.ByKind["RETIRE"])
}

func TestJournalCmd_Range(t *testing.T) {
	path, _ := writeJournal(t)

	out, err := run(t, sqliteArgs(path, "--json", "journal", "--from", "3", "--to", "4")...)
	require.NoError(t, err)

	var stats journalStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(2), stats.Entries)
	assert.Equal(t, int64(3), stats.FirstSeq)
}

func TestReplayCmd(t *testing.T) {
	path, _ := writeJournal(t)

	out, err := run(t, sqliteArgs(path, "--json", "replay")...)
	require.NoError(t, err)

	var s replaySummary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, int64(7), s.Seq)
	assert.Equal(t, 1, s.Batches)
	assert.Equal(t, 1, s.Positions)
	assert.Equal(t, 0, s.OpenPos)
	assert.Equal(t, 1, s.Certificates)
	assert.True(t, s.Conserved)

	out, err = run(t, sqliteArgs(path, "--json", "replay", "--to", "2")...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, int64(2), s.Seq)
	assert.Equal(t, 0, s.Positions)
}

func TestVerifyCmd(t *testing.T) {
	path, _ := writeJournal(t)

	out, err := run(t, sqliteArgs(path, "verify", "--checkpoint")...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Status:     match")

	stores, err := backend.OpenJournal(context.Background(), config.JournalConfig{
		Backend:    config.BackendSQLite,
		SQLitePath: path,
	}, nil)
	require.NoError(t, err)
	defer stores.Close()

	cp, err := stores.Checkpoints.GetLast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), cp.Seq)
	assert.True(t, cp.Conserved)
}

func TestSupplyCmd(t *testing.T) {
	path, batchID := writeJournal(t)

	out, err := run(t, sqliteArgs(path, "supply")...)
	require.NoError(t, err)
	assert.Contains(t, out, batchID)
	assert.Contains(t, out, "CONSERVED")

	out, err = run(t, sqliteArgs(path, "--json", "supply", batchID)...)
	require.NoError(t, err)

	var supplies []domain.Supply
	require.NoError(t, json.Unmarshal([]byte(out), &supplies))
	require.Len(t, supplies, 1)
	assert.Equal(t, int64(500), supplies[0].Retired)
	assert.Equal(t, int64(7500), supplies[0].Free)

	_, err = run(t, sqliteArgs(path, "supply", "unknown")...)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPortfolioCmd(t *testing.T) {
	path, batchID := writeJournal(t)

	out, err := run(t, sqliteArgs(path, "portfolio", "alice")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Retired (offset): 500")
	assert.Contains(t, out, batchID)
}

func TestCopyCmd(t *testing.T) {
	path, _ := writeJournal(t)
	target := filepath.Join(t.TempDir(), "copy.db")

	out, err := run(t, sqliteArgs(path, "copy", "--to-sqlite-path", target)...)
	require.NoError(t, err)
	assert.Contains(t, out, "copied 7 entries")

	// Nothing left to copy
	out, err = run(t, sqliteArgs(path, "copy", "--to-sqlite-path", target)...)
	require.NoError(t, err)
	assert.Contains(t, out, "copied 0 entries")

	out, err = run(t, sqliteArgs(target, "verify")...)
	require.NoError(t, err, out)
}

func TestCopyCmd_DivergentTarget(t *testing.T) {
	path, _ := writeJournal(t)
	// Position and certificate ids are random, so the second journal
	// differs from the first at the stake entry.
	other, _ := writeJournal(t)

	_, err := run(t, sqliteArgs(path, "copy", "--to-sqlite-path", other)...)
	assert.ErrorIs(t, err, storage.ErrDivergentHistory)
}

func TestBackfill(t *testing.T) {
	path, _ := writeJournal(t)
	ctx := context.Background()

	stores, err := backend.OpenJournal(ctx, config.JournalConfig{Backend: config.BackendSQLite, SQLitePath: path}, nil)
	require.NoError(t, err)
	defer stores.Close()

	sink := memory.NewJournalStore()
	published, skipped, err := backfill(ctx, stores.Journal, sink, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, published)
	assert.Equal(t, 0, skipped)

	published, skipped, err = backfill(ctx, stores.Journal, sink, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, published)
	assert.Equal(t, 3, skipped)
}

func TestReportCmd(t *testing.T) {
	path, batchID := writeJournal(t)
	dir := filepath.Join(t.TempDir(), "docs")

	out, err := run(t, sqliteArgs(path, "report", "--output-dir", dir, "--at", "2024-03-01T00:00:00Z")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Report generated at seq 7")

	md, err := os.ReadFile(filepath.Join(dir, "REPORT.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "Generated: 2024-03-01T00:00:00Z")
	assert.Contains(t, string(md), "Rimba Raya")
	assert.Contains(t, string(md), "| 1 | alice | 500 | 1 |")

	csv, err := os.ReadFile(filepath.Join(dir, "supply.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(csv), batchID+",VCS-1650-2020,2020,8000,7500,0,500,")

	_, err = run(t, sqliteArgs(path, "report", "--output-dir", dir, "--at", "yesterday")...)
	assert.Error(t, err)
}

func runJSON(t *testing.T, path string, args ...string) map[string]string {
	t.Helper()
	out, err := run(t, sqliteArgs(path, append([]string{"--json"}, args...)...)...)
	require.NoError(t, err, out)
	var res map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	return res
}

func TestOperationCmds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.db")

	batchID := runJSON(t, path, "batch", "register",
		"--registrant", "registry",
		"--external-id", "VCS-981-2019",
		"--project", "Katingan Peatland",
		"--vintage", "2019",
		"--attr", "sdg=13",
		"--supply", "2000",
		"--apy", "0.08",
	)["batch_id"]
	require.NotEmpty(t, batchID)

	_, err := run(t, sqliteArgs(path, "batch", "register", "--registrant", "registry", "--external-id", "VCS-981-2019", "--supply", "10")...)
	assert.ErrorIs(t, err, domain.ErrDuplicateBatch)

	out, err := run(t, sqliteArgs(path, "transfer", batchID, "registry", "alice", "400")...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "transferred 400 units")

	out, err = run(t, sqliteArgs(path, "boost", "achievement", "alice", domain.AchievementTreePlanter)...)
	require.NoError(t, err, out)

	_, err = run(t, sqliteArgs(path, "stake", "alice", batchID, "100", "7d")...)
	assert.ErrorIs(t, err, domain.ErrInvalidLockPeriod)

	posID := runJSON(t, path, "stake", "alice", batchID, "100", "30d")["position_id"]
	require.NotEmpty(t, posID)

	_, err = run(t, sqliteArgs(path, "unstake", posID)...)
	assert.ErrorIs(t, err, domain.ErrStillLocked)

	certID := runJSON(t, path, "retire", "alice", batchID, "50", "--beneficiary", "ACME")["certificate_id"]
	require.NotEmpty(t, certID)

	_, err = run(t, sqliteArgs(path, "retire", "alice", batchID, "1000")...)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Every write above went through the journal and replays to the same state.
	out, err = run(t, sqliteArgs(path, "verify", "--checkpoint")...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Status:     match")

	out, err = run(t, sqliteArgs(path, "--json", "supply", batchID)...)
	require.NoError(t, err)
	var supplies []domain.Supply
	require.NoError(t, json.Unmarshal([]byte(out), &supplies))
	require.Len(t, supplies, 1)
	assert.Equal(t, int64(100), supplies[0].Staked)
	assert.Equal(t, int64(50), supplies[0].Retired)
	assert.Equal(t, int64(1850), supplies[0].Free)

	out, err = run(t, sqliteArgs(path, "portfolio", "alice")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Retired (offset): 50")
}

func TestOperationCmds_MemoryJournal(t *testing.T) {
	_, err := run(t, "--journal", "memory", "transfer", "batch", "a", "b", "1")
	assert.ErrorIs(t, err, errMemoryJournal)
}
