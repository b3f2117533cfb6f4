// Package reporting renders the state of the ledger as a Markdown impact
// report and CSV supply table.
package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/engine"
	"carbon-ledger/internal/retirement"
	"carbon-ledger/internal/storage"
)

// Source is the ledger state a report is built from. *engine.Engine
// implements it.
type Source interface {
	Snapshot(ctx context.Context) *engine.Snapshot
	Leaderboard(ctx context.Context, limit int) []retirement.LeaderboardEntry
}

// Generator produces reports from ledger state.
type Generator struct {
	source           Source
	checkpoints      storage.CheckpointStore
	leaderboardSize  int
	certificateLimit int
	now              func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator. checkpoints may be nil.
func NewGenerator(source Source, checkpoints storage.CheckpointStore) *Generator {
	return &Generator{
		source:           source,
		checkpoints:      checkpoints,
		leaderboardSize:  10,
		certificateLimit: 20,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithLimits sets the number of leaderboard rows and certificates listed.
func (g *Generator) WithLimits(leaderboard, certificates int) *Generator {
	g.leaderboardSize = leaderboard
	g.certificateLimit = certificates
	return g
}

// Generate produces a complete report.
func (g *Generator) Generate(ctx context.Context) (*Report, error) {
	snap := g.source.Snapshot(ctx)

	integrity, err := g.generateIntegrity(ctx, snap)
	if err != nil {
		return nil, err
	}

	return &Report{
		GeneratedAt:  g.now(),
		Seq:          snap.Seq,
		Summary:      generateSummary(snap),
		Integrity:    *integrity,
		Batches:      generateBatchRows(snap),
		Leaderboard:  g.generateLeaderboard(ctx),
		Certificates: g.generateCertificates(snap),
	}, nil
}

// generateSummary computes ledger-wide totals.
func generateSummary(snap *engine.Snapshot) Summary {
	s := Summary{
		Batches:     len(snap.Batches),
		RewardsPaid: decimal.Zero,
	}
	for _, supply := range snap.Supplies {
		s.TotalSupply += supply.TotalSupply
		s.Free += supply.Free
		s.Staked += supply.Staked
		s.Retired += supply.Retired
	}

	holders := make(map[string]struct{})
	for _, b := range snap.Balances {
		if b.Free > 0 || b.Staked > 0 {
			holders[b.Holder] = struct{}{}
		}
	}
	s.Holders = len(holders)

	for _, p := range snap.Positions {
		if p.Status != domain.PositionClosed {
			s.OpenPositions++
		}
	}
	for _, paid := range snap.Rewards {
		s.RewardsPaid = s.RewardsPaid.Add(paid)
	}
	return s
}

// generateIntegrity checks conservation and loads the last checkpoint.
func (g *Generator) generateIntegrity(ctx context.Context, snap *engine.Snapshot) (*IntegritySection, error) {
	sec := &IntegritySection{Conserved: true, LastVerification: "never"}
	for _, supply := range snap.Supplies {
		if !supply.Conserved() {
			sec.Conserved = false
			sec.Violations = append(sec.Violations, supply.BatchID)
		}
	}

	if g.checkpoints == nil {
		return sec, nil
	}
	cp, err := g.checkpoints.GetLast(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return sec, nil
	}
	if err != nil {
		return nil, err
	}

	sec.LastVerifiedSeq = cp.Seq
	sec.LastVerifiedAt = cp.VerifiedAt
	sec.LastVerification = "match"
	if !cp.Conserved || cp.Divergent > 0 {
		sec.LastVerification = "divergent"
	}
	return sec, nil
}

// generateBatchRows joins batches with their supply, sorted by batch id.
func generateBatchRows(snap *engine.Snapshot) []BatchRow {
	supplies := make(map[string]domain.Supply, len(snap.Supplies))
	for _, s := range snap.Supplies {
		supplies[s.BatchID] = s
	}

	rows := make([]BatchRow, 0, len(snap.Batches))
	for _, b := range snap.Batches {
		s := supplies[b.BatchID]
		row := BatchRow{
			BatchID:     b.BatchID,
			ExternalID:  b.Metadata.ExternalID,
			ProjectName: b.Metadata.ProjectName,
			Vintage:     b.Metadata.Vintage,
			TotalSupply: b.TotalSupply,
			Free:        s.Free,
			Staked:      s.Staked,
			Retired:     s.Retired,
			Conserved:   s.Conserved(),
		}
		if b.TotalSupply > 0 {
			row.RetiredPct = float64(s.Retired) / float64(b.TotalSupply) * 100
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].BatchID < rows[j].BatchID
	})
	return rows
}

func (g *Generator) generateLeaderboard(ctx context.Context) []LeaderboardRow {
	entries := g.source.Leaderboard(ctx, g.leaderboardSize)
	rows := make([]LeaderboardRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, LeaderboardRow(e))
	}
	return rows
}

// generateCertificates lists the most recent certificates first; ties are
// broken by certificate id.
func (g *Generator) generateCertificates(snap *engine.Snapshot) []CertificateRow {
	certs := make([]*domain.RetirementCertificate, len(snap.Certificates))
	copy(certs, snap.Certificates)
	sort.Slice(certs, func(i, j int) bool {
		if certs[i].RetiredAt != certs[j].RetiredAt {
			return certs[i].RetiredAt > certs[j].RetiredAt
		}
		return certs[i].CertificateID < certs[j].CertificateID
	})
	if g.certificateLimit > 0 && len(certs) > g.certificateLimit {
		certs = certs[:g.certificateLimit]
	}

	rows := make([]CertificateRow, 0, len(certs))
	for _, c := range certs {
		row := CertificateRow{
			CertificateID: c.CertificateID,
			Holder:        c.Holder,
			BatchID:       c.BatchID,
			Amount:        c.Amount,
			RetiredAt:     c.RetiredAt,
			Fingerprint:   c.Fingerprint,
		}
		if c.Beneficiary != nil {
			row.Beneficiary = *c.Beneficiary
		}
		rows = append(rows, row)
	}
	return rows
}
