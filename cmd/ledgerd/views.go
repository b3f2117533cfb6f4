package main

import (
	"github.com/shopspring/decimal"

	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/engine"
	"carbon-ledger/internal/retirement"
	"carbon-ledger/internal/storage"
	"carbon-ledger/internal/verification"
)

// SupplyView is the JSON form of a batch supply.
type SupplyView struct {
	BatchID     string `json:"batch_id"`
	TotalSupply int64  `json:"total_supply"`
	Free        int64  `json:"free"`
	Staked      int64  `json:"staked"`
	Retired     int64  `json:"retired"`
	Conserved   bool   `json:"conserved"`
}

func supplyView(s domain.Supply) SupplyView {
	return SupplyView{
		BatchID:     s.BatchID,
		TotalSupply: s.TotalSupply,
		Free:        s.Free,
		Staked:      s.Staked,
		Retired:     s.Retired,
		Conserved:   s.Conserved(),
	}
}

// ConservationView is the response for /conservation.
type ConservationView struct {
	Seq       int64        `json:"seq"`
	Conserved bool         `json:"conserved"`
	Batches   []SupplyView `json:"batches"`
}

// SnapshotView is one stored supply snapshot.
type SnapshotView struct {
	TakenAt int64 `json:"taken_at"`
	Free    int64 `json:"free"`
	Staked  int64 `json:"staked"`
	Retired int64 `json:"retired"`
}

// BatchView is the JSON form of a credit batch.
type BatchView struct {
	BatchID     string            `json:"batch_id"`
	ExternalID  string            `json:"external_id"`
	ProjectName string            `json:"project_name,omitempty"`
	Registry    string            `json:"registry,omitempty"`
	Vintage     int               `json:"vintage,omitempty"`
	Methodology string            `json:"methodology,omitempty"`
	Location    string            `json:"location,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Registrant  string            `json:"registrant"`
	TotalSupply int64             `json:"total_supply"`
	BaseAPY     decimal.Decimal   `json:"base_apy"`
	MintedAt    int64             `json:"minted_at"`
}

func batchView(b *domain.CreditBatch) BatchView {
	return BatchView{
		BatchID:     b.BatchID,
		ExternalID:  b.Metadata.ExternalID,
		ProjectName: b.Metadata.ProjectName,
		Registry:    b.Metadata.Registry,
		Vintage:     b.Metadata.Vintage,
		Methodology: b.Metadata.Methodology,
		Location:    b.Metadata.Location,
		Attributes:  b.Metadata.Attributes,
		Registrant:  b.Registrant,
		TotalSupply: b.TotalSupply,
		BaseAPY:     b.BaseAPY,
		MintedAt:    b.MintedAt,
	}
}

// PositionView is the JSON form of a staking position.
type PositionView struct {
	PositionID        string          `json:"position_id"`
	Holder            string          `json:"holder"`
	BatchID           string          `json:"batch_id"`
	Amount            int64           `json:"amount"`
	LockPeriod        string          `json:"lock_period"`
	StartTime         int64           `json:"start_time"`
	UnlockTime        int64           `json:"unlock_time"`
	BaseAPY           decimal.Decimal `json:"base_apy"`
	LockMultiplier    decimal.Decimal `json:"lock_multiplier"`
	BoostMultiplier   decimal.Decimal `json:"boost_multiplier"`
	AccumulatedReward decimal.Decimal `json:"accumulated_reward"`
	ClaimedReward     decimal.Decimal `json:"claimed_reward"`
	Status            string          `json:"status"`
	ClosedAt          int64           `json:"closed_at,omitempty"`
}

func positionView(p *domain.StakingPosition) PositionView {
	return PositionView{
		PositionID:        p.PositionID,
		Holder:            p.Holder,
		BatchID:           p.BatchID,
		Amount:            p.Amount,
		LockPeriod:        p.LockPeriod.String(),
		StartTime:         p.StartTime,
		UnlockTime:        p.UnlockTime,
		BaseAPY:           p.BaseAPY,
		LockMultiplier:    p.LockMultiplier,
		BoostMultiplier:   p.BoostMultiplier,
		AccumulatedReward: p.AccumulatedReward,
		ClaimedReward:     p.ClaimedReward,
		Status:            string(p.Status),
		ClosedAt:          p.ClosedAt,
	}
}

// CertificateView is the JSON form of a retirement certificate.
type CertificateView struct {
	CertificateID string  `json:"certificate_id"`
	Holder        string  `json:"holder"`
	BatchID       string  `json:"batch_id"`
	Amount        int64   `json:"amount"`
	RetiredAt     int64   `json:"retired_at"`
	Beneficiary   *string `json:"beneficiary,omitempty"`
	Reason        *string `json:"reason,omitempty"`
	Fingerprint   string  `json:"fingerprint"`
	TxID          string  `json:"tx_id"`
}

func certificateView(c *domain.RetirementCertificate) CertificateView {
	return CertificateView{
		CertificateID: c.CertificateID,
		Holder:        c.Holder,
		BatchID:       c.BatchID,
		Amount:        c.Amount,
		RetiredAt:     c.RetiredAt,
		Beneficiary:   c.Beneficiary,
		Reason:        c.Reason,
		Fingerprint:   c.Fingerprint,
		TxID:          c.TxID,
	}
}

// BoostView is one active boost.
type BoostView struct {
	BoostID    string          `json:"boost_id"`
	Percentage decimal.Decimal `json:"percentage"`
	GrantedAt  int64           `json:"granted_at"`
}

// HoldingView is a holder's units in one batch.
type HoldingView struct {
	BatchID string `json:"batch_id"`
	Free    int64  `json:"free"`
	Staked  int64  `json:"staked"`
	Retired int64  `json:"retired"`
}

// PortfolioView is the response for /portfolio/{holder}.
type PortfolioView struct {
	Holder          string          `json:"holder"`
	Holdings        []HoldingView   `json:"holdings"`
	Positions       []PositionView  `json:"positions"`
	Boosts          []BoostView     `json:"boosts"`
	BoostMultiplier decimal.Decimal `json:"boost_multiplier"`
	TotalFree       int64           `json:"total_free"`
	TotalStaked     int64           `json:"total_staked"`
	TotalRetired    int64           `json:"total_retired"`
	PendingRewards  decimal.Decimal `json:"pending_rewards"`
	PaidRewards     decimal.Decimal `json:"paid_rewards"`
	Certificates    int             `json:"certificates"`
	ObservedAt      int64           `json:"observed_at"`
}

func portfolioView(p *engine.Portfolio) PortfolioView {
	v := PortfolioView{
		Holder:          p.Holder,
		Holdings:        make([]HoldingView, 0, len(p.Holdings)),
		Positions:       make([]PositionView, 0, len(p.Positions)),
		Boosts:          make([]BoostView, 0, len(p.Boosts)),
		BoostMultiplier: p.BoostMultiplier,
		TotalFree:       p.TotalFree,
		TotalStaked:     p.TotalStaked,
		TotalRetired:    p.TotalRetired,
		PendingRewards:  p.PendingRewards,
		PaidRewards:     p.PaidRewards,
		Certificates:    p.Certificates,
		ObservedAt:      p.ObservedAt,
	}
	for _, h := range p.Holdings {
		v.Holdings = append(v.Holdings, HoldingView(h))
	}
	for _, pos := range p.Positions {
		v.Positions = append(v.Positions, positionView(pos))
	}
	for _, b := range p.Boosts {
		v.Boosts = append(v.Boosts, BoostView{BoostID: b.BoostID, Percentage: b.Percentage, GrantedAt: b.GrantedAt})
	}
	return v
}

// LeaderboardView is one leaderboard row.
type LeaderboardView struct {
	Rank         int    `json:"rank"`
	Holder       string `json:"holder"`
	Retired      int64  `json:"retired"`
	Certificates int    `json:"certificates"`
}

func leaderboardView(entries []retirement.LeaderboardEntry) []LeaderboardView {
	out := make([]LeaderboardView, 0, len(entries))
	for _, e := range entries {
		out = append(out, LeaderboardView(e))
	}
	return out
}

// VerificationView is the response for the /verify endpoints.
type VerificationView struct {
	Status      string   `json:"status"`
	Seq         int64    `json:"seq"`
	TxID        string   `json:"tx_id,omitempty"`
	Entries     int64    `json:"entries"`
	Conserved   bool     `json:"conserved"`
	Divergences []string `json:"divergences,omitempty"`
	BadCerts    []string `json:"bad_certificates,omitempty"`
	DurationMs  int64    `json:"duration_ms"`
	VerifiedAt  int64    `json:"verified_at,omitempty"`
}

func verificationView(r *verification.VerificationReport) VerificationView {
	v := VerificationView{
		Status:     r.Status(),
		Seq:        r.Seq,
		TxID:       r.TxID,
		Entries:    r.Entries,
		Conserved:  r.Conserved,
		BadCerts:   r.BadCerts,
		DurationMs: r.DurationMs,
	}
	for _, d := range r.Divergences {
		v.Divergences = append(v.Divergences, d.String())
	}
	return v
}

// checkpointView is used when the process has not verified since boot but
// a stored checkpoint exists.
func checkpointView(cp *storage.VerificationCheckpoint) VerificationView {
	status := "match"
	if !cp.Conserved || cp.Divergent > 0 {
		status = "divergent"
	}
	return VerificationView{
		Status:     status,
		Seq:        cp.Seq,
		TxID:       cp.TxID,
		Conserved:  cp.Conserved,
		VerifiedAt: cp.VerifiedAt,
	}
}

// StatusView is the response for /status.
type StatusView struct {
	Status       string `json:"status"`
	Uptime       string `json:"uptime"`
	Seq          int64  `json:"seq"`
	Batches      int    `json:"batches"`
	Verifying    bool   `json:"verifying"`
	VerifyRuns   int    `json:"verify_runs"`
	SnapshotRuns int    `json:"snapshot_runs"`
	LastError    string `json:"last_error,omitempty"`
}
