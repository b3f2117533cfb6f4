package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

// Report represents the ledger impact report structure.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	Seq         int64 // journal seq the report was taken at

	Summary Summary

	// Integrity (conservation and last verification)
	Integrity IntegritySection

	// Batches sorted by batch id
	Batches []BatchRow

	// Holders ranked by retired units
	Leaderboard []LeaderboardRow

	// Certificates, most recent first
	Certificates []CertificateRow
}

// Summary contains ledger-wide totals.
type Summary struct {
	Batches       int
	Holders       int
	TotalSupply   int64
	Free          int64
	Staked        int64
	Retired       int64
	OpenPositions int
	RewardsPaid   decimal.Decimal
}

// IntegritySection contains conservation violations and the last
// recorded verification.
type IntegritySection struct {
	Conserved        bool
	Violations       []string // batch ids failing conservation
	LastVerifiedSeq  int64
	LastVerifiedAt   int64 // Unix ms, 0 if never verified
	LastVerification string
}

// BatchRow represents one row in the batch table.
type BatchRow struct {
	BatchID     string
	ExternalID  string
	ProjectName string
	Vintage     int
	TotalSupply int64
	Free        int64
	Staked      int64
	Retired     int64
	RetiredPct  float64 // retired / total * 100
	Conserved   bool
}

// LeaderboardRow is one ranked holder.
type LeaderboardRow struct {
	Rank         int
	Holder       string
	Retired      int64
	Certificates int
}

// CertificateRow lists one retirement certificate.
type CertificateRow struct {
	CertificateID string
	Holder        string
	BatchID       string
	Amount        int64
	RetiredAt     int64 // Unix ms
	Beneficiary   string
	Fingerprint   string
}
