package domain

import "github.com/shopspring/decimal"

// BatchMetadata carries registry and quality fields for a credit batch.
// The ledger stores it verbatim and never interprets it, except ExternalID,
// which is the uniqueness key for registration.
type BatchMetadata struct {
	ExternalID  string            // registry serial (e.g. "VCS-1234-2021")
	ProjectName string            // human-readable project name
	Registry    string            // issuing registry (Verra, Gold Standard, ...)
	Vintage     int               // vintage year
	Methodology string            // methodology code (e.g. "VM0007")
	Location    string            // project location
	Attributes  map[string]string // free-form quality attributes
}

// Clone returns a deep copy of the metadata.
func (m BatchMetadata) Clone() BatchMetadata {
	if m.Attributes != nil {
		attrs := make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			attrs[k] = v
		}
		m.Attributes = attrs
	}
	return m
}

// CreditBatch represents one verified real-world project vintage,
// fractionalized into TotalSupply integer units.
type CreditBatch struct {
	BatchID     string          // content-derived from Metadata.ExternalID
	Registrant  string          // holder credited with the minted supply
	TotalSupply int64           // fixed at mint, never changes
	BaseAPY     decimal.Decimal // batch-level staking yield (0.10 = 10%)
	Metadata    BatchMetadata   // opaque registry metadata
	MintedAt    int64           // Unix timestamp in milliseconds
}

// Clone returns a deep copy of the batch.
func (b *CreditBatch) Clone() *CreditBatch {
	c := *b
	c.Metadata = b.Metadata.Clone()
	return &c
}

// Supply is a point-in-time breakdown of a batch's units across ledger states.
type Supply struct {
	BatchID     string
	TotalSupply int64 // minted units
	Free        int64 // sum of free balances
	Staked      int64 // sum of escrowed balances
	Retired     int64 // sum of burned units
}

// Circulating returns units that still exist in holder accounts.
func (s Supply) Circulating() int64 {
	return s.Free + s.Staked
}

// Conserved reports whether free + staked + retired equals the minted supply.
func (s Supply) Conserved() bool {
	return s.Free >= 0 && s.Staked >= 0 && s.Retired >= 0 &&
		s.Free+s.Staked+s.Retired == s.TotalSupply
}

// SupplySnapshot is a Supply observed at a point in time.
// Corresponds to supply_snapshots table.
type SupplySnapshot struct {
	BatchID     string
	TakenAt     int64 // Unix timestamp in milliseconds
	TotalSupply int64
	Free        int64
	Staked      int64
	Retired     int64
}

// Snapshot stamps the supply with a timestamp.
func (s Supply) Snapshot(at int64) *SupplySnapshot {
	return &SupplySnapshot{
		BatchID:     s.BatchID,
		TakenAt:     at,
		TotalSupply: s.TotalSupply,
		Free:        s.Free,
		Staked:      s.Staked,
		Retired:     s.Retired,
	}
}
