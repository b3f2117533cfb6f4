package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"carbon-ledger/internal/domain"
)

// Snapshot is a consistent copy of the engine state at one journal seq.
// Positions are the stored records, not accrued to the current time.
type Snapshot struct {
	Seq          int64
	Batches      []*domain.CreditBatch
	Balances     []domain.Balance // ordered by (batch id, holder)
	Supplies     []domain.Supply
	Positions    []*domain.StakingPosition
	Boosts       []*domain.BoostGrant
	Certificates []*domain.RetirementCertificate
	Rewards      map[string]decimal.Decimal // holder -> paid out
}

// Snapshot copies the engine state with no transaction in flight.
func (e *Engine) Snapshot(ctx context.Context) *Snapshot {
	var s *Snapshot
	e.ledger.Quiesce(func() {
		s = &Snapshot{
			Seq:          e.ledger.Seq(),
			Batches:      e.registry.ListBatches(ctx),
			Positions:    e.staking.Records(ctx),
			Certificates: e.certifier.AllCertificates(ctx),
			Rewards:      e.staking.Rewards(ctx),
		}
		s.Supplies, _ = e.ledger.CheckConservation(ctx)
		s.Balances = e.ledger.Balances(ctx)
		s.Boosts = e.boosts.All(ctx)
	})
	return s
}
