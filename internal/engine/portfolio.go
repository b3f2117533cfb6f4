package engine

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"carbon-ledger/internal/domain"
)

// Holding is a holder's position in one batch.
type Holding struct {
	BatchID string
	Free    int64
	Staked  int64
	Retired int64
}

// Portfolio summarizes a holder's units, positions, rewards and impact.
type Portfolio struct {
	Holder          string
	Holdings        []Holding // ordered by batch id
	Positions       []*domain.StakingPosition
	Boosts          []*domain.BoostGrant
	BoostMultiplier decimal.Decimal
	TotalFree       int64
	TotalStaked     int64
	TotalRetired    int64           // carbon offset, in units
	PendingRewards  decimal.Decimal // accrued, not yet claimed
	PaidRewards     decimal.Decimal // claimed so far
	Certificates    int
	ObservedAt      int64 // Unix timestamp in milliseconds
}

// Portfolio builds the holder's portfolio as of now.
func (e *Engine) Portfolio(ctx context.Context, holder string) *Portfolio {
	p := &Portfolio{
		Holder:         holder,
		PendingRewards: decimal.Zero,
		ObservedAt:     e.clock.Now().UnixMilli(),
	}

	byBatch := make(map[string]*Holding)
	holding := func(batchID string) *Holding {
		h, ok := byBatch[batchID]
		if !ok {
			h = &Holding{BatchID: batchID}
			byBatch[batchID] = h
		}
		return h
	}

	for _, b := range e.ledger.Holdings(ctx, holder) {
		h := holding(b.BatchID)
		h.Free = b.Free
		h.Staked = b.Staked
		p.TotalFree += b.Free
		p.TotalStaked += b.Staked
	}

	certs := e.certifier.ListCertificates(ctx, holder)
	for _, c := range certs {
		holding(c.BatchID).Retired += c.Amount
		p.TotalRetired += c.Amount
	}
	p.Certificates = len(certs)

	p.Positions = e.staking.ListPositions(ctx, holder)
	for _, pos := range p.Positions {
		p.PendingRewards = p.PendingRewards.Add(pos.AccumulatedReward)
	}
	p.PaidRewards = e.staking.RewardBalance(ctx, holder)

	p.Boosts = e.boosts.GetActiveBoosts(ctx, holder)
	p.BoostMultiplier = domain.BoostMultiplier(p.Boosts)

	p.Holdings = make([]Holding, 0, len(byBatch))
	for _, h := range byBatch {
		p.Holdings = append(p.Holdings, *h)
	}
	sort.Slice(p.Holdings, func(i, j int) bool {
		return p.Holdings[i].BatchID < p.Holdings[j].BatchID
	})
	return p
}
