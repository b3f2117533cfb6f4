// Package verification rebuilds the ledger from its journal and checks the
// result against the live state and against supply conservation.
package verification

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/engine"
)

// FieldDivergence represents a mismatch between live and replayed values.
type FieldDivergence struct {
	Record   string      // record key, e.g. "position|<id>"
	Field    string      // field name
	Expected interface{} // live value
	Actual   interface{} // replayed value
}

func (d FieldDivergence) String() string {
	return fmt.Sprintf("%s.%s: live=%v replayed=%v", d.Record, d.Field, d.Expected, d.Actual)
}

// VerificationReport contains the outcome of one verification run.
type VerificationReport struct {
	Seq         int64             // journal seq the run covered
	TxID        string            // tx id at Seq
	Entries     int64             // entries replayed
	Supplies    []domain.Supply   // per-batch supply of the replayed state
	Conserved   bool              // every batch satisfies free+staked+retired == total
	Divergences []FieldDivergence // live vs replayed mismatches
	BadCerts    []string          // certificates whose fingerprint does not match
	DurationMs  int64
}

// Match reports whether the run found nothing wrong.
func (r *VerificationReport) Match() bool {
	return r.Conserved && len(r.Divergences) == 0 && len(r.BadCerts) == 0
}

// Status returns "match" or "divergent" for metrics and logs.
func (r *VerificationReport) Status() string {
	if r.Match() {
		return "match"
	}
	return "divergent"
}

// Verifier verifies a ledger journal.
type Verifier interface {
	// Verify replays the journal into a read-only engine and checks it.
	Verify(ctx context.Context) (*VerificationReport, error)
}

// CompareSnapshots compares two engine snapshots and returns divergences.
// Decimals are compared by value, so 0.10 and 0.1 match.
func CompareSnapshots(live, replayed *engine.Snapshot) []FieldDivergence {
	var divs []FieldDivergence

	if live.Seq != replayed.Seq {
		divs = append(divs, FieldDivergence{Record: "journal", Field: "Seq", Expected: live.Seq, Actual: replayed.Seq})
	}

	divs = append(divs, CompareBatches(live.Batches, replayed.Batches)...)
	divs = append(divs, CompareBalances(live.Balances, replayed.Balances)...)
	divs = append(divs, CompareSupplies(live.Supplies, replayed.Supplies)...)
	divs = append(divs, ComparePositions(live.Positions, replayed.Positions)...)
	divs = append(divs, CompareBoosts(live.Boosts, replayed.Boosts)...)
	divs = append(divs, CompareCertificates(live.Certificates, replayed.Certificates)...)
	divs = append(divs, CompareRewards(live.Rewards, replayed.Rewards)...)
	return divs
}

// CompareBatches compares registered batches by id.
func CompareBatches(live, replayed []*domain.CreditBatch) []FieldDivergence {
	var divs []FieldDivergence
	got := make(map[string]*domain.CreditBatch, len(replayed))
	for _, b := range replayed {
		got[b.BatchID] = b
	}

	for _, want := range live {
		rec := "batch|" + want.BatchID
		b, ok := got[want.BatchID]
		if !ok {
			divs = append(divs, missing(rec))
			continue
		}
		delete(got, want.BatchID)

		if want.Registrant != b.Registrant {
			divs = append(divs, FieldDivergence{rec, "Registrant", want.Registrant, b.Registrant})
		}
		if want.TotalSupply != b.TotalSupply {
			divs = append(divs, FieldDivergence{rec, "TotalSupply", want.TotalSupply, b.TotalSupply})
		}
		if !want.BaseAPY.Equal(b.BaseAPY) {
			divs = append(divs, FieldDivergence{rec, "BaseAPY", want.BaseAPY.String(), b.BaseAPY.String()})
		}
		if want.MintedAt != b.MintedAt {
			divs = append(divs, FieldDivergence{rec, "MintedAt", want.MintedAt, b.MintedAt})
		}
		if want.Metadata.ExternalID != b.Metadata.ExternalID {
			divs = append(divs, FieldDivergence{rec, "Metadata.ExternalID", want.Metadata.ExternalID, b.Metadata.ExternalID})
		}
	}
	return append(divs, extra("batch|", got)...)
}

// CompareBalances compares balances keyed by (holder, batch).
func CompareBalances(live, replayed []domain.Balance) []FieldDivergence {
	var divs []FieldDivergence
	got := make(map[string]domain.Balance, len(replayed))
	for _, b := range replayed {
		got[balanceKey(b)] = b
	}

	for _, want := range live {
		k := balanceKey(want)
		b, ok := got[k]
		if !ok {
			if want.Free != 0 || want.Staked != 0 {
				divs = append(divs, missing(k))
			}
			continue
		}
		delete(got, k)

		if want.Free != b.Free {
			divs = append(divs, FieldDivergence{k, "Free", want.Free, b.Free})
		}
		if want.Staked != b.Staked {
			divs = append(divs, FieldDivergence{k, "Staked", want.Staked, b.Staked})
		}
	}

	for k, b := range got {
		if b.Free != 0 || b.Staked != 0 {
			divs = append(divs, unexpected(k))
		}
	}
	return divs
}

func balanceKey(b domain.Balance) string {
	return "acct|" + b.Holder + "|" + b.BatchID
}

// CompareSupplies compares per-batch supply breakdowns.
func CompareSupplies(live, replayed []domain.Supply) []FieldDivergence {
	var divs []FieldDivergence
	got := make(map[string]domain.Supply, len(replayed))
	for _, s := range replayed {
		got[s.BatchID] = s
	}

	for _, want := range live {
		rec := "supply|" + want.BatchID
		s, ok := got[want.BatchID]
		if !ok {
			divs = append(divs, missing(rec))
			continue
		}
		delete(got, want.BatchID)

		if want != s {
			divs = append(divs, FieldDivergence{rec, "Supply", want, s})
		}
	}
	return append(divs, extra("supply|", got)...)
}

// ComparePositions compares stored position records field by field.
func ComparePositions(live, replayed []*domain.StakingPosition) []FieldDivergence {
	var divs []FieldDivergence
	got := make(map[string]*domain.StakingPosition, len(replayed))
	for _, p := range replayed {
		got[p.PositionID] = p
	}

	for _, want := range live {
		rec := "pos|" + want.PositionID
		p, ok := got[want.PositionID]
		if !ok {
			divs = append(divs, missing(rec))
			continue
		}
		delete(got, want.PositionID)

		if want.Holder != p.Holder {
			divs = append(divs, FieldDivergence{rec, "Holder", want.Holder, p.Holder})
		}
		if want.BatchID != p.BatchID {
			divs = append(divs, FieldDivergence{rec, "BatchID", want.BatchID, p.BatchID})
		}
		if want.Amount != p.Amount {
			divs = append(divs, FieldDivergence{rec, "Amount", want.Amount, p.Amount})
		}
		if want.LockPeriod != p.LockPeriod {
			divs = append(divs, FieldDivergence{rec, "LockPeriod", want.LockPeriod, p.LockPeriod})
		}
		if want.StartTime != p.StartTime {
			divs = append(divs, FieldDivergence{rec, "StartTime", want.StartTime, p.StartTime})
		}
		if want.UnlockTime != p.UnlockTime {
			divs = append(divs, FieldDivergence{rec, "UnlockTime", want.UnlockTime, p.UnlockTime})
		}
		divs = appendDecimal(divs, rec, "BaseAPY", want.BaseAPY, p.BaseAPY)
		divs = appendDecimal(divs, rec, "LockMultiplier", want.LockMultiplier, p.LockMultiplier)
		divs = appendDecimal(divs, rec, "BoostMultiplier", want.BoostMultiplier, p.BoostMultiplier)
		divs = appendDecimal(divs, rec, "AccumulatedReward", want.AccumulatedReward, p.AccumulatedReward)
		divs = appendDecimal(divs, rec, "ClaimedReward", want.ClaimedReward, p.ClaimedReward)
		if want.LastAccrualTime != p.LastAccrualTime {
			divs = append(divs, FieldDivergence{rec, "LastAccrualTime", want.LastAccrualTime, p.LastAccrualTime})
		}
		if want.ClosedAt != p.ClosedAt {
			divs = append(divs, FieldDivergence{rec, "ClosedAt", want.ClosedAt, p.ClosedAt})
		}
		if want.Status != p.Status {
			divs = append(divs, FieldDivergence{rec, "Status", want.Status, p.Status})
		}
	}
	return append(divs, extra("pos|", got)...)
}

// CompareBoosts compares grants keyed by (holder, boost id).
func CompareBoosts(live, replayed []*domain.BoostGrant) []FieldDivergence {
	var divs []FieldDivergence
	got := make(map[string]*domain.BoostGrant, len(replayed))
	for _, g := range replayed {
		got[g.Holder+"|"+g.BoostID] = g
	}

	for _, want := range live {
		k := want.Holder + "|" + want.BoostID
		rec := "boost|" + k
		g, ok := got[k]
		if !ok {
			divs = append(divs, missing(rec))
			continue
		}
		delete(got, k)

		divs = appendDecimal(divs, rec, "Percentage", want.Percentage, g.Percentage)
		if want.GrantedAt != g.GrantedAt {
			divs = append(divs, FieldDivergence{rec, "GrantedAt", want.GrantedAt, g.GrantedAt})
		}
	}
	return append(divs, extra("boost|", got)...)
}

// CompareCertificates compares retirement certificates by id.
func CompareCertificates(live, replayed []*domain.RetirementCertificate) []FieldDivergence {
	var divs []FieldDivergence
	got := make(map[string]*domain.RetirementCertificate, len(replayed))
	for _, c := range replayed {
		got[c.CertificateID] = c
	}

	for _, want := range live {
		rec := "cert|" + want.CertificateID
		c, ok := got[want.CertificateID]
		if !ok {
			divs = append(divs, missing(rec))
			continue
		}
		delete(got, want.CertificateID)

		if want.Holder != c.Holder {
			divs = append(divs, FieldDivergence{rec, "Holder", want.Holder, c.Holder})
		}
		if want.BatchID != c.BatchID {
			divs = append(divs, FieldDivergence{rec, "BatchID", want.BatchID, c.BatchID})
		}
		if want.Amount != c.Amount {
			divs = append(divs, FieldDivergence{rec, "Amount", want.Amount, c.Amount})
		}
		if want.RetiredAt != c.RetiredAt {
			divs = append(divs, FieldDivergence{rec, "RetiredAt", want.RetiredAt, c.RetiredAt})
		}
		if !equalStringPtr(want.Beneficiary, c.Beneficiary) {
			divs = append(divs, FieldDivergence{rec, "Beneficiary", want.Beneficiary, c.Beneficiary})
		}
		if !equalStringPtr(want.Reason, c.Reason) {
			divs = append(divs, FieldDivergence{rec, "Reason", want.Reason, c.Reason})
		}
		if want.Fingerprint != c.Fingerprint {
			divs = append(divs, FieldDivergence{rec, "Fingerprint", want.Fingerprint, c.Fingerprint})
		}
		if want.TxID != c.TxID {
			divs = append(divs, FieldDivergence{rec, "TxID", want.TxID, c.TxID})
		}
	}
	return append(divs, extra("cert|", got)...)
}

// CompareRewards compares the reward paid out per holder.
func CompareRewards(live, replayed map[string]decimal.Decimal) []FieldDivergence {
	var divs []FieldDivergence
	holders := make(map[string]struct{}, len(live)+len(replayed))
	for h := range live {
		holders[h] = struct{}{}
	}
	for h := range replayed {
		holders[h] = struct{}{}
	}

	for _, h := range sortedKeys(holders) {
		divs = appendDecimal(divs, "reward|"+h, "Paid", live[h], replayed[h])
	}
	return divs
}

func appendDecimal(divs []FieldDivergence, rec, field string, want, got decimal.Decimal) []FieldDivergence {
	if want.Equal(got) {
		return divs
	}
	return append(divs, FieldDivergence{rec, field, want.String(), got.String()})
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func missing(rec string) FieldDivergence {
	return FieldDivergence{Record: rec, Field: "Exists", Expected: true, Actual: false}
}

func unexpected(rec string) FieldDivergence {
	return FieldDivergence{Record: rec, Field: "Exists", Expected: false, Actual: true}
}

func extra[T any](prefix string, left map[string]T) []FieldDivergence {
	if len(left) == 0 {
		return nil
	}
	keys := make(map[string]struct{}, len(left))
	for k := range left {
		keys[k] = struct{}{}
	}
	var divs []FieldDivergence
	for _, k := range sortedKeys(keys) {
		divs = append(divs, unexpected(prefix+k))
	}
	return divs
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
