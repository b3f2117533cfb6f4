package domain

// AccountKey addresses a single (holder, batch) balance.
type AccountKey struct {
	Holder  string
	BatchID string
}

// Balance is a holder's unit count for one batch, split into the free part
// (transferable, retirable) and the part escrowed in staking positions.
type Balance struct {
	Holder  string
	BatchID string
	Free    int64 // never negative
	Staked  int64 // never negative
}

// Key returns the account key of the balance.
func (b Balance) Key() AccountKey {
	return AccountKey{Holder: b.Holder, BatchID: b.BatchID}
}

// Total returns free plus staked units.
func (b Balance) Total() int64 {
	return b.Free + b.Staked
}
