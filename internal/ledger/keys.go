package ledger

// Lock keys. Every record a transaction reads for a decision or writes
// must be covered by one of these keys in the Update call.

// AccountKey covers the (holder, batch) balance.
func AccountKey(holder, batchID string) string {
	return "acct|" + holder + "|" + batchID
}

// BatchKey covers batch registration and the batch's retired total.
func BatchKey(batchID string) string {
	return "batch|" + batchID
}

// PositionKey covers one staking position.
func PositionKey(positionID string) string {
	return "pos|" + positionID
}

// BoostKey covers a holder's boost set.
func BoostKey(holder string) string {
	return "boost|" + holder
}

// RewardKey covers a holder's paid-out reward account.
func RewardKey(holder string) string {
	return "reward|" + holder
}
