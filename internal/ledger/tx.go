package ledger

import (
	"context"
	"fmt"

	"carbon-ledger/internal/domain"
)

// Tx is the staging area of one Update call. Reads see the transaction's
// own staged writes; nothing becomes visible to others until commit.
type Tx struct {
	ctx context.Context
	l   *Ledger
	op  domain.OpKind
	now int64

	keys     map[string]struct{}
	accounts map[domain.AccountKey]*domain.Balance
	supplies map[string]*batchSupply

	payload  domain.JournalPayload
	recorded bool
	hooks    []func(*domain.JournalEntry)
}

func newTx(ctx context.Context, l *Ledger, op domain.OpKind, keys []string) *Tx {
	held := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		held[k] = struct{}{}
	}
	return &Tx{
		ctx:      ctx,
		l:        l,
		op:       op,
		now:      l.clock.Now().UnixMilli(),
		keys:     held,
		accounts: make(map[domain.AccountKey]*domain.Balance),
		supplies: make(map[string]*batchSupply),
	}
}

// Context returns the context of the Update call.
func (tx *Tx) Context() context.Context {
	return tx.ctx
}

// Now returns the transaction timestamp in Unix milliseconds.
// It is fixed for the whole transaction and becomes the journal entry's At.
func (tx *Tx) Now() int64 {
	return tx.now
}

// Holds reports whether key was declared in the Update call.
func (tx *Tx) Holds(key string) bool {
	_, ok := tx.keys[key]
	return ok
}

// Require returns ErrKeyNotHeld for the first undeclared key.
func (tx *Tx) Require(keys ...string) error {
	for _, k := range keys {
		if !tx.Holds(k) {
			return fmt.Errorf("%w: %s", ErrKeyNotHeld, k)
		}
	}
	return nil
}

// Record sets the journal payload of the transaction.
func (tx *Tx) Record(payload domain.JournalPayload) {
	tx.payload = payload
	tx.recorded = true
}

// OnCommit registers fn to run after the journal append succeeded.
// Hooks publish the caller's staged records.
func (tx *Tx) OnCommit(fn func(e *domain.JournalEntry)) {
	tx.hooks = append(tx.hooks, fn)
}

// Balance returns the staged balance of holder in batchID.
func (tx *Tx) Balance(holder, batchID string) (domain.Balance, error) {
	b, err := tx.account(holder, batchID)
	if err != nil {
		return domain.Balance{}, err
	}
	return *b, nil
}

// BatchExists reports whether batchID has been minted, staged mints included.
func (tx *Tx) BatchExists(batchID string) bool {
	if _, ok := tx.supplies[batchID]; ok {
		return true
	}
	tx.l.mu.RLock()
	defer tx.l.mu.RUnlock()
	_, ok := tx.l.supplies[batchID]
	return ok
}

func (tx *Tx) account(holder, batchID string) (*domain.Balance, error) {
	if holder == "" {
		return nil, domain.ErrInvalidHolder
	}
	if err := tx.Require(AccountKey(holder, batchID)); err != nil {
		return nil, err
	}
	k := domain.AccountKey{Holder: holder, BatchID: batchID}
	if b, ok := tx.accounts[k]; ok {
		return b, nil
	}

	staged := &domain.Balance{Holder: holder, BatchID: batchID}
	tx.l.mu.RLock()
	if cur, ok := tx.l.accounts[batchID][holder]; ok {
		*staged = *cur
	}
	tx.l.mu.RUnlock()

	tx.accounts[k] = staged
	return staged, nil
}

func (tx *Tx) supply(batchID string) (*batchSupply, error) {
	if err := tx.Require(BatchKey(batchID)); err != nil {
		return nil, err
	}
	if s, ok := tx.supplies[batchID]; ok {
		return s, nil
	}

	tx.l.mu.RLock()
	cur, ok := tx.l.supplies[batchID]
	tx.l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, domain.ErrNotFound)
	}
	staged := *cur
	tx.supplies[batchID] = &staged
	return &staged, nil
}

// Mint creates the batch supply record and credits amount to holder.
// Requires BatchKey and AccountKey. A batch can be minted once.
func (tx *Tx) Mint(batchID, holder string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidSupply
	}
	if err := tx.Require(BatchKey(batchID)); err != nil {
		return err
	}
	if tx.BatchExists(batchID) {
		return fmt.Errorf("batch %s: %w", batchID, domain.ErrAlreadyMinted)
	}
	b, err := tx.account(holder, batchID)
	if err != nil {
		return err
	}

	tx.supplies[batchID] = &batchSupply{total: amount}
	b.Free += amount
	return nil
}

// Transfer moves free units from one holder to another.
// Requires AccountKey for both holders.
func (tx *Tx) Transfer(batchID, from, to string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if !tx.BatchExists(batchID) {
		return fmt.Errorf("batch %s: %w", batchID, domain.ErrNotFound)
	}
	src, err := tx.account(from, batchID)
	if err != nil {
		return err
	}
	dst, err := tx.account(to, batchID)
	if err != nil {
		return err
	}
	if src.Free < amount {
		return fmt.Errorf("%w: free %d, requested %d", domain.ErrInsufficientBalance, src.Free, amount)
	}

	src.Free -= amount
	dst.Free += amount
	return nil
}

// EscrowOut moves units from the holder's free balance into escrow.
// Requires AccountKey.
func (tx *Tx) EscrowOut(batchID, holder string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if !tx.BatchExists(batchID) {
		return fmt.Errorf("batch %s: %w", batchID, domain.ErrNotFound)
	}
	b, err := tx.account(holder, batchID)
	if err != nil {
		return err
	}
	if b.Free < amount {
		return fmt.Errorf("%w: free %d, requested %d", domain.ErrInsufficientBalance, b.Free, amount)
	}

	b.Free -= amount
	b.Staked += amount
	return nil
}

// EscrowIn returns escrowed units to the holder's free balance.
// Requires AccountKey.
func (tx *Tx) EscrowIn(batchID, holder string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	b, err := tx.account(holder, batchID)
	if err != nil {
		return err
	}
	if b.Staked < amount {
		return fmt.Errorf("%w: staked %d, requested %d", domain.ErrInsufficientBalance, b.Staked, amount)
	}

	b.Staked -= amount
	b.Free += amount
	return nil
}

// Burn removes free units permanently and adds them to the batch's retired total.
// Requires AccountKey and BatchKey.
func (tx *Tx) Burn(batchID, holder string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	s, err := tx.supply(batchID)
	if err != nil {
		return err
	}
	b, err := tx.account(holder, batchID)
	if err != nil {
		return err
	}
	if b.Free < amount {
		return fmt.Errorf("%w: free %d, requested %d", domain.ErrInsufficientBalance, b.Free, amount)
	}

	b.Free -= amount
	s.retired += amount
	return nil
}
