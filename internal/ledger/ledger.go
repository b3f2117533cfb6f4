// Package ledger is the single source of truth for unit balances.
//
// All mutations run inside Update, which locks the declared keys, stages
// changes on copies, appends exactly one journal entry and only then
// publishes the copies. A failed precondition or a failed append leaves
// the ledger unchanged.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"carbon-ledger/internal/clock"
	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/idhash"
	"carbon-ledger/internal/observability"
	"carbon-ledger/internal/storage"
	"carbon-ledger/internal/storage/memory"
)

// Config configures a Ledger.
type Config struct {
	Journal storage.JournalStore // durable history; defaults to an in-memory store
	Sink    storage.JournalSink  // optional analytics sink fed after commit
	Clock   clock.Clock          // defaults to the system clock
	Stripes int                  // lock table size; defaults to DefaultStripes
	Logger  *zap.Logger          // defaults to a no-op logger
}

// batchSupply is the per-batch record owned by the ledger.
type batchSupply struct {
	total   int64
	retired int64
}

// Ledger holds balances and per-batch supply records.
type Ledger struct {
	journal storage.JournalStore
	sink    storage.JournalSink
	clock   clock.Clock
	logger  *zap.Logger
	locks   *lockTable

	appendMu sync.Mutex
	seq      int64

	// mu guards the maps. Records are copy-on-write: a published pointer
	// is never mutated again.
	mu       sync.RWMutex
	accounts map[string]map[string]*domain.Balance // batch -> holder -> balance
	supplies map[string]*batchSupply
}

// New creates a Ledger. The journal must be empty or the ledger must be
// rebuilt by replaying it before new operations are accepted.
func New(cfg Config) *Ledger {
	if cfg.Journal == nil {
		cfg.Journal = memory.NewJournalStore()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Ledger{
		journal:  cfg.Journal,
		sink:     cfg.Sink,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		locks:    newLockTable(cfg.Stripes),
		accounts: make(map[string]map[string]*domain.Balance),
		supplies: make(map[string]*batchSupply),
	}
}

// Clock returns the ledger's time source.
func (l *Ledger) Clock() clock.Clock {
	return l.clock
}

// Journal returns the journal store the ledger appends to.
func (l *Ledger) Journal() storage.JournalStore {
	return l.journal
}

// Seq returns the sequence number of the last committed entry.
func (l *Ledger) Seq() int64 {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()
	return l.seq
}

// Update runs fn as one all-or-nothing transaction over keys.
// fn must call Tx.Record exactly once on success. Commit hooks registered
// through Tx.OnCommit run while the ledger's write lock is held and must
// not call back into the ledger.
func (l *Ledger) Update(ctx context.Context, op domain.OpKind, keys []string, fn func(tx *Tx) error) (*domain.JournalEntry, error) {
	start := time.Now()

	entry, err := l.commit(ctx, op, keys, fn)
	if err != nil {
		observability.RecordTransaction(op.String(), "error", time.Since(start).Seconds())
		return nil, err
	}
	observability.RecordTransaction(op.String(), "ok", time.Since(start).Seconds())
	observability.UpdateJournalSeq(entry.Seq)

	if l.sink != nil {
		if err := l.sink.Publish(ctx, entry); err != nil {
			observability.RecordSinkError()
			l.logger.Warn("journal sink publish failed",
				zap.Int64("seq", entry.Seq),
				zap.String("op", op.String()),
				zap.Error(err))
		}
	}
	return entry, nil
}

func (l *Ledger) commit(ctx context.Context, op domain.OpKind, keys []string, fn func(tx *Tx) error) (*domain.JournalEntry, error) {
	release := l.locks.acquire(keys)
	defer release()

	tx := newTx(ctx, l, op, keys)
	if err := fn(tx); err != nil {
		return nil, err
	}
	if !tx.recorded {
		return nil, fmt.Errorf("%s: %w", op, ErrNoEntry)
	}

	entry, err := l.append(ctx, tx)
	if err != nil {
		observability.RecordJournalError(op.String())
		l.logger.Error("journal append failed",
			zap.String("op", op.String()),
			zap.Error(err))
		return nil, fmt.Errorf("%s: append journal: %w", op, err)
	}

	l.publish(tx, entry)

	l.logger.Debug("transaction committed",
		zap.Int64("seq", entry.Seq),
		zap.String("op", op.String()),
		zap.String("tx_id", entry.TxID))
	return entry, nil
}

func (l *Ledger) append(ctx context.Context, tx *Tx) (*domain.JournalEntry, error) {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	entry := &domain.JournalEntry{
		Seq:     l.seq + 1,
		Kind:    tx.op,
		At:      tx.now,
		Payload: tx.payload,
	}
	data, err := entry.EncodePayload()
	if err != nil {
		return nil, err
	}
	entry.TxID = idhash.ComputeTxID(entry.Seq, entry.Kind.String(), entry.At, data)

	if err := l.journal.Append(ctx, entry); err != nil {
		return nil, err
	}
	l.seq = entry.Seq
	return entry, nil
}

func (l *Ledger) publish(tx *Tx, entry *domain.JournalEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k, b := range tx.accounts {
		holders, ok := l.accounts[k.BatchID]
		if !ok {
			holders = make(map[string]*domain.Balance)
			l.accounts[k.BatchID] = holders
		}
		holders[k.Holder] = b
	}
	for id, s := range tx.supplies {
		l.supplies[id] = s
	}
	for _, hook := range tx.hooks {
		hook(entry)
	}
}

// Quiesce runs fn while every lock stripe is held, so no transaction is in flight.
func (l *Ledger) Quiesce(fn func()) {
	release := l.locks.acquireAll()
	defer release()
	fn()
}

// Transfer moves free units between holders as one transaction.
func (l *Ledger) Transfer(ctx context.Context, batchID, from, to string, amount int64) error {
	keys := []string{AccountKey(from, batchID), AccountKey(to, batchID)}
	_, err := l.Update(ctx, domain.OpTransfer, keys, func(tx *Tx) error {
		if err := tx.Transfer(batchID, from, to, amount); err != nil {
			return err
		}
		tx.Record(domain.JournalPayload{Transfer: &domain.TransferRecord{
			BatchID: batchID,
			From:    from,
			To:      to,
			Amount:  amount,
		}})
		return nil
	})
	if err != nil {
		return fmt.Errorf("transfer %s -> %s: %w", from, to, err)
	}
	return nil
}

// BalanceOf returns the holder's balance in a batch.
// Returns domain.ErrNotFound if the batch was never minted.
func (l *Ledger) BalanceOf(_ context.Context, holder, batchID string) (domain.Balance, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.supplies[batchID]; !ok {
		return domain.Balance{}, fmt.Errorf("batch %s: %w", batchID, domain.ErrNotFound)
	}
	if b, ok := l.accounts[batchID][holder]; ok {
		return *b, nil
	}
	return domain.Balance{Holder: holder, BatchID: batchID}, nil
}

// Holdings returns every non-empty balance of a holder, ordered by batch id.
func (l *Ledger) Holdings(_ context.Context, holder string) []domain.Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []domain.Balance
	for _, holders := range l.accounts {
		if b, ok := holders[holder]; ok && b.Total() > 0 {
			result = append(result, *b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].BatchID < result[j].BatchID
	})
	return result
}

// Balances returns every balance, ordered by batch id, then holder.
func (l *Ledger) Balances(_ context.Context) []domain.Balance {
	l.mu.RLock()
	var result []domain.Balance
	for _, holders := range l.accounts {
		for _, b := range holders {
			result = append(result, *b)
		}
	}
	l.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].BatchID != result[j].BatchID {
			return result[i].BatchID < result[j].BatchID
		}
		return result[i].Holder < result[j].Holder
	})
	return result
}

// Supply returns the free/staked/retired breakdown of a batch.
// Returns domain.ErrNotFound if the batch was never minted.
func (l *Ledger) Supply(_ context.Context, batchID string) (domain.Supply, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.supplyLocked(batchID)
	if !ok {
		return domain.Supply{}, fmt.Errorf("batch %s: %w", batchID, domain.ErrNotFound)
	}
	return s, nil
}

func (l *Ledger) supplyLocked(batchID string) (domain.Supply, bool) {
	rec, ok := l.supplies[batchID]
	if !ok {
		return domain.Supply{}, false
	}
	s := domain.Supply{
		BatchID:     batchID,
		TotalSupply: rec.total,
		Retired:     rec.retired,
	}
	for _, b := range l.accounts[batchID] {
		s.Free += b.Free
		s.Staked += b.Staked
	}
	return s, true
}

// CheckConservation computes the supply of every batch, ordered by batch id.
// Returns ErrConservationViolated, alongside the full report, if any batch
// fails free + staked + retired == total.
func (l *Ledger) CheckConservation(_ context.Context) ([]domain.Supply, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.supplies))
	for id := range l.supplies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	report := make([]domain.Supply, 0, len(ids))
	var violated []string
	for _, id := range ids {
		s, _ := l.supplyLocked(id)
		report = append(report, s)
		observability.UpdateSupply(id, s.Free, s.Staked, s.Retired)
		if !s.Conserved() {
			violated = append(violated, id)
		}
	}
	if len(violated) > 0 {
		return report, fmt.Errorf("%w: batches %v", ErrConservationViolated, violated)
	}
	return report, nil
}
