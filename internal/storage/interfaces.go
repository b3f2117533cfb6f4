package storage

import (
	"context"

	"carbon-ledger/internal/domain"
)

// JournalStore provides access to ledger_journal storage.
// The journal is append-only: entries are never updated or deleted.
type JournalStore interface {
	// Append adds one entry. Returns ErrDuplicateKey if seq exists,
	// ErrInvalidInput if the entry fails validation.
	Append(ctx context.Context, e *domain.JournalEntry) error

	// AppendBulk adds multiple entries atomically. Fails entire batch on any duplicate.
	AppendBulk(ctx context.Context, entries []*domain.JournalEntry) error

	// GetBySeq retrieves an entry by sequence number. Returns ErrNotFound if not exists.
	GetBySeq(ctx context.Context, seq int64) (*domain.JournalEntry, error)

	// List retrieves entries with seq >= fromSeq, ordered by seq ASC.
	// limit <= 0 returns all remaining entries.
	List(ctx context.Context, fromSeq int64, limit int) ([]*domain.JournalEntry, error)

	// LastSeq returns the highest stored seq, or 0 for an empty journal.
	LastSeq(ctx context.Context) (int64, error)
}

// JournalSink receives committed entries for downstream analytics.
// Sinks are best-effort: the ledger never rolls back on a sink failure.
type JournalSink interface {
	// Publish records one committed entry. Returns ErrDuplicateKey if already published.
	Publish(ctx context.Context, e *domain.JournalEntry) error
}

// SupplySnapshotStore provides access to supply_snapshots storage.
type SupplySnapshotStore interface {
	// Insert adds a snapshot. Returns ErrDuplicateKey if (batch_id, taken_at) exists.
	Insert(ctx context.Context, s *domain.SupplySnapshot) error

	// InsertBulk adds multiple snapshots atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, snapshots []*domain.SupplySnapshot) error

	// GetByBatch retrieves snapshots for a batch within [start, end] (inclusive), ordered by taken_at ASC.
	GetByBatch(ctx context.Context, batchID string, start, end int64) ([]*domain.SupplySnapshot, error)
}
