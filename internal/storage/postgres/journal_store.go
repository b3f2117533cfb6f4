package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/storage"
)

// JournalStore implements storage.JournalStore using PostgreSQL.
type JournalStore struct {
	pool *Pool
}

// NewJournalStore creates a new JournalStore.
func NewJournalStore(pool *Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.JournalStore = (*JournalStore)(nil)
	_ storage.JournalSink  = (*JournalStore)(nil)
)

const insertJournalSQL = `
	INSERT INTO ledger_journal (seq, tx_id, kind, at_ms, payload)
	VALUES ($1, $2, $3, $4, $5)
`

// Append adds one entry. Returns ErrDuplicateKey if seq or tx_id exists.
func (s *JournalStore) Append(ctx context.Context, e *domain.JournalEntry) (err error) {
	defer func(start time.Time) { observe("journal_append", start, err) }(time.Now())

	if e == nil || e.Validate() != nil {
		return storage.ErrInvalidInput
	}
	payload, err := e.EncodePayload()
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	_, err = s.pool.Exec(ctx, insertJournalSQL, e.Seq, e.TxID, string(e.Kind), e.At, payload)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// AppendBulk adds multiple entries atomically. Fails entire batch on any duplicate.
func (s *JournalStore) AppendBulk(ctx context.Context, entries []*domain.JournalEntry) (err error) {
	if len(entries) == 0 {
		return nil
	}
	defer func(start time.Time) { observe("journal_append_bulk", start, err) }(time.Now())

	batch := &pgx.Batch{}
	for _, e := range entries {
		if e == nil || e.Validate() != nil {
			return storage.ErrInvalidInput
		}
		payload, err := e.EncodePayload()
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		batch.Queue(insertJournalSQL, e.Seq, e.TxID, string(e.Kind), e.At, payload)
	}

	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for range entries {
			if _, err := results.Exec(); err != nil {
				if isDuplicateKeyError(err) {
					return storage.ErrDuplicateKey
				}
				return fmt.Errorf("insert journal entry: %w", err)
			}
		}
		return results.Close()
	})
}

// Publish implements storage.JournalSink, so a Postgres journal can mirror
// another backend.
func (s *JournalStore) Publish(ctx context.Context, e *domain.JournalEntry) error {
	return s.Append(ctx, e)
}

// GetBySeq retrieves an entry by sequence number.
func (s *JournalStore) GetBySeq(ctx context.Context, seq int64) (*domain.JournalEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT seq, tx_id, kind, at_ms, payload
		FROM ledger_journal
		WHERE seq = $1
	`, seq)

	e, err := scanEntry(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get journal entry %d: %w", seq, err)
	}
	return e, nil
}

// List retrieves entries with seq >= fromSeq, ordered by seq ASC.
func (s *JournalStore) List(ctx context.Context, fromSeq int64, limit int) (_ []*domain.JournalEntry, err error) {
	defer func(start time.Time) { observe("journal_list", start, err) }(time.Now())

	query := `
		SELECT seq, tx_id, kind, at_ms, payload
		FROM ledger_journal
		WHERE seq >= $1
		ORDER BY seq ASC
	`
	args := []any{fromSeq}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	var entries []*domain.JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LastSeq returns the highest stored seq, or 0 for an empty journal.
func (s *JournalStore) LastSeq(ctx context.Context) (int64, error) {
	var last int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ledger_journal`).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("last journal seq: %w", err)
	}
	return last, nil
}

// scanEntry scans a row into JournalEntry.
func scanEntry(row pgx.Row) (*domain.JournalEntry, error) {
	var (
		e       domain.JournalEntry
		kind    string
		payload []byte
	)
	if err := row.Scan(&e.Seq, &e.TxID, &kind, &e.At, &payload); err != nil {
		return nil, err
	}
	e.Kind = domain.OpKind(kind)

	p, err := domain.DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	e.Payload = p
	return &e, nil
}
