package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/storage"
)

// JournalStore implements storage.JournalStore on SQLite.
type JournalStore struct {
	db *DB
}

// NewJournalStore creates a new JournalStore.
func NewJournalStore(db *DB) *JournalStore {
	return &JournalStore{db: db}
}

var (
	_ storage.JournalStore = (*JournalStore)(nil)
	_ storage.JournalSink  = (*JournalStore)(nil)
)

const insertJournalSQL = `
	INSERT INTO ledger_journal (seq, tx_id, kind, at_ms, payload)
	VALUES (?, ?, ?, ?, ?)
`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEntry(ctx context.Context, ex execer, e *domain.JournalEntry) error {
	if e == nil || e.Validate() != nil {
		return storage.ErrInvalidInput
	}
	payload, err := e.EncodePayload()
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	_, err = ex.ExecContext(ctx, insertJournalSQL, e.Seq, e.TxID, string(e.Kind), e.At, string(payload))
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Append adds one entry. Returns ErrDuplicateKey if seq or tx_id exists.
func (s *JournalStore) Append(ctx context.Context, e *domain.JournalEntry) (err error) {
	defer func(start time.Time) { observe("journal_append", start, err) }(time.Now())
	return insertEntry(ctx, s.db.db, e)
}

// AppendBulk adds multiple entries atomically. Fails entire batch on any duplicate.
func (s *JournalStore) AppendBulk(ctx context.Context, entries []*domain.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if err := insertEntry(ctx, tx, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Publish implements storage.JournalSink, so a SQLite file can keep a local
// copy of a journal held elsewhere.
func (s *JournalStore) Publish(ctx context.Context, e *domain.JournalEntry) error {
	return s.Append(ctx, e)
}

// GetBySeq retrieves an entry by sequence number.
func (s *JournalStore) GetBySeq(ctx context.Context, seq int64) (*domain.JournalEntry, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT seq, tx_id, kind, at_ms, payload
		FROM ledger_journal
		WHERE seq = ?
	`, seq)

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get journal entry %d: %w", seq, err)
	}
	return e, nil
}

// List retrieves entries with seq >= fromSeq, ordered by seq ASC.
func (s *JournalStore) List(ctx context.Context, fromSeq int64, limit int) (_ []*domain.JournalEntry, err error) {
	defer func(start time.Time) { observe("journal_list", start, err) }(time.Now())

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT seq, tx_id, kind, at_ms, payload
		FROM ledger_journal
		WHERE seq >= ?
		ORDER BY seq ASC
		LIMIT ?
	`, fromSeq, limit)
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
	err := s.db.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ledger_journal`).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("last journal seq: %w", err)
	}
	return last, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*domain.JournalEntry, error) {
	var (
		e       domain.JournalEntry
		kind    string
		payload string
	)
	if err := row.Scan(&e.Seq, &e.TxID, &kind, &e.At, &payload); err != nil {
		return nil, err
	}
	e.Kind = domain.OpKind(kind)

	p, err := domain.DecodePayload([]byte(payload))
	if err != nil {
		return nil, err
	}
	e.Payload = p
	return &e, nil
}
