package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"carbon-ledger/internal/storage"
)

// CheckpointStore is a SQLite implementation of storage.CheckpointStore.
type CheckpointStore struct {
	db *DB
}

// NewCheckpointStore creates a new SQLite checkpoint store.
func NewCheckpointStore(db *DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// GetLast returns the most recent checkpoint.
func (s *CheckpointStore) GetLast(ctx context.Context) (*storage.VerificationCheckpoint, error) {
	var cp storage.VerificationCheckpoint
	err := s.db.db.QueryRowContext(ctx, `
		SELECT seq, tx_id, verified_at, conserved, divergent
		FROM verification_checkpoints
		WHERE id = 1
	`).Scan(&cp.Seq, &cp.TxID, &cp.VerifiedAt, &cp.Conserved, &cp.Divergent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &cp, nil
}

// Save stores a checkpoint. Returns ErrInvalidInput if Seq is lower than the stored one.
func (s *CheckpointStore) Save(ctx context.Context, cp *storage.VerificationCheckpoint) error {
	if cp == nil || cp.Seq < 0 {
		return storage.ErrInvalidInput
	}

	res, err := s.db.db.ExecContext(ctx, `
		INSERT INTO verification_checkpoints (id, seq, tx_id, verified_at, conserved, divergent)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET seq = excluded.seq,
		    tx_id = excluded.tx_id,
		    verified_at = excluded.verified_at,
		    conserved = excluded.conserved,
		    divergent = excluded.divergent
		WHERE verification_checkpoints.seq <= excluded.seq
	`, cp.Seq, cp.TxID, cp.VerifiedAt, cp.Conserved, cp.Divergent)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if n == 0 {
		return storage.ErrInvalidInput
	}
	return nil
}
