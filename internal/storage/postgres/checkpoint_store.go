package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"carbon-ledger/internal/storage"
)

// CheckpointStore is a PostgreSQL implementation of storage.CheckpointStore.
// The verification_checkpoints table holds a single row.
type CheckpointStore struct {
	pool *Pool
}

// NewCheckpointStore creates a new PostgreSQL checkpoint store.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// GetLast returns the most recent checkpoint.
func (s *CheckpointStore) GetLast(ctx context.Context) (*storage.VerificationCheckpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT seq, tx_id, verified_at, conserved, divergent
		FROM verification_checkpoints
		LIMIT 1
	`)

	var cp storage.VerificationCheckpoint
	err := row.Scan(&cp.Seq, &cp.TxID, &cp.VerifiedAt, &cp.Conserved, &cp.Divergent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	return &cp, nil
}

// Save stores a checkpoint. The upsert only replaces a checkpoint at the
// same or a lower seq.
func (s *CheckpointStore) Save(ctx context.Context, cp *storage.VerificationCheckpoint) error {
	if cp == nil || cp.Seq < 0 {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO verification_checkpoints (id, seq, tx_id, verified_at, conserved, divergent, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE
		SET seq = EXCLUDED.seq,
		    tx_id = EXCLUDED.tx_id,
		    verified_at = EXCLUDED.verified_at,
		    conserved = EXCLUDED.conserved,
		    divergent = EXCLUDED.divergent,
		    updated_at = NOW()
		WHERE verification_checkpoints.seq <= EXCLUDED.seq
	`, cp.Seq, cp.TxID, cp.VerifiedAt, cp.Conserved, cp.Divergent)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrInvalidInput
	}
	return nil
}
