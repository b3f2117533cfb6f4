package clickhouse

import (
	"context"
	"fmt"
	"time"

	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/storage"
)

// SupplySnapshotStore implements storage.SupplySnapshotStore using ClickHouse.
type SupplySnapshotStore struct {
	conn *Conn
}

// NewSupplySnapshotStore creates a new SupplySnapshotStore.
func NewSupplySnapshotStore(conn *Conn) *SupplySnapshotStore {
	return &SupplySnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SupplySnapshotStore = (*SupplySnapshotStore)(nil)

// Insert adds a snapshot. Returns ErrDuplicateKey if (batch_id, taken_at) exists.
func (s *SupplySnapshotStore) Insert(ctx context.Context, snap *domain.SupplySnapshot) error {
	return s.InsertBulk(ctx, []*domain.SupplySnapshot{snap})
}

// InsertBulk adds multiple snapshots. Fails entire batch on any duplicate.
func (s *SupplySnapshotStore) InsertBulk(ctx context.Context, snapshots []*domain.SupplySnapshot) (err error) {
	if len(snapshots) == 0 {
		return nil
	}
	defer func(start time.Time) { observe("snapshot_insert", start, err) }(time.Now())

	// Check for intra-batch duplicates
	seen := make(map[string]struct{}, len(snapshots))
	for _, snap := range snapshots {
		if snap == nil || snap.BatchID == "" {
			return storage.ErrInvalidInput
		}
		key := fmt.Sprintf("%s|%d", snap.BatchID, snap.TakenAt)
		if _, exists := seen[key]; exists {
			return storage.ErrDuplicateKey
		}
		seen[key] = struct{}{}
	}

	// Check for duplicates against existing rows
	for _, snap := range snapshots {
		exists, err := s.exists(ctx, snap.BatchID, snap.TakenAt)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO supply_snapshots (batch_id, taken_at, total_supply, free, staked, retired)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snap := range snapshots {
		err = batch.Append(snap.BatchID, uint64(snap.TakenAt), snap.TotalSupply, snap.Free, snap.Staked, snap.Retired)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByBatch retrieves snapshots for a batch within [start, end], ordered by taken_at ASC.
func (s *SupplySnapshotStore) GetByBatch(ctx context.Context, batchID string, start, end int64) ([]*domain.SupplySnapshot, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT batch_id, taken_at, total_supply, free, staked, retired
		FROM supply_snapshots
		WHERE batch_id = ? AND taken_at >= ? AND taken_at <= ?
		ORDER BY taken_at ASC
	`, batchID, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query supply snapshots: %w", err)
	}
	defer rows.Close()

	var out []*domain.SupplySnapshot
	for rows.Next() {
		var (
			snap    domain.SupplySnapshot
			takenAt uint64
		)
		if err := rows.Scan(&snap.BatchID, &takenAt, &snap.TotalSupply, &snap.Free, &snap.Staked, &snap.Retired); err != nil {
			return nil, fmt.Errorf("scan supply snapshot: %w", err)
		}
		snap.TakenAt = int64(takenAt)
		out = append(out, &snap)
	}
	return out, rows.Err()
}

func (s *SupplySnapshotStore) exists(ctx context.Context, batchID string, takenAt int64) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count() FROM supply_snapshots WHERE batch_id = ? AND taken_at = ?
	`, batchID, uint64(takenAt)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
