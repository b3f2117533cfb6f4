package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/storage"
)

// SupplySnapshotStore is an in-memory implementation of storage.SupplySnapshotStore.
type SupplySnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SupplySnapshot // keyed by batch_id|taken_at
}

// NewSupplySnapshotStore creates a new in-memory supply snapshot store.
func NewSupplySnapshotStore() *SupplySnapshotStore {
	return &SupplySnapshotStore{
		data: make(map[string]*domain.SupplySnapshot),
	}
}

func snapshotKey(batchID string, takenAt int64) string {
	return fmt.Sprintf("%s|%d", batchID, takenAt)
}

// Insert adds a snapshot. Returns ErrDuplicateKey if exists.
func (s *SupplySnapshotStore) Insert(_ context.Context, snap *domain.SupplySnapshot) error {
	if snap == nil || snap.BatchID == "" {
		return storage.ErrInvalidInput
	}

	key := snapshotKey(snap.BatchID, snap.TakenAt)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *snap
	s.data[key] = &copy
	return nil
}

// InsertBulk adds multiple snapshots atomically. Fails entire batch on any duplicate.
func (s *SupplySnapshotStore) InsertBulk(_ context.Context, snapshots []*domain.SupplySnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(snapshots))
	for _, snap := range snapshots {
		if snap == nil || snap.BatchID == "" {
			return storage.ErrInvalidInput
		}
		key := snapshotKey(snap.BatchID, snap.TakenAt)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, snap := range snapshots {
		copy := *snap
		s.data[snapshotKey(snap.BatchID, snap.TakenAt)] = &copy
	}
	return nil
}

// GetByBatch retrieves snapshots for a batch within [start, end] (inclusive).
func (s *SupplySnapshotStore) GetByBatch(_ context.Context, batchID string, start, end int64) ([]*domain.SupplySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SupplySnapshot
	for _, snap := range s.data {
		if snap.BatchID == batchID && snap.TakenAt >= start && snap.TakenAt <= end {
			copy := *snap
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TakenAt < result[j].TakenAt
	})
	return result, nil
}

var _ storage.SupplySnapshotStore = (*SupplySnapshotStore)(nil)
