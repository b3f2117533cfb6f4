package memory

import (
	"context"
	"sync"

	"carbon-ledger/internal/storage"
)

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	mu   sync.RWMutex
	last *storage.VerificationCheckpoint
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{}
}

// GetLast returns the most recent checkpoint.
func (s *CheckpointStore) GetLast(_ context.Context) (*storage.VerificationCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last == nil {
		return nil, storage.ErrNotFound
	}

	cp := *s.last
	return &cp, nil
}

// Save stores a checkpoint.
func (s *CheckpointStore) Save(_ context.Context, cp *storage.VerificationCheckpoint) error {
	if cp == nil || cp.Seq < 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last != nil && cp.Seq < s.last.Seq {
		return storage.ErrInvalidInput
	}

	copy := *cp
	s.last = &copy
	return nil
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)
