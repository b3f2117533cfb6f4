package memory

import (
	"context"
	"sort"
	"sync"

	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/storage"
)

// JournalStore is an in-memory implementation of storage.JournalStore.
type JournalStore struct {
	mu   sync.RWMutex
	data map[int64]*domain.JournalEntry // keyed by seq
	last int64
}

// NewJournalStore creates a new in-memory journal store.
func NewJournalStore() *JournalStore {
	return &JournalStore{
		data: make(map[int64]*domain.JournalEntry),
	}
}

// Append adds one entry. Returns ErrDuplicateKey if seq exists.
func (s *JournalStore) Append(_ context.Context, e *domain.JournalEntry) error {
	if e == nil || e.Validate() != nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.Seq]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[e.Seq] = e.Clone()
	if e.Seq > s.last {
		s.last = e.Seq
	}
	return nil
}

// AppendBulk adds multiple entries atomically. Fails entire batch on any duplicate.
func (s *JournalStore) AppendBulk(_ context.Context, entries []*domain.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track seqs in this batch to detect intra-batch duplicates
	batchSeqs := make(map[int64]struct{}, len(entries))

	// First pass: validate and check for duplicates (existing + intra-batch)
	for _, e := range entries {
		if e == nil || e.Validate() != nil {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[e.Seq]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchSeqs[e.Seq]; exists {
			return storage.ErrDuplicateKey
		}
		batchSeqs[e.Seq] = struct{}{}
	}

	// Second pass: insert all
	for _, e := range entries {
		s.data[e.Seq] = e.Clone()
		if e.Seq > s.last {
			s.last = e.Seq
		}
	}

	return nil
}

// GetBySeq retrieves an entry by sequence number.
func (s *JournalStore) GetBySeq(_ context.Context, seq int64) (*domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[seq]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e.Clone(), nil
}

// List retrieves entries with seq >= fromSeq, ordered by seq ASC.
func (s *JournalStore) List(_ context.Context, fromSeq int64, limit int) ([]*domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.JournalEntry
	for seq, e := range s.data {
		if seq >= fromSeq {
			result = append(result, e.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// LastSeq returns the highest stored seq, or 0 for an empty journal.
func (s *JournalStore) LastSeq(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, nil
}

// Publish implements storage.JournalSink so the in-memory store can stand
// in for the analytics sink in tests.
func (s *JournalStore) Publish(ctx context.Context, e *domain.JournalEntry) error {
	return s.Append(ctx, e)
}

var (
	_ storage.JournalStore = (*JournalStore)(nil)
	_ storage.JournalSink  = (*JournalStore)(nil)
)
