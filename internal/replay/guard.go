package replay

import (
	"context"
	"fmt"
	"sync"

	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/storage"
)

// Guard wraps the journal a ledger appends to. While replaying, appends
// are not written: each must reproduce the entry set with Expect, which
// is how replay detects divergence. Once live, appends pass through.
type Guard struct {
	storage.JournalStore

	mu       sync.Mutex
	live     bool
	expected *domain.JournalEntry
}

// NewGuard wraps store. A guard starts in replay mode unless live is set.
func NewGuard(store storage.JournalStore, live bool) *Guard {
	return &Guard{JournalStore: store, live: live}
}

// Expect sets the entry the next append must reproduce.
func (g *Guard) Expect(e *domain.JournalEntry) {
	g.mu.Lock()
	g.expected = e
	g.mu.Unlock()
}

// Pending reports whether an expected entry has not been reproduced yet.
func (g *Guard) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.expected != nil
}

// GoLive switches the guard to pass-through mode.
func (g *Guard) GoLive() {
	g.mu.Lock()
	g.live = true
	g.expected = nil
	g.mu.Unlock()
}

// IsLive reports whether appends are written.
func (g *Guard) IsLive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.live
}

// Append implements storage.JournalStore.
func (g *Guard) Append(ctx context.Context, e *domain.JournalEntry) error {
	g.mu.Lock()
	if g.live {
		g.mu.Unlock()
		return g.JournalStore.Append(ctx, e)
	}
	defer g.mu.Unlock()

	exp := g.expected
	if exp == nil {
		return ErrReadOnly
	}
	g.expected = nil

	if e.Seq != exp.Seq || e.TxID != exp.TxID {
		return fmt.Errorf("%w: seq %d produced tx %s (%s), journal has seq %d tx %s (%s)",
			ErrDivergence, e.Seq, e.TxID, e.Kind, exp.Seq, exp.TxID, exp.Kind)
	}
	return nil
}

// AppendBulk implements storage.JournalStore.
func (g *Guard) AppendBulk(ctx context.Context, entries []*domain.JournalEntry) error {
	if !g.IsLive() {
		return ErrReadOnly
	}
	return g.JournalStore.AppendBulk(ctx, entries)
}

// Sink returns a sink that forwards to s only while the guard is live,
// so replayed entries are not published twice. Returns nil for a nil s.
func (g *Guard) Sink(s storage.JournalSink) storage.JournalSink {
	if s == nil {
		return nil
	}
	return &guardedSink{guard: g, sink: s}
}

type guardedSink struct {
	guard *Guard
	sink  storage.JournalSink
}

func (s *guardedSink) Publish(ctx context.Context, e *domain.JournalEntry) error {
	if !s.guard.IsLive() {
		return nil
	}
	return s.sink.Publish(ctx, e)
}

var (
	_ storage.JournalStore = (*Guard)(nil)
	_ storage.JournalSink  = (*guardedSink)(nil)
)
