package replay

import (
	"context"

	"carbon-ledger/internal/domain"
)

// ReplayEngine re-applies journal entries.
type ReplayEngine interface {
	// OnEntry is called for each entry in order.
	// Entries are guaranteed to be ordered by seq with no gaps.
	OnEntry(ctx context.Context, entry *domain.JournalEntry) error
}
