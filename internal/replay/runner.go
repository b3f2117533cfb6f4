package replay

import (
	"context"
	"fmt"

	"carbon-ledger/internal/storage"
)

// DefaultPageSize is the number of entries loaded per journal read.
const DefaultPageSize = 1000

// Runner loads entries from the journal and replays them in seq order.
type Runner struct {
	journal  storage.JournalStore
	pageSize int
}

// NewRunner creates a new replay runner.
func NewRunner(journal storage.JournalStore) *Runner {
	return &Runner{
		journal:  journal,
		pageSize: DefaultPageSize,
	}
}

// WithPageSize sets the number of entries loaded per read.
func (r *Runner) WithPageSize(n int) *Runner {
	if n > 0 {
		r.pageSize = n
	}
	return r
}

// Run replays entries with seq in [fromSeq, toSeq] through the engine.
// toSeq <= 0 replays to the end of the journal. Returns the last replayed seq.
func (r *Runner) Run(ctx context.Context, fromSeq, toSeq int64, engine ReplayEngine) (int64, error) {
	if fromSeq < 1 {
		fromSeq = 1
	}
	last := fromSeq - 1

	for {
		if err := ctx.Err(); err != nil {
			return last, err
		}

		page, err := r.journal.List(ctx, last+1, r.pageSize)
		if err != nil {
			return last, fmt.Errorf("load journal from seq %d: %w", last+1, err)
		}
		if len(page) == 0 {
			return last, nil
		}
		if err := ValidateOrdering(page, last+1); err != nil {
			return last, err
		}

		for _, entry := range page {
			if toSeq > 0 && entry.Seq > toSeq {
				return last, nil
			}
			if err := engine.OnEntry(ctx, entry); err != nil {
				return last, fmt.Errorf("replay seq %d (%s): %w", entry.Seq, entry.Kind, err)
			}
			last = entry.Seq
		}

		if len(page) < r.pageSize {
			return last, nil
		}
	}
}

// RunAll replays the whole journal.
func (r *Runner) RunAll(ctx context.Context, engine ReplayEngine) (int64, error) {
	return r.Run(ctx, 1, 0, engine)
}
