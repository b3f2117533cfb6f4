package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"carbon-ledger/internal/backend"
	"carbon-ledger/internal/config"
	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/replay"
	"carbon-ledger/internal/storage"
)

const copyPageSize = 1000

// journalStats summarizes a range of journal entries.
type journalStats struct {
	Entries  int64            `json:"entries"`
	ByKind   map[string]int64 `json:"by_kind"`
	FirstSeq int64            `json:"first_seq"`
	LastSeq  int64            `json:"last_seq"`
	FirstAt  int64            `json:"first_at"`
	LastAt   int64            `json:"last_at"`
}

// summaryEngine implements replay.ReplayEngine and counts entries,
// optionally printing one line per entry.
type summaryEngine struct {
	out     io.Writer
	verbose bool
	stats   journalStats
}

func newSummaryEngine(out io.Writer, verbose bool) *summaryEngine {
	return &summaryEngine{
		out:     out,
		verbose: verbose,
		stats:   journalStats{ByKind: make(map[string]int64)},
	}
}

// OnEntry processes an entry.
func (e *summaryEngine) OnEntry(_ context.Context, entry *domain.JournalEntry) error {
	if e.stats.Entries == 0 {
		e.stats.FirstSeq = entry.Seq
		e.stats.FirstAt = entry.At
	}
	e.stats.Entries++
	e.stats.LastSeq = entry.Seq
	e.stats.LastAt = entry.At
	e.stats.ByKind[entry.Kind.String()]++

	if e.verbose {
		printf(e.out, "%8d  %s  %-14s  %s\n", entry.Seq, formatMillis(entry.At), entry.Kind, entry.TxID)
	}
	return nil
}

var _ replay.ReplayEngine = (*summaryEngine)(nil)

func newJournalCmd(a *app) *cobra.Command {
	var from, to int64
	var verbose bool

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Summarize journal entries",
		Long: `Read journal entries in seq order and summarize them by kind.
The range is checked for gaps, so a successful run also proves the journal
is contiguous.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stores, err := a.openJournal(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			out := cmd.OutOrStdout()
			summary := newSummaryEngine(out, verbose && !a.jsonOutput)
			if _, err := replay.NewRunner(stores.Journal).Run(ctx, from, to, summary); err != nil {
				return err
			}

			if a.jsonOutput {
				return writeJSON(out, summary.stats)
			}
			s := summary.stats
			printf(out, "\n=== Journal Summary ===\n")
			printf(out, "Entries:     %d\n", s.Entries)
			if s.Entries > 0 {
				printf(out, "Seq range:   %d..%d\n", s.FirstSeq, s.LastSeq)
				printf(out, "First entry: %s\n", formatMillis(s.FirstAt))
				printf(out, "Last entry:  %s\n", formatMillis(s.LastAt))
			}
			for _, kind := range []domain.OpKind{
				domain.OpRegisterBatch, domain.OpTransfer, domain.OpStake, domain.OpClaim,
				domain.OpUnstake, domain.OpGrantBoost, domain.OpRetire,
			} {
				if n := s.ByKind[kind.String()]; n > 0 {
					printf(out, "  %-14s %d\n", kind, n)
				}
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&from, "from", 1, "First seq")
	cmd.Flags().Int64Var(&to, "to", 0, "Last seq (0 = end of journal)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every entry")
	return cmd
}

func newCopyCmd(a *app) *cobra.Command {
	var target config.JournalConfig

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy the journal to another backend",
		Long: `Append every entry missing from the target journal. The target must be
empty or hold a prefix of the source journal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src, err := a.openJournal(ctx)
			if err != nil {
				return err
			}
			defer src.Close()

			target.Migrate = true
			dst, err := backend.OpenJournal(ctx, target, a.logger)
			if err != nil {
				return err
			}
			defer dst.Close()

			copied, err := copyJournal(ctx, src, dst)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "copied %d entries\n", copied)
			return nil
		},
	}

	cmd.Flags().StringVar(&target.Backend, "to-journal", config.BackendSQLite, "Target backend: sqlite or postgres")
	cmd.Flags().StringVar(&target.SQLitePath, "to-sqlite-path", "", "Target SQLite file")
	cmd.Flags().StringVar(&target.PostgresDSN, "to-postgres-dsn", "", "Target PostgreSQL connection string")
	return cmd
}

// copyJournal appends the entries of src that dst lacks, page by page.
func copyJournal(ctx context.Context, src, dst *backend.Stores) (int64, error) {
	last, err := dst.Journal.LastSeq(ctx)
	if err != nil {
		return 0, err
	}
	if last > 0 {
		want, err := src.Journal.GetBySeq(ctx, last)
		if err != nil {
			return 0, fmt.Errorf("target is ahead of source at seq %d: %w", last, err)
		}
		got, err := dst.Journal.GetBySeq(ctx, last)
		if err != nil {
			return 0, err
		}
		if got.TxID != want.TxID {
			return 0, fmt.Errorf("target at seq %d: %w", last, storage.ErrDivergentHistory)
		}
	}

	var copied int64
	next := last + 1
	for {
		entries, err := src.Journal.List(ctx, next, copyPageSize)
		if err != nil {
			return copied, err
		}
		if len(entries) == 0 {
			return copied, nil
		}
		if err := replay.ValidateOrdering(entries, next); err != nil {
			return copied, err
		}
		if err := dst.Journal.AppendBulk(ctx, entries); err != nil {
			return copied, fmt.Errorf("append seq %d..%d: %w", next, entries[len(entries)-1].Seq, err)
		}
		copied += int64(len(entries))
		next = entries[len(entries)-1].Seq + 1
	}
}
