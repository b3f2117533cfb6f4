package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"carbon-ledger/internal/storage"
	chstore "carbon-ledger/internal/storage/clickhouse"
	"carbon-ledger/internal/storage/migrations"
)

func newAnalyticsCmd(a *app) *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Query or backfill the ClickHouse event store",
	}
	cmd.PersistentFlags().StringVar(&dsn, "clickhouse-dsn", "", "ClickHouse connection string (overrides config)")

	connect := func(ctx context.Context, migrate bool) (*chstore.Conn, error) {
		if dsn == "" {
			dsn = a.cfg.Analytics.ClickHouseDSN
		}
		if dsn == "" {
			return nil, errors.New("no ClickHouse DSN configured")
		}
		if migrate {
			return migrations.RunClickhouseMigrations(ctx, dsn)
		}
		return chstore.NewConn(ctx, dsn)
	}

	cmd.AddCommand(newAnalyticsKindsCmd(a, connect))
	cmd.AddCommand(newAnalyticsRetiredCmd(a, connect))
	cmd.AddCommand(newAnalyticsBackfillCmd(a, connect))
	return cmd
}

type connectFunc func(ctx context.Context, migrate bool) (*chstore.Conn, error)

func newAnalyticsKindsCmd(a *app, connect connectFunc) *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "kinds",
		Short: "Count published events by kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := connect(ctx, false)
			if err != nil {
				return err
			}
			defer conn.Close()

			end := time.Now()
			counts, err := chstore.NewJournalSink(conn).CountByKind(ctx, end.Add(-since).UnixMilli(), end.UnixMilli())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return writeJSON(out, counts)
			}
			tw := newTable(out)
			fmt.Fprintln(tw, "KIND\tEVENTS")
			for _, c := range counts {
				fmt.Fprintf(tw, "%s\t%d\n", c.Kind, c.Count)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().DurationVar(&since, "since", 30*24*time.Hour, "Look-back window")
	return cmd
}

func newAnalyticsRetiredCmd(a *app, connect connectFunc) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "retired",
		Short: "Rank holders by retired units",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := connect(ctx, false)
			if err != nil {
				return err
			}
			defer conn.Close()

			byHolder, err := chstore.NewJournalSink(conn).RetiredByHolder(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return writeJSON(out, byHolder)
			}

			holders := make([]string, 0, len(byHolder))
			for h := range byHolder {
				holders = append(holders, h)
			}
			sort.Slice(holders, func(i, j int) bool {
				if byHolder[holders[i]] != byHolder[holders[j]] {
					return byHolder[holders[i]] > byHolder[holders[j]]
				}
				return holders[i] < holders[j]
			})

			tw := newTable(out)
			fmt.Fprintln(tw, "RANK\tHOLDER\tRETIRED")
			for i, h := range holders {
				fmt.Fprintf(tw, "%d\t%s\t%d\n", i+1, h, byHolder[h])
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of holders")
	return cmd
}

func newAnalyticsBackfillCmd(a *app, connect connectFunc) *cobra.Command {
	var from int64

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Publish journal entries to ClickHouse",
		Long: `Publish every journal entry from --from onwards to the ClickHouse event
store. Entries already published are skipped, so the command can be re-run
after a sink outage.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stores, err := a.openJournal(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			conn, err := connect(ctx, a.cfg.Journal.Migrate)
			if err != nil {
				return err
			}
			defer conn.Close()

			published, skipped, err := backfill(ctx, stores.Journal, chstore.NewJournalSink(conn), from)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "published %d entries, %d already present\n", published, skipped)
			return nil
		},
	}

	cmd.Flags().Int64Var(&from, "from", 1, "First seq")
	return cmd
}

// backfill publishes journal entries with seq >= from to sink.
func backfill(ctx context.Context, journal storage.JournalStore, sink storage.JournalSink, from int64) (published, skipped int, err error) {
	next := from
	for {
		entries, err := journal.List(ctx, next, copyPageSize)
		if err != nil {
			return published, skipped, err
		}
		if len(entries) == 0 {
			return published, skipped, nil
		}
		for _, e := range entries {
			switch err := sink.Publish(ctx, e); {
			case err == nil:
				published++
			case errors.Is(err, storage.ErrDuplicateKey):
				skipped++
			default:
				return published, skipped, fmt.Errorf("publish seq %d: %w", e.Seq, err)
			}
		}
		next = entries[len(entries)-1].Seq + 1
	}
}
