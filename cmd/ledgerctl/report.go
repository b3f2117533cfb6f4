package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"carbon-ledger/internal/reporting"
)

func newReportCmd(a *app) *cobra.Command {
	var (
		outputDir   string
		to          int64
		at          string
		leaderboard int
		certs       int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the impact report (REPORT.md) and batch supply table (supply.csv)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			now := func() time.Time { return time.Now().UTC() }
			if at != "" {
				fixed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = func() time.Time { return fixed.UTC() }
			}

			e, stores, err := a.rebuild(ctx, to)
			if err != nil {
				return err
			}
			defer stores.Close()

			report, err := reporting.NewGenerator(e, stores.Checkpoints).
				WithClock(now).
				WithLimits(leaderboard, certs).
				Generate(ctx)
			if err != nil {
				return fmt.Errorf("generate report: %w", err)
			}

			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			mdPath := filepath.Join(outputDir, "REPORT.md")
			if err := os.WriteFile(mdPath, []byte(reporting.RenderMarkdown(report)), 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			csvPath := filepath.Join(outputDir, "supply.csv")
			if err := os.WriteFile(csvPath, []byte(reporting.RenderCSV(report.Batches)), 0o644); err != nil {
				return fmt.Errorf("write csv: %w", err)
			}

			out := cmd.OutOrStdout()
			printf(out, "Report generated at seq %d:\n", report.Seq)
			printf(out, "  - %s\n", mdPath)
			printf(out, "  - %s\n", csvPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", "docs", "Output directory for generated files")
	cmd.Flags().Int64Var(&to, "to", 0, "Report state as of this journal seq (0 = head)")
	cmd.Flags().StringVar(&at, "at", "", "Fixed report timestamp (RFC3339) for reproducible output")
	cmd.Flags().IntVar(&leaderboard, "leaderboard", 10, "Leaderboard rows")
	cmd.Flags().IntVar(&certs, "certificates", 20, "Recent certificates listed (0 = all)")
	return cmd
}
