package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/ledger"
	"carbon-ledger/internal/verification"
)

// errDivergent makes the process exit non-zero on a failed verification.
var errDivergent = errors.New("verification failed")

type replaySummary struct {
	Seq          int64 `json:"seq"`
	Batches      int   `json:"batches"`
	Accounts     int   `json:"accounts"`
	Positions    int   `json:"positions"`
	OpenPos      int   `json:"open_positions"`
	Certificates int   `json:"certificates"`
	Conserved    bool  `json:"conserved"`
	DurationMs   int64 `json:"duration_ms"`
}

func newReplayCmd(a *app) *cobra.Command {
	var to int64

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the ledger from the journal and summarize it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			start := time.Now()

			e, stores, err := a.rebuild(ctx, to)
			if err != nil {
				return err
			}
			defer stores.Close()

			snap := e.Snapshot(ctx)
			s := replaySummary{
				Seq:          snap.Seq,
				Batches:      len(snap.Batches),
				Accounts:     len(snap.Balances),
				Positions:    len(snap.Positions),
				Certificates: len(snap.Certificates),
				Conserved:    true,
				DurationMs:   time.Since(start).Milliseconds(),
			}
			for _, p := range snap.Positions {
				if p.Status != domain.PositionClosed {
					s.OpenPos++
				}
			}
			for _, supply := range snap.Supplies {
				if !supply.Conserved() {
					s.Conserved = false
				}
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return writeJSON(out, s)
			}
			printf(out, "=== Replay Summary ===\n")
			printf(out, "Seq:            %d\n", s.Seq)
			printf(out, "Batches:        %d\n", s.Batches)
			printf(out, "Accounts:       %d\n", s.Accounts)
			printf(out, "Positions:      %d (%d open)\n", s.Positions, s.OpenPos)
			printf(out, "Certificates:   %d\n", s.Certificates)
			printf(out, "Conserved:      %t\n", s.Conserved)
			printf(out, "Duration:       %v\n", time.Duration(s.DurationMs)*time.Millisecond)
			return nil
		},
	}

	cmd.Flags().Int64Var(&to, "to", 0, "Stop after this seq (0 = whole journal)")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	var checkpoint bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay the journal and check conservation and certificates",
		Long: `Replay the whole journal into a read-only ledger, then check supply
conservation for every batch and the fingerprint of every certificate.
Exits non-zero when the journal cannot be replayed or a check fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stores, err := a.openJournal(ctx)
			if err != nil {
				return err
			}
			defer stores.Close()

			ecfg, err := stores.EngineConfig(a.cfg, a.logger.Named("engine"))
			if err != nil {
				return err
			}
			opts := verification.ReplayVerifierOptions{
				Journal:      stores.Journal,
				EngineConfig: ecfg,
				Logger:       a.logger.Named("verify"),
			}
			if checkpoint {
				opts.Checkpoints = stores.Checkpoints
			}

			report, err := verification.NewReplayVerifier(opts).Verify(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else {
				printf(out, "Status:     %s\n", report.Status())
				printf(out, "Seq:        %d\n", report.Seq)
				printf(out, "Tx:         %s\n", report.TxID)
				printf(out, "Entries:    %d\n", report.Entries)
				printf(out, "Conserved:  %t\n", report.Conserved)
				for _, id := range report.BadCerts {
					printf(out, "  bad certificate fingerprint: %s\n", id)
				}
				for _, d := range report.Divergences {
					printf(out, "  %s\n", d)
				}
			}
			if !report.Match() {
				return errDivergent
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkpoint, "checkpoint", false, "Record the result as a verification checkpoint")
	return cmd
}

func newSupplyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supply [BATCH_ID]",
		Short: "Show per-batch supply and conservation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, stores, err := a.rebuild(ctx, 0)
			if err != nil {
				return err
			}
			defer stores.Close()

			var supplies []domain.Supply
			if len(args) == 1 {
				s, err := e.Supply(ctx, args[0])
				if err != nil {
					return err
				}
				supplies = []domain.Supply{s}
			} else {
				supplies, err = e.CheckConservation(ctx)
				if err != nil && !errors.Is(err, ledger.ErrConservationViolated) {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return writeJSON(out, supplies)
			}
			tw := newTable(out)
			fmt.Fprintln(tw, "BATCH\tTOTAL\tFREE\tSTAKED\tRETIRED\tCONSERVED")
			for _, s := range supplies {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%t\n", s.BatchID, s.TotalSupply, s.Free, s.Staked, s.Retired, s.Conserved())
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			return nil
		},
	}
	return cmd
}

func newPortfolioCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio HOLDER",
		Short: "Show a holder's units, positions, rewards and retirements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, stores, err := a.rebuild(ctx, 0)
			if err != nil {
				return err
			}
			defer stores.Close()

			p := e.Portfolio(ctx, args[0])
			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return writeJSON(out, p)
			}

			printf(out, "Holder:           %s\n", p.Holder)
			printf(out, "Free / staked:    %d / %d\n", p.TotalFree, p.TotalStaked)
			printf(out, "Retired (offset): %d\n", p.TotalRetired)
			printf(out, "Pending rewards:  %s\n", p.PendingRewards.StringFixed(6))
			printf(out, "Paid rewards:     %s\n", p.PaidRewards.StringFixed(6))
			printf(out, "Boost multiplier: %s\n", p.BoostMultiplier)

			tw := newTable(out)
			fmt.Fprintln(tw, "\nBATCH\tFREE\tSTAKED\tRETIRED")
			for _, h := range p.Holdings {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", h.BatchID, h.Free, h.Staked, h.Retired)
			}
			if len(p.Positions) > 0 {
				fmt.Fprintln(tw, "\nPOSITION\tBATCH\tAMOUNT\tLOCK\tSTATUS\tACCRUED")
				for _, pos := range p.Positions {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
						pos.PositionID, pos.BatchID, pos.Amount, pos.LockPeriod, pos.Status, pos.AccumulatedReward.StringFixed(6))
				}
			}
			return tw.Flush()
		},
	}
}
