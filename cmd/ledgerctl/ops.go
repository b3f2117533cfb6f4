package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"carbon-ledger/internal/backend"
	"carbon-ledger/internal/config"
	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/engine"
	"carbon-ledger/internal/retirement"
)

// errMemoryJournal rejects writes that would be lost when the process exits.
var errMemoryJournal = errors.New("write commands need a sqlite or postgres journal")

// openLive rebuilds the engine from the configured journal and leaves it
// accepting operations. The analytics sink is attached when configured.
func (a *app) openLive(ctx context.Context) (*engine.Engine, *backend.Stores, error) {
	if a.cfg.Journal.Backend == config.BackendMemory {
		return nil, nil, errMemoryJournal
	}

	stores, err := backend.Open(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, nil, err
	}
	ecfg, err := stores.EngineConfig(a.cfg, a.logger.Named("engine"))
	if err != nil {
		stores.Close()
		return nil, nil, err
	}

	e, err := engine.Open(ctx, ecfg)
	if err != nil {
		stores.Close()
		return nil, nil, err
	}
	return e, stores, nil
}

// withEngine runs fn against a live engine and closes the stores after.
func (a *app) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine.Engine) error) error {
	ctx := cmd.Context()
	e, stores, err := a.openLive(ctx)
	if err != nil {
		return err
	}
	defer stores.Close()
	return fn(ctx, e)
}

// result prints one key/value outcome, as JSON with --json.
func (a *app) result(cmd *cobra.Command, key, value, text string) error {
	if a.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), map[string]string{key: value})
	}
	printf(cmd.OutOrStdout(), "%s\n", text)
	return nil
}

func parseUnits(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, domain.ErrInvalidAmount)
	}
	return n, nil
}

func newBatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Manage credit batches",
	}
	cmd.AddCommand(newBatchRegisterCmd(a))
	return cmd
}

func newBatchRegisterCmd(a *app) *cobra.Command {
	var (
		registrant string
		meta       domain.BatchMetadata
		supply     int64
		apy        string
		attrs      []string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a batch and mint its supply to the registrant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			baseAPY, err := decimal.NewFromString(apy)
			if err != nil {
				return fmt.Errorf("--apy: %w", err)
			}
			if len(attrs) > 0 {
				meta.Attributes = make(map[string]string, len(attrs))
				for _, kv := range attrs {
					k, v, ok := strings.Cut(kv, "=")
					if !ok || k == "" {
						return fmt.Errorf("--attr %q: want key=value", kv)
					}
					meta.Attributes[k] = v
				}
			}

			return a.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				id, err := e.RegisterBatch(ctx, registrant, meta, supply, baseAPY)
				if err != nil {
					return err
				}
				return a.result(cmd, "batch_id", id, fmt.Sprintf("registered batch %s (%d units to %s)", id, supply, registrant))
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&registrant, "registrant", "", "Holder credited with the minted supply")
	f.StringVar(&meta.ExternalID, "external-id", "", "Registry serial number")
	f.StringVar(&meta.ProjectName, "project", "", "Project name")
	f.StringVar(&meta.Registry, "registry", "", "Issuing registry")
	f.IntVar(&meta.Vintage, "vintage", 0, "Vintage year")
	f.StringVar(&meta.Methodology, "methodology", "", "Methodology code")
	f.StringVar(&meta.Location, "location", "", "Project location")
	f.StringArrayVar(&attrs, "attr", nil, "Extra attribute key=value (repeatable)")
	f.Int64Var(&supply, "supply", 0, "Total units to mint")
	f.StringVar(&apy, "apy", "0", "Base staking APY (0.10 = 10%)")
	_ = cmd.MarkFlagRequired("registrant")
	_ = cmd.MarkFlagRequired("external-id")
	_ = cmd.MarkFlagRequired("supply")
	return cmd
}

func newTransferCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer BATCH_ID FROM TO AMOUNT",
		Short: "Move free units between holders",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseUnits(args[3])
			if err != nil {
				return err
			}
			return a.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				if err := e.Transfer(ctx, args[0], args[1], args[2], amount); err != nil {
					return err
				}
				return a.result(cmd, "status", "ok", fmt.Sprintf("transferred %d units from %s to %s", amount, args[1], args[2]))
			})
		},
	}
}

func newStakeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stake HOLDER BATCH_ID AMOUNT LOCK",
		Short: "Lock units in a staking position (LOCK: 30d, 90d, 180d, 365d)",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseUnits(args[2])
			if err != nil {
				return err
			}
			lock, err := domain.ParseLockPeriod(args[3])
			if err != nil {
				return err
			}
			return a.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				id, err := e.Stake(ctx, args[0], args[1], amount, lock)
				if err != nil {
					return err
				}
				return a.result(cmd, "position_id", id, fmt.Sprintf("opened position %s (%d units, %s)", id, amount, lock))
			})
		},
	}
}

func newClaimCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "claim POSITION_ID",
		Short: "Pay out the accrued reward of a position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				paid, err := e.ClaimRewards(ctx, args[0])
				if err != nil {
					return err
				}
				return a.result(cmd, "claimed", paid.String(), fmt.Sprintf("claimed %s", paid))
			})
		},
	}
}

func newUnstakeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unstake POSITION_ID",
		Short: "Close an unlocked position and return its units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				if err := e.Unstake(ctx, args[0]); err != nil {
					return err
				}
				return a.result(cmd, "status", "closed", fmt.Sprintf("closed position %s", args[0]))
			})
		},
	}
}

func newBoostCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boost",
		Short: "Grant staking boosts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "grant HOLDER BOOST_ID PERCENT",
		Short: "Grant a boost with an explicit percentage",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pct, err := decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("percent %q: %w", args[2], domain.ErrInvalidAmount)
			}
			return a.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				if err := e.GrantBoost(ctx, args[0], args[1], pct); err != nil {
					return err
				}
				return a.result(cmd, "status", "granted", fmt.Sprintf("granted %s (+%s%%) to %s", args[1], pct, args[0]))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "achievement HOLDER ACHIEVEMENT_ID",
		Short: "Grant a catalog achievement with its default percentage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				if err := e.GrantAchievement(ctx, args[0], args[1]); err != nil {
					return err
				}
				return a.result(cmd, "status", "granted", fmt.Sprintf("granted achievement %s to %s", args[1], args[0]))
			})
		},
	})
	return cmd
}

func newRetireCmd(a *app) *cobra.Command {
	var beneficiary, reason string

	cmd := &cobra.Command{
		Use:   "retire HOLDER BATCH_ID AMOUNT",
		Short: "Burn free units and issue a retirement certificate",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseUnits(args[2])
			if err != nil {
				return err
			}
			var opts retirement.Options
			if beneficiary != "" {
				opts.Beneficiary = &beneficiary
			}
			if reason != "" {
				opts.Reason = &reason
			}
			return a.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				id, err := e.Retire(ctx, args[0], args[1], amount, opts)
				if err != nil {
					return err
				}
				return a.result(cmd, "certificate_id", id, fmt.Sprintf("retired %d units, certificate %s", amount, id))
			})
		},
	}

	cmd.Flags().StringVar(&beneficiary, "beneficiary", "", "Who the offset is claimed for")
	cmd.Flags().StringVar(&reason, "reason", "", "Free-text reason")
	return cmd
}
