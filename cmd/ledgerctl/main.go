// Command ledgerctl operates a ledger journal: it records ledger operations
// and inspects, verifies, copies and reports on the journal offline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"carbon-ledger/internal/backend"
	"carbon-ledger/internal/config"
	"carbon-ledger/internal/engine"
	"carbon-ledger/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app carries the loaded configuration to subcommands.
type app struct {
	configPath  string
	backendName string
	sqlitePath  string
	postgresDSN string
	logLevel    string
	jsonOutput  bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate and verify a carbon ledger journal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", os.Getenv("LEDGER_CONFIG"), "Path to TOML config file")
	f.StringVar(&a.backendName, "journal", "", "Journal backend: memory, sqlite or postgres (overrides config)")
	f.StringVar(&a.sqlitePath, "sqlite-path", "", "SQLite journal file (overrides config)")
	f.StringVar(&a.postgresDSN, "postgres-dsn", "", "PostgreSQL connection string (overrides config)")
	f.StringVar(&a.logLevel, "log-level", "warn", "Log level")
	f.BoolVar(&a.jsonOutput, "json", false, "Output as JSON")

	root.AddCommand(
		newJournalCmd(a),
		newReplayCmd(a),
		newVerifyCmd(a),
		newSupplyCmd(a),
		newPortfolioCmd(a),
		newCopyCmd(a),
		newAnalyticsCmd(a),
		newReportCmd(a),
		newBatchCmd(a),
		newTransferCmd(a),
		newStakeCmd(a),
		newClaimCmd(a),
		newUnstakeCmd(a),
		newBoostCmd(a),
		newRetireCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.backendName != "" {
		cfg.Journal.Backend = a.backendName
	}
	if a.sqlitePath != "" {
		cfg.Journal.SQLitePath = a.sqlitePath
	}
	if a.postgresDSN != "" {
		cfg.Journal.PostgresDSN = a.postgresDSN
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := observability.NewLogger(a.logLevel, false)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// openJournal opens the configured journal without the analytics stores.
func (a *app) openJournal(ctx context.Context) (*backend.Stores, error) {
	return backend.OpenJournal(ctx, a.cfg.Journal, a.logger)
}

// rebuild opens the journal and replays it read-only up to seq (0 = all).
func (a *app) rebuild(ctx context.Context, seq int64) (*engine.Engine, *backend.Stores, error) {
	stores, err := a.openJournal(ctx)
	if err != nil {
		return nil, nil, err
	}
	ecfg, err := stores.EngineConfig(a.cfg, a.logger.Named("engine"))
	if err != nil {
		stores.Close()
		return nil, nil, err
	}
	ecfg.ReadOnly = true
	ecfg.ReplayTo = seq

	e, err := engine.Open(ctx, ecfg)
	if err != nil {
		stores.Close()
		return nil, nil, err
	}
	return e, stores, nil
}
