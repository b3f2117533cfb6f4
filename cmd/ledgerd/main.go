// Command ledgerd runs the carbon ledger as a service. At boot it rebuilds
// the ledger from the journal, then serves the admin HTTP API and runs
// scheduled verification and supply snapshots.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"carbon-ledger/internal/backend"
	"carbon-ledger/internal/config"
	"carbon-ledger/internal/engine"
	"carbon-ledger/internal/observability"
	"carbon-ledger/internal/verification"
)

const (
	shutdownTimeout = 30 * time.Second
	uptimeInterval  = 15 * time.Second
)

func main() {
	configPath := flag.String("config", os.Getenv("LEDGER_CONFIG"), "Path to TOML config file")
	addr := flag.String("addr", "", "Admin HTTP address (overrides config)")
	journal := flag.String("journal", "", "Journal backend: memory, sqlite or postgres (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	verifyNow := flag.Bool("verify-on-start", true, "Verify the rebuilt ledger before serving")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *journal != "" {
		cfg.Journal.Backend = *journal
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *verifyNow, logger); err != nil {
		logger.Fatal("ledgerd stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, verifyOnStart bool, logger *zap.Logger) error {
	stores, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	ecfg, err := stores.EngineConfig(cfg, logger.Named("engine"))
	if err != nil {
		return err
	}

	start := time.Now()
	eng, err := engine.Open(ctx, ecfg)
	if err != nil {
		return err
	}
	logger.Info("ledger ready",
		zap.Int64("seq", eng.Seq()),
		zap.Duration("rebuild", time.Since(start)))

	srv := NewServer(ServerOptions{
		Engine: eng,
		Verifier: verification.NewReplayVerifier(verification.ReplayVerifierOptions{
			Journal:      stores.Journal,
			Live:         eng,
			EngineConfig: ecfg,
			Checkpoints:  stores.Checkpoints,
			Logger:       logger.Named("verify"),
		}),
		Checkpoints: stores.Checkpoints,
		Snapshots:   stores.Snapshots,
		Logger:      logger,
	})

	if verifyOnStart {
		runVerifyJob(ctx, srv, logger)
	}

	sched, err := newScheduler(ctx, cfg.Verify, srv, logger.Named("cron"))
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("admin http listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		<-sched.Stop().Done()
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(uptimeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				observability.AddUptime(uptimeInterval.Seconds())
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
