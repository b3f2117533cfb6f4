// Package backend opens the journal, checkpoint and analytics stores a
// host is configured for.
package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"carbon-ledger/internal/config"
	"carbon-ledger/internal/engine"
	"carbon-ledger/internal/storage"
	chstore "carbon-ledger/internal/storage/clickhouse"
	"carbon-ledger/internal/storage/memory"
	"carbon-ledger/internal/storage/migrations"
	pgstore "carbon-ledger/internal/storage/postgres"
	"carbon-ledger/internal/storage/sqlite"
)

// Stores holds the storage a host runs on.
type Stores struct {
	Journal     storage.JournalStore
	Checkpoints storage.CheckpointStore
	Snapshots   storage.SupplySnapshotStore

	// Events is the ClickHouse journal sink; nil when analytics are off.
	Events *chstore.JournalSink

	closers []func()
}

// Open opens the configured journal backend and, when a ClickHouse DSN is
// set, the analytics stores. Supply snapshots fall back to memory.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, error) {
	s, err := OpenJournal(ctx, cfg.Journal, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Analytics.ClickHouseDSN == "" {
		s.Snapshots = memory.NewSupplySnapshotStore()
		return s, nil
	}

	var conn *chstore.Conn
	if cfg.Journal.Migrate {
		conn, err = migrations.RunClickhouseMigrations(ctx, cfg.Analytics.ClickHouseDSN)
	} else {
		conn, err = chstore.NewConn(ctx, cfg.Analytics.ClickHouseDSN)
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	s.closers = append(s.closers, func() { conn.Close() })
	s.Events = chstore.NewJournalSink(conn)
	s.Snapshots = chstore.NewSupplySnapshotStore(conn)

	logger.Info("analytics enabled")
	return s, nil
}

// OpenJournal opens only the journal and checkpoint stores of jc.
func OpenJournal(ctx context.Context, jc config.JournalConfig, logger *zap.Logger) (*Stores, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch jc.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory journal; state is lost on exit")
		return &Stores{
			Journal:     memory.NewJournalStore(),
			Checkpoints: memory.NewCheckpointStore(),
		}, nil

	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, jc.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if jc.Migrate {
			if err := migrations.RunSQLiteMigrations(ctx, db); err != nil {
				db.Close()
				return nil, fmt.Errorf("migrate sqlite: %w", err)
			}
		}
		logger.Info("journal opened", zap.String("backend", jc.Backend), zap.String("path", jc.SQLitePath))
		return &Stores{
			Journal:     sqlite.NewJournalStore(db),
			Checkpoints: sqlite.NewCheckpointStore(db),
			closers:     []func(){func() { db.Close() }},
		}, nil

	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, jc.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if jc.Migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		logger.Info("journal opened", zap.String("backend", jc.Backend))
		return &Stores{
			Journal:     pgstore.NewJournalStore(pool),
			Checkpoints: pgstore.NewCheckpointStore(pool),
			closers:     []func(){pool.Close},
		}, nil
	}

	return nil, fmt.Errorf("unknown journal backend %q", jc.Backend)
}

// Sink returns the analytics sink, or nil when analytics are off.
func (s *Stores) Sink() storage.JournalSink {
	if s.Events == nil {
		return nil
	}
	return s.Events
}

// Close releases every connection in reverse order of opening.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// EngineConfig builds the engine configuration for cfg on top of s.
func (s *Stores) EngineConfig(cfg *config.Config, logger *zap.Logger) (engine.Config, error) {
	tiers, err := cfg.LockTiers()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Journal:        s.Journal,
		Sink:           s.Sink(),
		Stripes:        cfg.Ledger.Stripes,
		Tiers:          tiers,
		SecondsPerYear: cfg.Staking.SecondsPerYear,
		MinStake:       cfg.Staking.MinStake,
		Logger:         logger,
	}, nil
}
