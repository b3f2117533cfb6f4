// Package config loads host configuration for ledgerd and ledgerctl.
//
// Values are layered: built-in defaults, then an optional TOML file, then
// environment variables (a .env file is loaded first if present). Hosts
// apply command-line flags last.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/staking"
)

// Journal backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config is the full host configuration.
type Config struct {
	Journal   JournalConfig   `toml:"journal"`
	Analytics AnalyticsConfig `toml:"analytics"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Staking   StakingConfig   `toml:"staking"`
	Server    ServerConfig    `toml:"server"`
	Verify    VerifyConfig    `toml:"verify"`
	Log       LogConfig       `toml:"log"`
}

// JournalConfig selects where the journal lives.
type JournalConfig struct {
	Backend     string `toml:"backend"` // memory, sqlite or postgres
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`
	Migrate     bool   `toml:"migrate"` // apply schema migrations at startup
}

// AnalyticsConfig configures the optional ClickHouse sink.
type AnalyticsConfig struct {
	ClickHouseDSN string `toml:"clickhouse_dsn"` // empty disables the sink
}

// LedgerConfig tunes the ledger core.
type LedgerConfig struct {
	Stripes int `toml:"stripes"`
}

// StakingConfig holds the accrual parameters. Changing them after the
// journal has entries makes replay diverge.
type StakingConfig struct {
	SecondsPerYear int64        `toml:"seconds_per_year"`
	MinStake       int64        `toml:"min_stake"`
	Tiers          []TierConfig `toml:"tiers"`
}

// TierConfig is one lock tier as written in the file.
type TierConfig struct {
	Period     string `toml:"period"`
	Multiplier string `toml:"multiplier"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// VerifyConfig schedules background verification.
type VerifyConfig struct {
	Schedule         string `toml:"schedule"`          // cron expression; empty disables
	SnapshotSchedule string `toml:"snapshot_schedule"` // supply snapshot cron expression
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Default returns the built-in configuration.
func Default() *Config {
	tiers := make([]TierConfig, 0, len(domain.LockPeriods))
	for _, t := range domain.DefaultLockTiers() {
		tiers = append(tiers, TierConfig{Period: t.Period.String(), Multiplier: t.Multiplier.String()})
	}

	return &Config{
		Journal: JournalConfig{
			Backend:    BackendMemory,
			SQLitePath: "ledger.db",
			Migrate:    true,
		},
		Ledger: LedgerConfig{Stripes: 256},
		Staking: StakingConfig{
			SecondsPerYear: staking.DefaultSecondsPerYear,
			MinStake:       1,
			Tiers:          tiers,
		},
		Server: ServerConfig{Addr: ":9090"},
		Verify: VerifyConfig{
			Schedule:         "@every 15m",
			SnapshotSchedule: "@hourly",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds a configuration from defaults, the TOML file at path (if
// path is not empty) and the environment.
func Load(path string) (*Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		if err := cfg.DecodeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadEnvFile loads a .env file without overriding variables that are
// already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

// DecodeFile overlays the TOML file at path onto cfg.
func (c *Config) DecodeFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("decode config %s: unknown key %q", path, undecoded[0].String())
	}
	return nil
}

// ApplyEnv overrides values from environment variables.
func (c *Config) ApplyEnv() error {
	setString(&c.Journal.Backend, "LEDGER_JOURNAL")
	setString(&c.Journal.SQLitePath, "LEDGER_SQLITE_PATH")
	setString(&c.Journal.PostgresDSN, "POSTGRES_DSN")
	setString(&c.Analytics.ClickHouseDSN, "CLICKHOUSE_DSN")
	setString(&c.Server.Addr, "LEDGER_ADDR")
	setString(&c.Verify.Schedule, "LEDGER_VERIFY_SCHEDULE")
	setString(&c.Log.Level, "LOG_LEVEL")

	if err := setInt(&c.Ledger.Stripes, "LEDGER_STRIPES"); err != nil {
		return err
	}
	if err := setInt64(&c.Staking.SecondsPerYear, "LEDGER_SECONDS_PER_YEAR"); err != nil {
		return err
	}
	return setInt64(&c.Staking.MinStake, "LEDGER_MIN_STAKE")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	n := int64(*dst)
	if err := setInt64(&n, key); err != nil {
		return err
	}
	*dst = int(n)
	return nil
}

func setInt64(dst *int64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fmt.Errorf("env %s: %w", key, err)
	}
	*dst = n
	return nil
}

// Validate checks the configuration for values the hosts cannot use.
func (c *Config) Validate() error {
	switch c.Journal.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Journal.SQLitePath == "" {
			return errors.New("journal.sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Journal.PostgresDSN == "" {
			return errors.New("journal.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown journal backend %q", c.Journal.Backend)
	}

	if c.Ledger.Stripes < 0 {
		return fmt.Errorf("ledger.stripes must not be negative, got %d", c.Ledger.Stripes)
	}
	if c.Staking.SecondsPerYear <= 0 {
		return fmt.Errorf("staking.seconds_per_year must be positive, got %d", c.Staking.SecondsPerYear)
	}
	if c.Staking.MinStake < 1 {
		return fmt.Errorf("staking.min_stake must be at least 1, got %d", c.Staking.MinStake)
	}
	if _, err := c.LockTiers(); err != nil {
		return err
	}

	for name, spec := range map[string]string{
		"verify.schedule":          c.Verify.Schedule,
		"verify.snapshot_schedule": c.Verify.SnapshotSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// LockTiers converts the tier table. Every period must appear once and
// every multiplier must be at least 1.
func (c *Config) LockTiers() ([]domain.LockTier, error) {
	seen := make(map[domain.LockPeriod]bool, len(c.Staking.Tiers))
	tiers := make([]domain.LockTier, 0, len(c.Staking.Tiers))

	for _, t := range c.Staking.Tiers {
		period, err := domain.ParseLockPeriod(t.Period)
		if err != nil {
			return nil, fmt.Errorf("staking.tiers: period %q: %w", t.Period, err)
		}
		if seen[period] {
			return nil, fmt.Errorf("staking.tiers: period %s listed twice", period)
		}
		seen[period] = true

		m, err := decimal.NewFromString(t.Multiplier)
		if err != nil {
			return nil, fmt.Errorf("staking.tiers: multiplier for %s: %w", period, err)
		}
		if m.LessThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("staking.tiers: multiplier for %s must be >= 1, got %s", period, m)
		}
		tiers = append(tiers, domain.LockTier{Period: period, Multiplier: m})
	}

	for _, p := range domain.LockPeriods {
		if !seen[p] {
			return nil, fmt.Errorf("staking.tiers: missing period %s", p)
		}
	}
	return tiers, nil
}
