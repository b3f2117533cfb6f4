// Package engine wires the batch registry, ownership ledger, staking,
// boosts and retirement onto one ledger and one journal.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"carbon-ledger/internal/boost"
	"carbon-ledger/internal/clock"
	"carbon-ledger/internal/domain"
	"carbon-ledger/internal/idhash"
	"carbon-ledger/internal/ledger"
	"carbon-ledger/internal/registry"
	"carbon-ledger/internal/replay"
	"carbon-ledger/internal/retirement"
	"carbon-ledger/internal/staking"
	"carbon-ledger/internal/storage"
	"carbon-ledger/internal/storage/memory"
)

// Config configures an Engine.
type Config struct {
	Journal storage.JournalStore // defaults to an in-memory journal
	Sink    storage.JournalSink  // optional analytics sink
	Clock   clock.Clock          // defaults to the system clock
	Stripes int                  // lock stripes

	Tiers          []domain.LockTier
	SecondsPerYear int64
	MinStake       int64

	// ReadOnly keeps the engine in replay mode after Open, so nothing can be
	// appended. Used to rebuild a second copy of the state for verification.
	ReadOnly bool

	// ReplayTo stops Open after this seq; 0 replays the whole journal.
	// Only meaningful together with ReadOnly.
	ReplayTo int64

	Logger *zap.Logger
}

// Engine is the embeddable ledger core.
type Engine struct {
	clock  *clock.Replay
	guard  *replay.Guard
	ids    *idhash.Queue
	logger *zap.Logger

	ledger    *ledger.Ledger
	registry  *registry.Registry
	boosts    *boost.Registry
	staking   *staking.Engine
	certifier *retirement.Certifier
}

// New creates an engine over an empty journal, ready for operations.
func New(cfg Config) *Engine {
	e := build(cfg)
	e.guard.GoLive()
	return e
}

// Open creates an engine and rebuilds its state by replaying the journal.
// Unless cfg.ReadOnly is set, the engine accepts operations afterwards.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	e := build(cfg)

	last, err := replay.NewRunner(e.guard.JournalStore).Run(ctx, 1, cfg.ReplayTo, e)
	e.clock.Release()
	if err != nil {
		return nil, fmt.Errorf("rebuild from journal: %w", err)
	}

	if !cfg.ReadOnly {
		e.guard.GoLive()
	}
	e.logger.Info("engine rebuilt from journal",
		zap.Int64("seq", last),
		zap.Bool("read_only", cfg.ReadOnly))
	return e, nil
}

func build(cfg Config) *Engine {
	if cfg.Journal == nil {
		cfg.Journal = memory.NewJournalStore()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	clk := clock.NewReplay(cfg.Clock)
	guard := replay.NewGuard(cfg.Journal, false)
	ids := idhash.NewQueue()

	l := ledger.New(ledger.Config{
		Journal: guard,
		Sink:    guard.Sink(cfg.Sink),
		Clock:   clk,
		Stripes: cfg.Stripes,
		Logger:  cfg.Logger.Named("ledger"),
	})
	reg := registry.New(l, registry.Config{Logger: cfg.Logger.Named("registry")})
	boosts := boost.New(l, boost.Config{Logger: cfg.Logger.Named("boost")})

	return &Engine{
		clock:    clk,
		guard:    guard,
		ids:      ids,
		logger:   cfg.Logger,
		ledger:   l,
		registry: reg,
		boosts:   boosts,
		staking: staking.New(l, reg, boosts, staking.Config{
			Tiers:          cfg.Tiers,
			SecondsPerYear: cfg.SecondsPerYear,
			MinStake:       cfg.MinStake,
			IDs:            ids,
			Logger:         cfg.Logger.Named("staking"),
		}),
		certifier: retirement.New(l, reg, retirement.Config{
			IDs:    ids,
			Logger: cfg.Logger.Named("retirement"),
		}),
	}
}

// OnEntry re-runs a recorded entry at its recorded time, reusing its ids.
// It implements replay.ReplayEngine.
func (e *Engine) OnEntry(ctx context.Context, entry *domain.JournalEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", replay.ErrDivergence, err)
	}

	e.clock.Pin(entry.At)
	e.guard.Expect(entry)
	defer e.ids.Reset()
	defer e.guard.Expect(nil)

	if err := e.apply(ctx, entry); err != nil {
		if errors.Is(err, replay.ErrDivergence) {
			return err
		}
		return fmt.Errorf("%w: %w", replay.ErrDivergence, err)
	}
	if e.guard.Pending() {
		return fmt.Errorf("%w: seq %d produced no journal entry", replay.ErrDivergence, entry.Seq)
	}
	return nil
}

func (e *Engine) apply(ctx context.Context, entry *domain.JournalEntry) error {
	p := entry.Payload
	switch entry.Kind {
	case domain.OpRegisterBatch:
		_, err := e.registry.RegisterBatch(ctx, p.Batch.Registrant, p.Batch.Metadata, p.Batch.TotalSupply, p.Batch.BaseAPY)
		return err
	case domain.OpTransfer:
		return e.ledger.Transfer(ctx, p.Transfer.BatchID, p.Transfer.From, p.Transfer.To, p.Transfer.Amount)
	case domain.OpStake:
		e.ids.Push(p.Position.PositionID)
		_, err := e.staking.Stake(ctx, p.Position.Holder, p.Position.BatchID, p.Position.Amount, p.Position.LockPeriod)
		return err
	case domain.OpClaim:
		_, err := e.staking.ClaimRewards(ctx, p.Claim.PositionID)
		return err
	case domain.OpUnstake:
		return e.staking.Unstake(ctx, p.Unstake.PositionID)
	case domain.OpGrantBoost:
		return e.boosts.GrantBoost(ctx, p.Boost.Holder, p.Boost.BoostID, p.Boost.Percentage)
	case domain.OpRetire:
		e.ids.Push(p.Certificate.CertificateID)
		_, err := e.certifier.Retire(ctx, p.Certificate.Holder, p.Certificate.BatchID, p.Certificate.Amount, retirement.Options{
			Beneficiary: p.Certificate.Beneficiary,
			Reason:      p.Certificate.Reason,
		})
		return err
	}
	return fmt.Errorf("unknown journal entry kind %q", entry.Kind)
}

// Seq returns the last committed journal seq.
func (e *Engine) Seq() int64 {
	return e.ledger.Seq()
}

// Journal returns the underlying journal store.
func (e *Engine) Journal() storage.JournalStore {
	return e.guard.JournalStore
}

// Clock returns the engine's time source.
func (e *Engine) Clock() clock.Clock {
	return e.clock
}

// Tiers returns the configured lock tiers.
func (e *Engine) Tiers() []domain.LockTier {
	return e.staking.Tiers()
}

// RegisterBatch registers a batch and mints its supply to registrant.
func (e *Engine) RegisterBatch(ctx context.Context, registrant string, metadata domain.BatchMetadata, totalSupply int64, baseAPY decimal.Decimal) (string, error) {
	return e.registry.RegisterBatch(ctx, registrant, metadata, totalSupply, baseAPY)
}

// GetBatch returns a registered batch.
func (e *Engine) GetBatch(ctx context.Context, batchID string) (*domain.CreditBatch, error) {
	return e.registry.GetBatch(ctx, batchID)
}

// ListBatches returns all batches ordered by mint time.
func (e *Engine) ListBatches(ctx context.Context) []*domain.CreditBatch {
	return e.registry.ListBatches(ctx)
}

// Transfer moves free units between holders.
func (e *Engine) Transfer(ctx context.Context, batchID, from, to string, amount int64) error {
	return e.ledger.Transfer(ctx, batchID, from, to, amount)
}

// BalanceOf returns a holder's balance in a batch.
func (e *Engine) BalanceOf(ctx context.Context, holder, batchID string) (domain.Balance, error) {
	return e.ledger.BalanceOf(ctx, holder, batchID)
}

// Supply returns the free/staked/retired breakdown of a batch.
func (e *Engine) Supply(ctx context.Context, batchID string) (domain.Supply, error) {
	return e.ledger.Supply(ctx, batchID)
}

// CheckConservation reports the supply of every batch.
func (e *Engine) CheckConservation(ctx context.Context) ([]domain.Supply, error) {
	return e.ledger.CheckConservation(ctx)
}

// Stake opens a staking position.
func (e *Engine) Stake(ctx context.Context, holder, batchID string, amount int64, lock domain.LockPeriod) (string, error) {
	return e.staking.Stake(ctx, holder, batchID, amount, lock)
}

// ClaimRewards pays out a position's accrued reward.
func (e *Engine) ClaimRewards(ctx context.Context, positionID string) (decimal.Decimal, error) {
	return e.staking.ClaimRewards(ctx, positionID)
}

// Unstake closes a position whose lock has elapsed.
func (e *Engine) Unstake(ctx context.Context, positionID string) error {
	return e.staking.Unstake(ctx, positionID)
}

// GetPosition returns a position accrued up to now.
func (e *Engine) GetPosition(ctx context.Context, positionID string) (*domain.StakingPosition, error) {
	return e.staking.GetPosition(ctx, positionID)
}

// ListPositions returns a holder's positions accrued up to now.
func (e *Engine) ListPositions(ctx context.Context, holder string) []*domain.StakingPosition {
	return e.staking.ListPositions(ctx, holder)
}

// RewardBalance returns the total reward paid out to a holder.
func (e *Engine) RewardBalance(ctx context.Context, holder string) decimal.Decimal {
	return e.staking.RewardBalance(ctx, holder)
}

// GrantBoost issues a boost to a holder.
func (e *Engine) GrantBoost(ctx context.Context, holder, boostID string, percentage decimal.Decimal) error {
	return e.boosts.GrantBoost(ctx, holder, boostID, percentage)
}

// GrantAchievement issues a catalog achievement to a holder.
func (e *Engine) GrantAchievement(ctx context.Context, holder, achievementID string) error {
	return e.boosts.GrantAchievement(ctx, holder, achievementID)
}

// GetActiveBoosts returns a holder's boosts.
func (e *Engine) GetActiveBoosts(ctx context.Context, holder string) []*domain.BoostGrant {
	return e.boosts.GetActiveBoosts(ctx, holder)
}

// BoostMultiplier returns the multiplier a stake opened now would snapshot.
func (e *Engine) BoostMultiplier(ctx context.Context, holder string) decimal.Decimal {
	return e.boosts.Multiplier(ctx, holder)
}

// Retire burns free units and issues a certificate.
func (e *Engine) Retire(ctx context.Context, holder, batchID string, amount int64, opts retirement.Options) (string, error) {
	return e.certifier.Retire(ctx, holder, batchID, amount, opts)
}

// GetCertificate returns a retirement certificate.
func (e *Engine) GetCertificate(ctx context.Context, certID string) (*domain.RetirementCertificate, error) {
	return e.certifier.GetCertificate(ctx, certID)
}

// ListCertificates returns a holder's certificates.
func (e *Engine) ListCertificates(ctx context.Context, holder string) []*domain.RetirementCertificate {
	return e.certifier.ListCertificates(ctx, holder)
}

// TotalRetired returns the units a holder has retired.
func (e *Engine) TotalRetired(ctx context.Context, holder string) int64 {
	return e.certifier.TotalRetired(ctx, holder)
}

// Leaderboard ranks holders by retired units.
func (e *Engine) Leaderboard(ctx context.Context, limit int) []retirement.LeaderboardEntry {
	return e.certifier.Leaderboard(ctx, limit)
}
