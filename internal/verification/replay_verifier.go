package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"carbon-ledger/internal/engine"
	"carbon-ledger/internal/observability"
	"carbon-ledger/internal/retirement"
	"carbon-ledger/internal/storage"
)

// ReplayVerifier implements Verifier by rebuilding a read-only engine from
// the journal and comparing it with the live engine, when there is one.
type ReplayVerifier struct {
	journal     storage.JournalStore
	live        *engine.Engine
	engineCfg   engine.Config
	checkpoints storage.CheckpointStore
	logger      *zap.Logger
	now         func() time.Time
}

// ReplayVerifierOptions contains configuration for creating a ReplayVerifier.
type ReplayVerifierOptions struct {
	Journal storage.JournalStore

	// Live is compared with the replayed state. Nil verifies the journal
	// alone: replay must succeed and conservation must hold.
	Live *engine.Engine

	// EngineConfig carries the tiers and accrual settings the journal was
	// written with. Journal, ReadOnly and ReplayTo are overridden.
	EngineConfig engine.Config

	// Checkpoints records each run. Optional.
	Checkpoints storage.CheckpointStore

	Logger *zap.Logger
}

// NewReplayVerifier creates a new ReplayVerifier.
func NewReplayVerifier(opts ReplayVerifierOptions) *ReplayVerifier {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &ReplayVerifier{
		journal:     opts.Journal,
		live:        opts.Live,
		engineCfg:   opts.EngineConfig,
		checkpoints: opts.Checkpoints,
		logger:      opts.Logger,
		now:         time.Now,
	}
}

// Verify implements Verifier.
// A journal that cannot be replayed is reported as an error, not as a divergent report.
func (v *ReplayVerifier) Verify(ctx context.Context) (*VerificationReport, error) {
	start := v.now()

	var live *engine.Snapshot
	if v.live != nil {
		live = v.live.Snapshot(ctx)
	}

	cfg := v.engineCfg
	cfg.Journal = v.journal
	cfg.Sink = nil
	cfg.ReadOnly = true
	cfg.ReplayTo = 0
	if live != nil {
		cfg.ReplayTo = live.Seq
	}
	if cfg.Logger == nil {
		cfg.Logger = v.logger.Named("replay")
	}

	var snap *engine.Snapshot
	if live != nil && live.Seq == 0 {
		// Nothing committed yet; compare against a fresh engine.
		snap = engine.New(engine.Config{Logger: cfg.Logger}).Snapshot(ctx)
	} else {
		replayed, err := engine.Open(ctx, cfg)
		if err != nil {
			observability.RecordVerification("error", v.now().Sub(start).Seconds(), 0)
			return nil, fmt.Errorf("replay journal: %w", err)
		}
		snap = replayed.Snapshot(ctx)
	}

	report := &VerificationReport{
		Seq:       snap.Seq,
		Entries:   snap.Seq,
		Supplies:  snap.Supplies,
		Conserved: true,
	}
	for _, s := range snap.Supplies {
		if !s.Conserved() {
			report.Conserved = false
		}
	}
	for _, c := range snap.Certificates {
		if !retirement.VerifyFingerprint(c) {
			report.BadCerts = append(report.BadCerts, c.CertificateID)
		}
	}
	if live != nil {
		report.Divergences = CompareSnapshots(live, snap)
	}

	if snap.Seq > 0 {
		entry, err := v.journal.GetBySeq(ctx, snap.Seq)
		if err != nil {
			return nil, fmt.Errorf("load journal seq %d: %w", snap.Seq, err)
		}
		report.TxID = entry.TxID
	}

	report.DurationMs = v.now().Sub(start).Milliseconds()
	observability.RecordVerification(report.Status(), v.now().Sub(start).Seconds(), len(report.Divergences))

	if err := v.saveCheckpoint(ctx, report); err != nil {
		return report, err
	}

	fields := []zap.Field{
		zap.Int64("seq", report.Seq),
		zap.Bool("conserved", report.Conserved),
		zap.Int("divergences", len(report.Divergences)),
		zap.Int("bad_certificates", len(report.BadCerts)),
		zap.Int64("duration_ms", report.DurationMs),
	}
	if report.Match() {
		v.logger.Info("journal verified", fields...)
	} else {
		v.logger.Error("journal verification failed", fields...)
	}
	return report, nil
}

func (v *ReplayVerifier) saveCheckpoint(ctx context.Context, report *VerificationReport) error {
	if v.checkpoints == nil {
		return nil
	}

	last, err := v.checkpoints.GetLast(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load checkpoint: %w", err)
	case last.Seq > report.Seq:
		// A newer run already checkpointed further ahead.
		return nil
	}

	err = v.checkpoints.Save(ctx, &storage.VerificationCheckpoint{
		Seq:        report.Seq,
		TxID:       report.TxID,
		VerifiedAt: v.now().UnixMilli(),
		Conserved:  report.Conserved,
		Divergent:  len(report.Divergences),
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

var _ Verifier = (*ReplayVerifier)(nil)
