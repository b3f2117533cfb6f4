package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"carbon-ledger/internal/config"
)

// newScheduler registers the verification and supply snapshot jobs.
// An empty schedule leaves its job out.
func newScheduler(ctx context.Context, cfg config.VerifyConfig, s *Server, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLogger(cronLogger{logger}))

	if cfg.Schedule != "" {
		_, err := c.AddFunc(cfg.Schedule, func() { runVerifyJob(ctx, s, logger) })
		if err != nil {
			return nil, fmt.Errorf("schedule verification: %w", err)
		}
		logger.Info("verification scheduled", zap.String("schedule", cfg.Schedule))
	}

	if cfg.SnapshotSchedule != "" {
		_, err := c.AddFunc(cfg.SnapshotSchedule, func() { runSnapshotJob(ctx, s, logger) })
		if err != nil {
			return nil, fmt.Errorf("schedule supply snapshots: %w", err)
		}
		logger.Info("supply snapshots scheduled", zap.String("schedule", cfg.SnapshotSchedule))
	}

	return c, nil
}

func runVerifyJob(ctx context.Context, s *Server, logger *zap.Logger) {
	report, err := s.RunVerification(ctx)
	switch {
	case errors.Is(err, errVerificationRunning):
		logger.Warn("verification still running, skipping")
	case err != nil:
		logger.Error("verification failed", zap.Error(err))
	case !report.Match():
		logger.Error("ledger diverges from its journal",
			zap.Int64("seq", report.Seq),
			zap.Int("divergences", len(report.Divergences)),
			zap.Bool("conserved", report.Conserved))
	}
}

func runSnapshotJob(ctx context.Context, s *Server, logger *zap.Logger) {
	start := time.Now()
	n, err := s.TakeSnapshots(ctx)
	if err != nil {
		logger.Error("supply snapshot failed", zap.Error(err))
		return
	}
	logger.Debug("supply snapshot taken",
		zap.Int("batches", n),
		zap.Duration("duration", time.Since(start)))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
