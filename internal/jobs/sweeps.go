package jobs

import (
	"context"
	"errors"
	"time"

	"ledgercore/internal/services/compensation"
	"ledgercore/internal/services/reconciliation"

	"go.uber.org/zap"
)

// CompensationSweep replays due compensation entries and expires stale ones.
func CompensationSweep(svc compensation.Service, interval time.Duration, logger *zap.Logger) Job {
	return Job{
		Name:     "compensation-sweep",
		Interval: interval,
		Run: func(ctx context.Context) error {
			res, err := svc.ProcessPending(ctx)
			if err != nil {
				return err
			}
			if res.Processed > 0 || res.Expired > 0 {
				logger.Info("compensation sweep",
					zap.Int("processed", res.Processed),
					zap.Int("resolved", res.Resolved),
					zap.Int("retried", res.Retried),
					zap.Int("expired", res.Expired),
					zap.Int("errors", res.Errors))
			}
			return nil
		},
	}
}

// ReconciliationSweep flags negative margins and auto-matches aged positive
// ones. Both passes run even if the first fails.
func ReconciliationSweep(svc reconciliation.Service, interval time.Duration, minAgeDays int, logger *zap.Logger) Job {
	return Job{
		Name:     "reconciliation-sweep",
		Interval: interval,
		Run: func(ctx context.Context) error {
			flagged, flagErr := svc.FlagNegativeMargins(ctx)
			if flagErr == nil && flagged.Updated > 0 {
				logger.Warn("negative margins flagged", zap.Int64("records", flagged.Updated))
			}

			matched, matchErr := svc.AutoReconcilePositiveMargins(ctx, minAgeDays)
			if matchErr == nil && matched.Updated > 0 {
				logger.Info("positive margins auto-matched",
					zap.Int64("records", matched.Updated),
					zap.Int("batches", matched.Batches),
					zap.Int("failed_batches", matched.Failed))
			}
			return errors.Join(flagErr, matchErr)
		},
	}
}
