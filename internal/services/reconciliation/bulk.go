package reconciliation

import (
	"context"
	"time"

	"ledgercore/internal/domain/identity"
	"ledgercore/internal/models"
	"ledgercore/internal/services/audit"

	"go.uber.org/zap"
)

// AutoReconcilePositiveMargins matches pending records with a known,
// non-negative margin that are at least minAgeDays old. Records pending as
// not_applicable are never matched. minAgeDays <= 0 uses the configured age.
func (s *service) AutoReconcilePositiveMargins(ctx context.Context, minAgeDays int) (*BulkResult, error) {
	if minAgeDays <= 0 {
		minAgeDays = s.config.AutoMatchMinAge
	}
	cutoff := s.now().Add(-time.Duration(minAgeDays) * 24 * time.Hour)

	ids, err := s.repo.MatchableIDs(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	res := s.runBatches(ctx, ids, bulkJob{
		from:     models.ReconciliationPending,
		to:       models.ReconciliationMatched,
		notes:    "auto-matched: non-negative margin",
		action:   audit.ActionReconciliationAutoMatch,
		severity: models.SeverityInfo,
	})
	s.logger.Info("auto reconciliation finished",
		zap.Int("candidates", res.Candidates),
		zap.Int64("matched", res.Updated),
		zap.Int("batches", res.Batches),
		zap.Int("failed_batches", res.Failed),
		zap.Int("min_age_days", minAgeDays))
	return res, ctx.Err()
}

// FlagNegativeMargins moves pending records with a negative margin to
// discrepancy.
func (s *service) FlagNegativeMargins(ctx context.Context) (*BulkResult, error) {
	ids, err := s.repo.NegativePendingIDs(ctx)
	if err != nil {
		return nil, err
	}
	res := s.runBatches(ctx, ids, bulkJob{
		from:     models.ReconciliationPending,
		to:       models.ReconciliationDiscrepancy,
		notes:    "flagged: negative margin",
		action:   audit.ActionReconciliationBulkFlag,
		severity: models.SeverityWarning,
	})
	if res.Updated > 0 {
		s.logger.Warn("negative margins flagged",
			zap.Int64("flagged", res.Updated),
			zap.Int("batches", res.Batches))
	}
	return res, ctx.Err()
}

type bulkJob struct {
	from, to string
	notes    string
	action   string
	severity string
}

// runBatches applies job to ids in chunks of at most BatchSize, one
// transaction and one audit entry per chunk. A failed chunk is logged and
// skipped; the next run picks its records up again.
func (s *service) runBatches(ctx context.Context, ids []string, job bulkJob) *BulkResult {
	res := &BulkResult{Candidates: len(ids)}
	actor := identity.System(identity.SystemReconciliation)

	for start := 0; start < len(ids); start += s.config.BatchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(start+s.config.BatchSize, len(ids))
		batch := ids[start:end]
		res.Batches++

		n, err := s.repo.SetStatus(ctx, batch, job.from, job.to, actor.ActorID, job.notes, s.now())
		if err != nil {
			res.Failed++
			s.logger.Error("reconciliation batch failed",
				zap.String("action", job.action),
				zap.Int("batch", res.Batches),
				zap.Int("size", len(batch)),
				zap.Error(err))
			continue
		}
		res.Updated += n

		audit.RecordQuietly(ctx, s.audit, s.logger, audit.Entry{
			Action:     job.action,
			Category:   audit.CategoryReconciliation,
			Severity:   job.severity,
			Actor:      actor,
			TargetType: "reconciliation_batch",
			TargetID:   batch[0],
			Outcome:    audit.OutcomeSuccess,
			Details: map[string]interface{}{
				"batch":      res.Batches,
				"updated":    n,
				"record_ids": batch,
				"to_status":  job.to,
			},
		})
	}

	s.refreshGauges(ctx)
	return res
}
