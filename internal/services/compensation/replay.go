package compensation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledgercore/internal/domain/identity"
	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/models"
	"ledgercore/internal/repositories"
	"ledgercore/internal/services/audit"
	"ledgercore/internal/services/wallet"

	"go.uber.org/zap"
)

// errBookkeeping marks a replay whose outcome could not be persisted.
var errBookkeeping = errors.New("compensation bookkeeping failed")

// dispatch performs the entry's action with the entry's idempotency key.
func (s *service) dispatch(ctx context.Context, entry *models.CompensationEntry, actor identity.Actor) (*wallet.Result, error) {
	req := wallet.Request{
		AccountID:      entry.AccountID,
		Amount:         entry.Amount,
		IdempotencyKey: entry.IdempotencyKey,
		Reason:         entry.Reason,
		ReferenceID:    entry.EntityID,
		Actor:          actor,
	}

	switch entry.ActionType {
	case models.CompensationActionRefund:
		return s.ledger.Refund(ctx, req)
	case models.CompensationActionCredit:
		return s.ledger.Credit(ctx, req)
	case models.CompensationActionDebit:
		return s.ledger.Debit(ctx, req)
	case models.CompensationActionCancelLabel:
		if s.labels == nil {
			return nil, apperrors.ErrUnsupportedAction.WithMessage("no courier configured for label cancellation")
		}
		if err := s.labels.CancelLabel(ctx, entry.EntityID); err != nil {
			return nil, err
		}
		return &wallet.Result{Success: true, AccountID: entry.AccountID}, nil
	default:
		return nil, apperrors.ErrUnsupportedAction.WithMessage("unsupported action type " + entry.ActionType)
	}
}

// replay runs one attempt and persists its outcome. It reports whether the
// entry is now resolved; a non-nil error is the replay failure, or
// errBookkeeping when the outcome could not be stored.
func (s *service) replay(ctx context.Context, entry *models.CompensationEntry, actor identity.Actor, notes string) (bool, error) {
	_, err := s.dispatch(ctx, entry, actor)
	if err == nil {
		return s.markReplayed(ctx, entry, actor, notes)
	}
	return false, s.markFailed(ctx, entry, actor, err)
}

func (s *service) markReplayed(ctx context.Context, entry *models.CompensationEntry, actor identity.Actor, notes string) (bool, error) {
	if err := s.repo.Resolve(ctx, entry.ID, actor.ActorID, notes, s.now()); err != nil {
		if errors.Is(err, repositories.ErrEntryNotOpen) {
			// resolved concurrently; the idempotent replay changed nothing
			return true, nil
		}
		s.logger.Error("compensation replayed but not marked resolved",
			zap.String("entry_id", entry.ID),
			zap.Error(err))
		return false, fmt.Errorf("%w: %w", errBookkeeping, err)
	}

	s.metrics.RecordCompensation(OutcomeResolved)
	s.logger.Info("compensation resolved",
		zap.String("entry_id", entry.ID),
		zap.String("action_type", entry.ActionType),
		zap.Int("retry_count", entry.RetryCount))
	s.record(ctx, audit.ActionCompensationResolved, models.SeverityInfo, actor, entry, audit.OutcomeSuccess, map[string]interface{}{
		"retry_count": entry.RetryCount,
		"notes":       notes,
	})
	return true, nil
}

func (s *service) markFailed(ctx context.Context, entry *models.CompensationEntry, actor identity.Actor, cause error) error {
	now := s.now()
	entry.RetryCount++
	entry.LastRetryAt = &now

	errCtx := models.NewJSON(entry.ErrorContext)
	errCtx["last_error"] = cause.Error()
	errCtx["last_error_at"] = now.Format(time.RFC3339)
	if code := apperrors.CodeOf(cause); code != "" {
		errCtx["last_error_kind"] = string(code)
	}
	entry.ErrorContext = errCtx

	exhausted := entry.RetryCount >= entry.MaxRetries
	if exhausted {
		entry.ManualReview = true
		entry.NextRetryAt = nil
	} else {
		next := now.Add(s.backoff(entry.RetryCount))
		entry.NextRetryAt = &next
	}

	if err := s.repo.RecordFailure(ctx, entry); err != nil {
		if errors.Is(err, repositories.ErrEntryNotOpen) {
			return cause
		}
		s.logger.Error("failed to record compensation retry",
			zap.String("entry_id", entry.ID),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return fmt.Errorf("%w: %w", errBookkeeping, err)
	}

	if exhausted {
		s.metrics.RecordCompensation(OutcomeManualReview)
		s.logger.Error("compensation retries exhausted; manual review required",
			zap.String("alert", "critical"),
			zap.String("entry_id", entry.ID),
			zap.String("action_type", entry.ActionType),
			zap.Int("retry_count", entry.RetryCount),
			zap.Error(cause))
		s.record(ctx, audit.ActionCompensationManualReview, models.SeverityCritical, actor, entry, audit.OutcomeFailure, map[string]interface{}{
			"retry_count": entry.RetryCount,
			"error":       cause.Error(),
		})
		return cause
	}

	s.metrics.RecordCompensation(OutcomeRetryFailed)
	s.logger.Warn("compensation retry failed",
		zap.String("entry_id", entry.ID),
		zap.Int("retry_count", entry.RetryCount),
		zap.Timep("next_retry_at", entry.NextRetryAt),
		zap.Error(cause))
	s.record(ctx, audit.ActionCompensationRetryFailed, models.SeverityWarning, actor, entry, audit.OutcomeFailure, map[string]interface{}{
		"retry_count": entry.RetryCount,
		"error":       cause.Error(),
	})
	return cause
}
