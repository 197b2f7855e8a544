// Package compensation keeps dependent financial actions from being lost.
// When an action that follows a committed primary operation fails, it is
// persisted as a PENDING entry carrying everything needed to replay it. A
// sweeper replays due entries with the same idempotency key, so a replay
// that already landed is a no-op.
package compensation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledgercore/internal/domain/identity"
	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/models"
	"ledgercore/internal/repositories"
	"ledgercore/internal/resilience"
	"ledgercore/internal/services/audit"
	"ledgercore/internal/services/wallet"

	"go.uber.org/zap"
)

// Defaults
const (
	DefaultBatchSize   = 50
	DefaultMaxRetries  = 5
	DefaultExpireAfter = 7 * 24 * time.Hour

	expiredReason = "pending beyond the expiry window"
)

// DefaultBackoff is the delay before retry n+1; the last step repeats.
var DefaultBackoff = []time.Duration{
	time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

// Metric outcomes
const (
	OutcomeQueued       = "queued"
	OutcomeResolved     = "resolved"
	OutcomeRetryFailed  = "retry_failed"
	OutcomeExpired      = "expired"
	OutcomeManualReview = "manual_review"
)

type service struct {
	repo    repositories.CompensationRepository
	ledger  Ledger
	labels  LabelCanceller
	audit   audit.Service
	config  Config
	metrics MetricsCollector
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates the compensation service. labels may be nil when no
// courier is configured; CANCEL_LABEL entries then stay pending.
func NewService(
	repo repositories.CompensationRepository,
	ledger Ledger,
	labels LabelCanceller,
	auditSvc audit.Service,
	config Config,
	metrics MetricsCollector,
	logger *zap.Logger,
) Service {
	if repo == nil {
		panic("repo is required")
	}
	if ledger == nil {
		panic("ledger is required")
	}
	if auditSvc == nil {
		panic("audit service is required")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.ExpireAfter <= 0 {
		config.ExpireAfter = DefaultExpireAfter
	}
	if len(config.Backoff) == 0 {
		config.Backoff = DefaultBackoff
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &service{
		repo:    repo,
		ledger:  ledger,
		labels:  labels,
		audit:   auditSvc,
		config:  config,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ExecuteOrEnqueue runs the action now. Any failure persists a PENDING
// entry and returns ErrDeferred wrapping the cause; the returned entry is
// non-nil exactly when the action was queued.
func (s *service) ExecuteOrEnqueue(ctx context.Context, action Action) (*wallet.Result, *models.CompensationEntry, error) {
	if err := validateAction(action); err != nil {
		return nil, nil, err
	}

	entry := s.newEntry(action)
	res, err := s.dispatch(ctx, entry, action.Actor)
	if err == nil {
		return res, nil, nil
	}

	queued, qerr := s.Enqueue(ctx, action, err)
	if qerr != nil {
		s.logger.Error("compensation could not be queued; action is lost until reconciled",
			zap.String("action_type", action.Type),
			zap.String("entity_id", action.EntityID),
			zap.String("idempotency_key", entry.IdempotencyKey),
			zap.NamedError("cause", err),
			zap.Error(qerr))
		return nil, nil, fmt.Errorf("failed to queue compensation after %v: %w", err, qerr)
	}
	return nil, queued, fmt.Errorf("%w: %w", apperrors.ErrDeferred, err)
}

// Enqueue persists a PENDING entry for action. Enqueueing the same action
// twice returns the existing entry.
func (s *service) Enqueue(ctx context.Context, action Action, cause error) (*models.CompensationEntry, error) {
	if err := validateAction(action); err != nil {
		return nil, err
	}

	entry := s.newEntry(action)
	entry.ErrorContext = errorContext(cause, s.now(), action.Actor)
	next := s.now().Add(s.backoff(0))
	entry.NextRetryAt = &next

	if err := s.repo.Create(ctx, entry); err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			existing, gerr := s.repo.GetByKey(ctx, entry.IdempotencyKey)
			if gerr != nil {
				return nil, gerr
			}
			return existing, nil
		}
		return nil, err
	}

	s.metrics.RecordCompensation(OutcomeQueued)
	s.logger.Warn("compensation queued",
		zap.String("entry_id", entry.ID),
		zap.String("action_type", entry.ActionType),
		zap.String("entity_id", entry.EntityID),
		zap.String("idempotency_key", entry.IdempotencyKey),
		zap.NamedError("cause", cause))
	s.record(ctx, audit.ActionCompensationQueued, models.SeverityWarning, action.Actor, entry, audit.OutcomeFailure, map[string]interface{}{
		"error": errorMessage(cause),
	})
	return entry, nil
}

// ProcessPending expires stale entries, then replays due ones.
func (s *service) ProcessPending(ctx context.Context) (*ProcessResult, error) {
	result := &ProcessResult{}
	system := identity.System(identity.SystemCompensation)

	expired, err := s.repo.Expire(ctx, s.now().Add(-s.config.ExpireAfter), expiredReason)
	if err != nil {
		return nil, err
	}
	for i := range expired {
		entry := &expired[i]
		result.Expired++
		s.metrics.RecordCompensation(OutcomeExpired)
		s.logger.Error("compensation expired without resolution",
			zap.String("alert", "critical"),
			zap.String("entry_id", entry.ID),
			zap.String("action_type", entry.ActionType),
			zap.String("entity_id", entry.EntityID),
			zap.String("amount", entry.Amount.StringFixed(2)),
			zap.Int("retry_count", entry.RetryCount),
			zap.Time("created_at", entry.CreatedAt))
		s.record(ctx, audit.ActionCompensationExpired, models.SeverityCritical, system, entry, audit.OutcomeFailure, map[string]interface{}{
			"reason":      expiredReason,
			"retry_count": entry.RetryCount,
		})
	}

	due, err := s.repo.ListDue(ctx, s.now(), s.config.BatchSize)
	if err != nil {
		return result, err
	}
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		result.Processed++
		resolved, err := s.replay(ctx, &due[i], system, "resolved by automatic retry")
		switch {
		case resolved:
			result.Resolved++
		case errors.Is(err, errBookkeeping):
			result.Errors++
		default:
			result.Retried++
		}
	}

	s.refreshGauges(ctx)
	return result, ctx.Err()
}

// Retry replays a PENDING or EXPIRED entry on an operator's request.
func (s *service) Retry(ctx context.Context, id string, actor identity.Actor) (*models.CompensationEntry, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status == models.CompensationResolved {
		return entry, apperrors.ErrEntryResolved
	}

	notes := "resolved by operator retry"
	if actor.ActorID != "" {
		notes += " (" + actor.ActorID + ")"
	}
	resolved, rerr := s.replay(ctx, entry, actor, notes)

	updated, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !resolved {
		if errors.Is(rerr, errBookkeeping) {
			return updated, rerr
		}
		return updated, fmt.Errorf("%w: %w", apperrors.ErrDeferred, rerr)
	}
	return updated, nil
}

// MarkResolved closes an entry that was handled out of band.
func (s *service) MarkResolved(ctx context.Context, id string, actor identity.Actor, notes string) (*models.CompensationEntry, error) {
	if strings.TrimSpace(notes) == "" {
		return nil, apperrors.ErrInvalidRequest.WithMessage("resolution notes are required")
	}
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status == models.CompensationResolved {
		return entry, apperrors.ErrEntryResolved
	}

	if err := s.repo.Resolve(ctx, id, actor.ActorID, notes, s.now()); err != nil {
		if errors.Is(err, repositories.ErrEntryNotOpen) {
			return nil, apperrors.ErrEntryResolved
		}
		return nil, err
	}
	s.metrics.RecordCompensation(OutcomeResolved)
	s.record(ctx, audit.ActionCompensationResolved, models.SeverityInfo, actor, entry, audit.OutcomeSuccess, map[string]interface{}{
		"manual": true,
		"notes":  notes,
	})
	return s.Get(ctx, id)
}

func (s *service) List(ctx context.Context, filter ListFilter) ([]models.CompensationEntry, int64, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, filter)
}

func (s *service) Get(ctx context.Context, id string) (*models.CompensationEntry, error) {
	entry, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrCompensationNotFound) {
		return nil, apperrors.ErrEntryNotFound
	}
	return entry, err
}

func (s *service) newEntry(action Action) *models.CompensationEntry {
	userID := action.UserID
	if userID == "" {
		userID = action.Actor.UserID
	}
	return &models.CompensationEntry{
		ActionType:     action.Type,
		AccountID:      action.AccountID,
		UserID:         userID,
		EntityID:       action.EntityID,
		Amount:         action.Amount,
		IdempotencyKey: DeriveKey(action.Type, action.EntityID),
		Reason:         action.Reason,
		Status:         models.CompensationPending,
		MaxRetries:     s.config.MaxRetries,
	}
}

func validateAction(action Action) error {
	if strings.TrimSpace(action.EntityID) == "" {
		return apperrors.ErrInvalidRequest.WithMessage("entity id is required")
	}
	switch action.Type {
	case models.CompensationActionRefund, models.CompensationActionCredit, models.CompensationActionDebit:
		if strings.TrimSpace(action.AccountID) == "" {
			return apperrors.ErrInvalidRequest.WithMessage("account id is required")
		}
		if !action.Amount.IsPositive() {
			return apperrors.ErrInvalidAmount.WithMessage("amount must be greater than zero")
		}
		if !action.Amount.Equal(action.Amount.Round(2)) {
			return apperrors.ErrInvalidAmount.WithMessage("amount must have at most 2 decimal places")
		}
	case models.CompensationActionCancelLabel:
	default:
		return apperrors.ErrUnsupportedAction.WithMessage("unsupported action type " + action.Type)
	}
	return nil
}

func (s *service) backoff(retries int) time.Duration {
	if retries >= len(s.config.Backoff) {
		return s.config.Backoff[len(s.config.Backoff)-1]
	}
	return s.config.Backoff[retries]
}

func (s *service) record(ctx context.Context, action, severity string, actor identity.Actor, entry *models.CompensationEntry, outcome string, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["action_type"] = entry.ActionType
	details["entity_id"] = entry.EntityID
	details["account_id"] = entry.AccountID
	details["amount"] = entry.Amount.StringFixed(2)
	details["idempotency_key"] = entry.IdempotencyKey

	audit.RecordQuietly(ctx, s.audit, s.logger, audit.Entry{
		Action:     action,
		Category:   audit.CategoryCompensation,
		Severity:   severity,
		Actor:      actor,
		TargetType: "compensation_entry",
		TargetID:   entry.ID,
		Outcome:    outcome,
		Details:    details,
	})
}

func (s *service) refreshGauges(ctx context.Context) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		s.logger.Warn("failed to refresh compensation gauges", zap.Error(err))
		return
	}
	for _, status := range []string{models.CompensationPending, models.CompensationResolved, models.CompensationExpired} {
		s.metrics.SetCompensationEntries(status, counts[status])
	}
}

func errorContext(cause error, at time.Time, actor identity.Actor) models.JSON {
	ctx := models.JSON{
		"error":       errorMessage(cause),
		"occurred_at": at.Format(time.RFC3339),
		"retryable":   resilience.DefaultClassifier(cause),
	}
	if code := apperrors.CodeOf(cause); code != "" {
		ctx["error_kind"] = string(code)
	}
	if actor.ActorID != "" {
		ctx["actor_id"] = actor.ActorID
	}
	return ctx
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
