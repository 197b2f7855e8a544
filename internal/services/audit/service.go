// Package audit appends financial state transitions to the audit log and
// forwards them to the event stream.
package audit

import (
	"context"
	"fmt"
	"time"

	"ledgercore/internal/domain/identity"
	"ledgercore/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Categories
const (
	CategoryWallet         = "wallet"
	CategoryCompensation   = "compensation"
	CategoryReconciliation = "reconciliation"
	CategoryResilience     = "resilience"
)

// Actions
const (
	ActionWalletDebited            = "wallet.debited"
	ActionWalletCredited           = "wallet.credited"
	ActionWalletRefunded           = "wallet.refunded"
	ActionWalletTransferred        = "wallet.transferred"
	ActionCompensationQueued       = "compensation.queued"
	ActionCompensationResolved     = "compensation.resolved"
	ActionCompensationRetryFailed  = "compensation.retry_failed"
	ActionCompensationExpired      = "compensation.expired"
	ActionCompensationManualReview = "compensation.manual_review"
	ActionReconciliationCompleted  = "reconciliation.completed"
	ActionReconciliationFlagged    = "reconciliation.discrepancy"
	ActionReconciliationCostStored = "reconciliation.cost_recorded"
	ActionReconciliationAutoMatch  = "reconciliation.auto_matched"
	ActionReconciliationBulkFlag   = "reconciliation.bulk_flagged"
	ActionCircuitReset             = "circuit.reset"
	ActionCircuitBypass            = "circuit.bypass_toggled"
)

// Outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Entry is what callers hand to Record.
type Entry struct {
	Action     string
	Category   string
	Severity   string
	Actor      identity.Actor
	TargetType string
	TargetID   string
	Outcome    string
	Details    map[string]interface{}
}

// Publisher forwards recorded entries downstream.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Filter narrows List.
type Filter struct {
	Category string
	Action   string
	TargetID string
	ActorID  string
	Since    *time.Time
	Limit    int
	Offset   int
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, filter Filter) ([]models.AuditLog, int64, error)
}

type service struct {
	db        *gorm.DB
	publisher Publisher
	logger    *zap.Logger
}

// NewService builds the audit service. publisher may be nil.
func NewService(db *gorm.DB, publisher Publisher, logger *zap.Logger) Service {
	if db == nil {
		panic("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{db: db, publisher: publisher, logger: logger}
}

func (s *service) Record(ctx context.Context, entry Entry) error {
	row := &models.AuditLog{
		Action:      entry.Action,
		Category:    entry.Category,
		Severity:    entry.Severity,
		ActorID:     entry.Actor.ActorID,
		TargetType:  entry.TargetType,
		TargetID:    entry.TargetID,
		WorkspaceID: entry.Actor.WorkspaceID,
		Outcome:     entry.Outcome,
	}
	if row.Severity == "" {
		row.Severity = models.SeverityInfo
	}
	if row.Outcome == "" {
		row.Outcome = OutcomeSuccess
	}
	if len(entry.Details) > 0 {
		row.Details = models.NewJSON(entry.Details)
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, row.TargetID, row); err != nil {
			s.logger.Warn("failed to publish audit event",
				zap.String("action", row.Action),
				zap.String("target_id", row.TargetID),
				zap.Error(err))
		}
	}
	return nil
}

func (s *service) List(ctx context.Context, filter Filter) ([]models.AuditLog, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.TargetID != "" {
		q = q.Where("target_id = ?", filter.TargetID)
	}
	if filter.ActorID != "" {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if filter.Since != nil {
		q = q.Where("created_at >= ?", *filter.Since)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var logs []models.AuditLog
	if err := q.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, total, nil
}

// RecordQuietly appends entry and logs instead of returning a failure. Used
// after a money movement has committed, where an audit outage must not turn
// a completed operation into an error.
func RecordQuietly(ctx context.Context, svc Service, logger *zap.Logger, entry Entry) {
	if svc == nil {
		return
	}
	if err := svc.Record(ctx, entry); err != nil && logger != nil {
		logger.Error("audit append failed",
			zap.String("action", entry.Action),
			zap.String("target_id", entry.TargetID),
			zap.Error(err))
	}
}
