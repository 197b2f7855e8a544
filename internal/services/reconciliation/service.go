// Package reconciliation compares what customers were billed with what
// couriers charged, classifies each pairing by margin and drives operators
// through a small status workflow. Matched and resolved records are final.
package reconciliation

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
	"ledgercore/internal/services/audit"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Defaults
const (
	DefaultAutoMatchMinAge  = 7
	MaxBatchSize            = 500
	DefaultOverdueAfter     = 7 * 24 * time.Hour
	DefaultPendingListLimit = 200
	DefaultAlertListLimit   = 100
	DefaultOverdueWarnCount = 20
	DefaultOverdueCritCount = 100
)

var DefaultCriticalMargin = decimal.NewFromInt(-50)

// transitions lists the statuses an operator may move a record to.
var transitions = map[string][]string{
	models.ReconciliationPending:     {models.ReconciliationMatched, models.ReconciliationDiscrepancy, models.ReconciliationResolved},
	models.ReconciliationDiscrepancy: {models.ReconciliationMatched, models.ReconciliationResolved},
}

type service struct {
	repo    repositories.ReconciliationRepository
	audit   audit.Service
	config  Config
	metrics MetricsCollector
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates the reconciliation service
func NewService(
	repo repositories.ReconciliationRepository,
	auditSvc audit.Service,
	config Config,
	metrics MetricsCollector,
	logger *zap.Logger,
) Service {
	if repo == nil {
		panic("repo is required")
	}
	if auditSvc == nil {
		panic("audit service is required")
	}

	if config.AutoMatchMinAge <= 0 {
		config.AutoMatchMinAge = DefaultAutoMatchMinAge
	}
	if config.BatchSize <= 0 || config.BatchSize > MaxBatchSize {
		config.BatchSize = MaxBatchSize
	}
	if config.OverdueAfter <= 0 {
		config.OverdueAfter = DefaultOverdueAfter
	}
	if config.CriticalMargin.IsZero() {
		config.CriticalMargin = DefaultCriticalMargin
	}
	if config.PendingListLimit <= 0 {
		config.PendingListLimit = DefaultPendingListLimit
	}
	if config.AlertListLimit <= 0 {
		config.AlertListLimit = DefaultAlertListLimit
	}
	if config.OverdueWarnCount <= 0 {
		config.OverdueWarnCount = DefaultOverdueWarnCount
	}
	if config.OverdueCritCount <= 0 {
		config.OverdueCritCount = DefaultOverdueCritCount
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &service{
		repo:    repo,
		audit:   auditSvc,
		config:  config,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RecordCost creates the record for in.TransactionRef or updates it with a
// new cost. Final records cannot be touched.
func (s *service) RecordCost(ctx context.Context, in CostInput) (*models.ReconciliationRecord, error) {
	if err := validateCost(in); err != nil {
		return nil, err
	}

	record, err := s.repo.GetByRef(ctx, in.TransactionRef)
	isNew := errors.Is(err, repositories.ErrRecordNotFound)
	switch {
	case isNew:
		record = &models.ReconciliationRecord{TransactionRef: in.TransactionRef, CreatedAt: s.now()}
	case err != nil:
		return nil, err
	case record.Final():
		return nil, apperrors.ErrRecordImmutable.WithMessage(fmt.Sprintf(
			"record %s is %s and cannot change", record.ID, record.Status))
	}

	record.EntityID = firstNonEmpty(in.EntityID, record.EntityID)
	record.WorkspaceID = firstNonEmpty(in.WorkspaceID, record.WorkspaceID)
	record.Courier = firstNonEmpty(in.Courier, record.Courier)
	record.BilledAmount = in.BilledAmount.Round(2)
	if in.Notes != "" {
		record.Notes = in.Notes
	}
	s.classifyRecord(record, in)

	if isNew {
		err = s.repo.Create(ctx, record)
		if errors.Is(err, repositories.ErrDuplicateKey) {
			// lost a race with a concurrent insert for the same ref
			return s.RecordCost(ctx, in)
		}
	} else {
		err = s.repo.Save(ctx, record)
	}
	if err != nil {
		return nil, err
	}

	details := recordDetails(record)
	s.record(ctx, audit.ActionReconciliationCostStored, models.SeverityInfo, in.Actor, record, details)
	if record.Status == models.ReconciliationDiscrepancy {
		s.logger.Warn("negative margin detected",
			zap.String("record_id", record.ID),
			zap.String("transaction_ref", record.TransactionRef),
			zap.String("margin", record.Margin.Decimal.StringFixed(2)))
		s.record(ctx, audit.ActionReconciliationFlagged, models.SeverityWarning, in.Actor, record, recordDetails(record))
	}
	return record, nil
}

// classifyRecord fills margin, status and pending reason from in.
func (s *service) classifyRecord(record *models.ReconciliationRecord, in CostInput) {
	record.PendingReason = ""
	if in.ProviderCost == nil {
		record.ProviderCost = decimal.NullDecimal{}
		record.Margin = decimal.NullDecimal{}
		record.MarginPercent = decimal.NullDecimal{}
		record.Status = models.ReconciliationPending
		record.PendingReason = models.PendingReasonCostUnavailable
		if in.NotApplicable {
			record.PendingReason = models.PendingReasonNotApplicable
		}
		return
	}

	cost := in.ProviderCost.Round(2)
	c := Classify(record.BilledAmount, cost, s.now().Sub(record.CreatedAt), s.config.AutoMatchMinAge)
	record.ProviderCost = decimal.NewNullDecimal(cost)
	record.Margin = decimal.NewNullDecimal(c.Margin)
	record.MarginPercent = c.MarginPercent
	record.Status = c.Status

	switch {
	case in.NotApplicable && c.Status != models.ReconciliationDiscrepancy:
		record.Status = models.ReconciliationPending
		record.PendingReason = models.PendingReasonNotApplicable
	case c.Status == models.ReconciliationMatched:
		now := s.now()
		record.ReconciledAt = &now
		record.ReconciledBy = identity.SystemReconciliation
	}
}

func (s *service) Get(ctx context.Context, id string) (*models.ReconciliationRecord, error) {
	record, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrRecordNotFound) {
		return nil, apperrors.ErrRecordNotFound
	}
	return record, err
}

// List defaults to the records needing attention: pending and discrepancy.
// Pass the single status "all" to list everything.
func (s *service) List(ctx context.Context, filter ListFilter) ([]models.ReconciliationRecord, int64, error) {
	switch {
	case len(filter.Statuses) == 0:
		filter.Statuses = []string{models.ReconciliationPending, models.ReconciliationDiscrepancy}
	case len(filter.Statuses) == 1 && filter.Statuses[0] == "all":
		filter.Statuses = nil
	}
	if filter.SortBy != "" && !repositories.IsSortable(filter.SortBy) {
		return nil, 0, apperrors.ErrInvalidRequest.WithMessage("cannot sort by " + filter.SortBy)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, filter)
}

func (s *service) Pending(ctx context.Context) ([]models.ReconciliationRecord, error) {
	return s.repo.OldestPending(ctx, s.config.PendingListLimit)
}

// UpdateStatus moves a record along the operator workflow.
func (s *service) UpdateStatus(ctx context.Context, id, status, note string, actor identity.Actor) (*models.ReconciliationRecord, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case models.ReconciliationPending, models.ReconciliationMatched, models.ReconciliationDiscrepancy, models.ReconciliationResolved:
	default:
		return nil, apperrors.ErrInvalidRequest.WithMessage("unknown status " + status)
	}

	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Final() {
		return nil, apperrors.ErrRecordImmutable.WithMessage(fmt.Sprintf(
			"record %s is %s and cannot change", record.ID, record.Status))
	}
	if !allowed(record.Status, status) {
		return nil, apperrors.ErrInvalidTransition.WithMessage(fmt.Sprintf(
			"cannot move record from %s to %s", record.Status, status))
	}

	from := record.Status
	n, err := s.repo.SetStatus(ctx, []string{record.ID}, from, status, actor.ActorID, note, s.now())
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, apperrors.ErrInvalidTransition.WithMessage("record changed concurrently")
	}

	updated, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	action, severity := audit.ActionReconciliationCompleted, models.SeverityInfo
	if status == models.ReconciliationDiscrepancy {
		action, severity = audit.ActionReconciliationFlagged, models.SeverityWarning
	}
	details := recordDetails(updated)
	details["from_status"] = from
	details["note"] = note
	s.record(ctx, action, severity, actor, updated, details)
	return updated, nil
}

func allowed(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func validateCost(in CostInput) error {
	if strings.TrimSpace(in.TransactionRef) == "" {
		return apperrors.ErrInvalidRequest.WithMessage("transaction reference is required")
	}
	if in.BilledAmount.IsNegative() {
		return apperrors.ErrInvalidAmount.WithMessage("billed amount cannot be negative")
	}
	if in.ProviderCost != nil && in.ProviderCost.IsNegative() {
		return apperrors.ErrInvalidAmount.WithMessage("provider cost cannot be negative")
	}
	return nil
}

func (s *service) record(ctx context.Context, action, severity string, actor identity.Actor, record *models.ReconciliationRecord, details map[string]interface{}) {
	audit.RecordQuietly(ctx, s.audit, s.logger, audit.Entry{
		Action:     action,
		Category:   audit.CategoryReconciliation,
		Severity:   severity,
		Actor:      actor,
		TargetType: "reconciliation_record",
		TargetID:   record.ID,
		Outcome:    audit.OutcomeSuccess,
		Details:    details,
	})
}

func recordDetails(r *models.ReconciliationRecord) map[string]interface{} {
	d := map[string]interface{}{
		"transaction_ref": r.TransactionRef,
		"status":          r.Status,
		"billed_amount":   r.BilledAmount.StringFixed(2),
	}
	if r.Margin.Valid {
		d["margin"] = r.Margin.Decimal.StringFixed(2)
	}
	if r.PendingReason != "" {
		d["pending_reason"] = r.PendingReason
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
