package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledgercore/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrRecordNotFound = errors.New("reconciliation record not found")

// sortable columns for List, keyed by their public name
var reconciliationSortColumns = map[string]string{
	"created_at":     "created_at",
	"billed_amount":  "billed_amount",
	"provider_cost":  "provider_cost",
	"margin":         "margin",
	"margin_percent": "margin_percent",
	"status":         "status",
	"courier":        "courier",
}

// ReconciliationFilter narrows List. SortBy must be one of the whitelisted
// columns; anything else falls back to created_at.
type ReconciliationFilter struct {
	Statuses []string
	Courier  string
	From     *time.Time
	To       *time.Time
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

// IsSortable reports whether column may be used as SortBy.
func IsSortable(column string) bool {
	_, ok := reconciliationSortColumns[column]
	return ok
}

// StatusTotals aggregates one status bucket.
type StatusTotals struct {
	Status string
	Count  int64
	Billed decimal.Decimal
	Margin decimal.Decimal
}

// CourierTotals aggregates costed records per courier.
type CourierTotals struct {
	Courier string
	Records int64
	Billed  decimal.Decimal
	Cost    decimal.Decimal
	Margin  decimal.Decimal
}

// ReconciliationRepository persists reconciliation records.
type ReconciliationRepository interface {
	Create(ctx context.Context, record *models.ReconciliationRecord) error
	GetByID(ctx context.Context, id string) (*models.ReconciliationRecord, error)
	GetByRef(ctx context.Context, ref string) (*models.ReconciliationRecord, error)
	Save(ctx context.Context, record *models.ReconciliationRecord) error
	List(ctx context.Context, filter ReconciliationFilter) ([]models.ReconciliationRecord, int64, error)

	// OldestPending lists pending records, oldest first.
	OldestPending(ctx context.Context, limit int) ([]models.ReconciliationRecord, error)
	CountPendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
	NegativeMargins(ctx context.Context, statuses []string, limit int) ([]models.ReconciliationRecord, error)

	// IDs for the bulk jobs
	MatchableIDs(ctx context.Context, createdBefore time.Time) ([]string, error)
	NegativePendingIDs(ctx context.Context) ([]string, error)
	// SetStatus moves the given ids still in fromStatus to toStatus inside
	// one transaction and returns how many rows changed.
	SetStatus(ctx context.Context, ids []string, fromStatus, toStatus, by, notes string, at time.Time) (int64, error)

	TotalsByStatus(ctx context.Context) ([]StatusTotals, error)
	TotalsByCourier(ctx context.Context, since *time.Time) ([]CourierTotals, error)
}

type reconciliationRepository struct {
	db *gorm.DB
}

func NewReconciliationRepository(db *gorm.DB) ReconciliationRepository {
	return &reconciliationRepository{db: db}
}

func (r *reconciliationRepository) Create(ctx context.Context, record *models.ReconciliationRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		if IsDuplicateKey(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to create reconciliation record: %w", err)
	}
	return nil
}

func (r *reconciliationRepository) GetByID(ctx context.Context, id string) (*models.ReconciliationRecord, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *reconciliationRepository) GetByRef(ctx context.Context, ref string) (*models.ReconciliationRecord, error) {
	return r.first(ctx, "transaction_ref = ?", ref)
}

func (r *reconciliationRepository) first(ctx context.Context, query string, arg any) (*models.ReconciliationRecord, error) {
	var record models.ReconciliationRecord
	if err := r.db.WithContext(ctx).Where(query, arg).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get reconciliation record: %w", err)
	}
	return &record, nil
}

func (r *reconciliationRepository) Save(ctx context.Context, record *models.ReconciliationRecord) error {
	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("failed to save reconciliation record: %w", err)
	}
	return nil
}

func (r *reconciliationRepository) List(ctx context.Context, filter ReconciliationFilter) ([]models.ReconciliationRecord, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.ReconciliationRecord{})
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if filter.Courier != "" {
		q = q.Where("courier = ?", filter.Courier)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at < ?", *filter.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count reconciliation records: %w", err)
	}

	column, ok := reconciliationSortColumns[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := " ASC"
	if filter.SortDesc {
		direction = " DESC"
	}

	q = q.Order(column + direction).Order("id ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit).Offset(filter.Offset)
	}
	var records []models.ReconciliationRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list reconciliation records: %w", err)
	}
	return records, total, nil
}

func (r *reconciliationRepository) OldestPending(ctx context.Context, limit int) ([]models.ReconciliationRecord, error) {
	var records []models.ReconciliationRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", models.ReconciliationPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending records: %w", err)
	}
	return records, nil
}

func (r *reconciliationRepository) CountPendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.ReconciliationRecord{}).
		Where("status = ? AND created_at < ?", models.ReconciliationPending, cutoff).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count overdue records: %w", err)
	}
	return n, nil
}

func (r *reconciliationRepository) NegativeMargins(ctx context.Context, statuses []string, limit int) ([]models.ReconciliationRecord, error) {
	var records []models.ReconciliationRecord
	err := r.db.WithContext(ctx).
		Where("status IN ? AND margin < 0", statuses).
		Order("margin ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list negative margins: %w", err)
	}
	return records, nil
}

func (r *reconciliationRepository) MatchableIDs(ctx context.Context, createdBefore time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.ReconciliationRecord{}).
		Where("status = ? AND margin >= 0 AND provider_cost IS NOT NULL", models.ReconciliationPending).
		Where("(pending_reason IS NULL OR pending_reason <> ?)", models.PendingReasonNotApplicable).
		Where("created_at <= ?", createdBefore).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select matchable records: %w", err)
	}
	return ids, nil
}

func (r *reconciliationRepository) NegativePendingIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.ReconciliationRecord{}).
		Where("status = ? AND margin < 0", models.ReconciliationPending).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select negative margin records: %w", err)
	}
	return ids, nil
}

func (r *reconciliationRepository) SetStatus(ctx context.Context, ids []string, fromStatus, toStatus, by, notes string, at time.Time) (int64, error) {
	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":         toStatus,
			"reconciled_by":  by,
			"reconciled_at":  at,
			"pending_reason": "",
		}
		if notes != "" {
			updates["notes"] = notes
		}
		result := tx.Model(&models.ReconciliationRecord{}).
			Where("id IN ? AND status = ?", ids, fromStatus).
			Updates(updates)
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update reconciliation batch: %w", err)
	}
	return affected, nil
}

func (r *reconciliationRepository) TotalsByStatus(ctx context.Context) ([]StatusTotals, error) {
	var rows []StatusTotals
	err := r.db.WithContext(ctx).Model(&models.ReconciliationRecord{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(billed_amount), 0) AS billed, COALESCE(SUM(margin), 0) AS margin").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate reconciliation records: %w", err)
	}
	return rows, nil
}

func (r *reconciliationRepository) TotalsByCourier(ctx context.Context, since *time.Time) ([]CourierTotals, error) {
	q := r.db.WithContext(ctx).Model(&models.ReconciliationRecord{}).
		Select("courier, COUNT(*) AS records, COALESCE(SUM(billed_amount), 0) AS billed, " +
			"COALESCE(SUM(provider_cost), 0) AS cost, COALESCE(SUM(margin), 0) AS margin").
		Where("provider_cost IS NOT NULL")
	if since != nil {
		q = q.Where("created_at >= ?", *since)
	}

	var rows []CourierTotals
	if err := q.Group("courier").Order("courier ASC").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate margins by courier: %w", err)
	}
	return rows, nil
}
