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

var (
	ErrCompensationNotFound = errors.New("compensation entry not found")
	// ErrEntryNotOpen means a conditional update found the entry already
	// resolved by someone else.
	ErrEntryNotOpen = errors.New("compensation entry is not open")
)

// CompensationFilter narrows List.
type CompensationFilter struct {
	Status       string
	ActionType   string
	AccountID    string
	EntityID     string
	ManualReview *bool
	Limit        int
	Offset       int
}

// PendingSnapshot is the slice of a PENDING entry needed for age statistics.
type PendingSnapshot struct {
	ID        string
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// CompensationRepository persists the compensation queue.
type CompensationRepository interface {
	Create(ctx context.Context, entry *models.CompensationEntry) error
	GetByID(ctx context.Context, id string) (*models.CompensationEntry, error)
	GetByKey(ctx context.Context, key string) (*models.CompensationEntry, error)
	List(ctx context.Context, filter CompensationFilter) ([]models.CompensationEntry, int64, error)

	// ListDue returns PENDING entries eligible for automatic replay.
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.CompensationEntry, error)
	// RecordFailure persists retry bookkeeping unless the entry was resolved
	// in the meantime.
	RecordFailure(ctx context.Context, entry *models.CompensationEntry) error
	// Resolve closes an open entry. Returns ErrEntryNotOpen if it was already resolved.
	Resolve(ctx context.Context, id, resolvedBy, notes string, at time.Time) error
	// Expire moves PENDING entries created before cutoff to EXPIRED and
	// returns them.
	Expire(ctx context.Context, cutoff time.Time, reason string) ([]models.CompensationEntry, error)

	CountByStatus(ctx context.Context) (map[string]int64, error)
	CountManualReview(ctx context.Context) (int64, error)
	Pending(ctx context.Context) ([]PendingSnapshot, error)
	ResolutionTimes(ctx context.Context) ([]time.Duration, error)
}

type compensationRepository struct {
	db *gorm.DB
}

func NewCompensationRepository(db *gorm.DB) CompensationRepository {
	return &compensationRepository{db: db}
}

func (r *compensationRepository) Create(ctx context.Context, entry *models.CompensationEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		if IsDuplicateKey(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to create compensation entry: %w", err)
	}
	return nil
}

func (r *compensationRepository) GetByID(ctx context.Context, id string) (*models.CompensationEntry, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *compensationRepository) GetByKey(ctx context.Context, key string) (*models.CompensationEntry, error) {
	return r.first(ctx, "idempotency_key = ?", key)
}

func (r *compensationRepository) first(ctx context.Context, query string, arg any) (*models.CompensationEntry, error) {
	var entry models.CompensationEntry
	if err := r.db.WithContext(ctx).Where(query, arg).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCompensationNotFound
		}
		return nil, fmt.Errorf("failed to get compensation entry: %w", err)
	}
	return &entry, nil
}

func (r *compensationRepository) List(ctx context.Context, filter CompensationFilter) ([]models.CompensationEntry, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.CompensationEntry{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.ActionType != "" {
		q = q.Where("action_type = ?", filter.ActionType)
	}
	if filter.AccountID != "" {
		q = q.Where("account_id = ?", filter.AccountID)
	}
	if filter.EntityID != "" {
		q = q.Where("entity_id = ?", filter.EntityID)
	}
	if filter.ManualReview != nil {
		q = q.Where("manual_review = ?", *filter.ManualReview)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count compensation entries: %w", err)
	}

	var entries []models.CompensationEntry
	if err := q.Order("created_at ASC").Limit(filter.Limit).Offset(filter.Offset).Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list compensation entries: %w", err)
	}
	return entries, total, nil
}

func (r *compensationRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.CompensationEntry, error) {
	var entries []models.CompensationEntry
	err := r.db.WithContext(ctx).
		Where("status = ? AND manual_review = ?", models.CompensationPending, false).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("created_at ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due compensation entries: %w", err)
	}
	return entries, nil
}

func (r *compensationRepository) RecordFailure(ctx context.Context, entry *models.CompensationEntry) error {
	result := r.db.WithContext(ctx).Model(&models.CompensationEntry{}).
		Where("id = ? AND status <> ?", entry.ID, models.CompensationResolved).
		Updates(map[string]interface{}{
			"retry_count":   entry.RetryCount,
			"last_retry_at": entry.LastRetryAt,
			"next_retry_at": entry.NextRetryAt,
			"manual_review": entry.ManualReview,
			"error_context": entry.ErrorContext,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record compensation failure: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotOpen
	}
	return nil
}

func (r *compensationRepository) Resolve(ctx context.Context, id, resolvedBy, notes string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.CompensationEntry{}).
		Where("id = ? AND status <> ?", id, models.CompensationResolved).
		Updates(map[string]interface{}{
			"status":           models.CompensationResolved,
			"resolved_at":      at,
			"resolved_by":      resolvedBy,
			"resolution_notes": notes,
			"next_retry_at":    nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to resolve compensation entry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotOpen
	}
	return nil
}

func (r *compensationRepository) Expire(ctx context.Context, cutoff time.Time, reason string) ([]models.CompensationEntry, error) {
	var expired []models.CompensationEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("status = ? AND created_at < ?", models.CompensationPending, cutoff).
			Find(&expired).Error; err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}

		ids := make([]string, len(expired))
		for i := range expired {
			ids[i] = expired[i].ID
			expired[i].Status = models.CompensationExpired
			expired[i].ExpiredReason = reason
			expired[i].NextRetryAt = nil
		}
		return tx.Model(&models.CompensationEntry{}).
			Where("id IN ? AND status = ?", ids, models.CompensationPending).
			Updates(map[string]interface{}{
				"status":         models.CompensationExpired,
				"expired_reason": reason,
				"next_retry_at":  nil,
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expire compensation entries: %w", err)
	}
	return expired, nil
}

func (r *compensationRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.CompensationEntry{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count compensation entries: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *compensationRepository) CountManualReview(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.CompensationEntry{}).
		Where("status = ? AND manual_review = ?", models.CompensationPending, true).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count manual review entries: %w", err)
	}
	return n, nil
}

func (r *compensationRepository) Pending(ctx context.Context) ([]PendingSnapshot, error) {
	var rows []PendingSnapshot
	err := r.db.WithContext(ctx).Model(&models.CompensationEntry{}).
		Select("id, amount, created_at").
		Where("status = ?", models.CompensationPending).
		Order("created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load pending compensation entries: %w", err)
	}
	return rows, nil
}

func (r *compensationRepository) ResolutionTimes(ctx context.Context) ([]time.Duration, error) {
	var rows []struct {
		CreatedAt  time.Time
		ResolvedAt time.Time
	}
	err := r.db.WithContext(ctx).Model(&models.CompensationEntry{}).
		Select("created_at, resolved_at").
		Where("status = ? AND resolved_at IS NOT NULL", models.CompensationResolved).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load resolution times: %w", err)
	}
	out := make([]time.Duration, len(rows))
	for i, row := range rows {
		out[i] = row.ResolvedAt.Sub(row.CreatedAt)
	}
	return out, nil
}
