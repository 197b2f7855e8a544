package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Compensation entry statuses
const (
	CompensationPending  = "PENDING"
	CompensationResolved = "RESOLVED"
	CompensationExpired  = "EXPIRED"
)

// Compensation action types
const (
	CompensationActionRefund      = "REFUND"
	CompensationActionCredit      = "CREDIT"
	CompensationActionDebit       = "DEBIT"
	CompensationActionCancelLabel = "CANCEL_LABEL"
)

// CompensationEntry records a dependent financial action that failed after its
// trigger committed. It carries everything needed to replay the action.
type CompensationEntry struct {
	ID              string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	ActionType      string          `gorm:"type:varchar(32);not null;index" json:"action_type"`
	AccountID       string          `gorm:"type:varchar(36);index" json:"account_id"`
	UserID          string          `gorm:"type:varchar(64)" json:"user_id"`
	EntityID        string          `gorm:"type:varchar(191);not null;index" json:"entity_id"`
	Amount          decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"amount"`
	IdempotencyKey  string          `gorm:"type:varchar(191);not null;uniqueIndex" json:"idempotency_key"`
	Reason          string          `json:"reason"`
	Status          string          `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`
	ErrorContext    JSON            `gorm:"type:jsonb" json:"error_context"`
	RetryCount      int             `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries      int             `gorm:"not null;default:5" json:"max_retries"`
	NextRetryAt     *time.Time      `gorm:"index" json:"next_retry_at,omitempty"`
	LastRetryAt     *time.Time      `json:"last_retry_at,omitempty"`
	ManualReview    bool            `gorm:"not null;default:false" json:"manual_review"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy      string          `gorm:"type:varchar(64)" json:"resolved_by,omitempty"`
	ResolutionNotes string          `json:"resolution_notes,omitempty"`
	ExpiredReason   string          `json:"expired_reason,omitempty"`
	CreatedAt       time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (e *CompensationEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
