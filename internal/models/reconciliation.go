package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Reconciliation statuses
const (
	ReconciliationPending     = "pending"
	ReconciliationMatched     = "matched"
	ReconciliationDiscrepancy = "discrepancy"
	ReconciliationResolved    = "resolved"
)

// Reasons a record is still pending
const (
	PendingReasonCostUnavailable = "cost_unavailable"
	PendingReasonNotApplicable   = "not_applicable"
)

// ReconciliationRecord pairs what was billed for an entity with what the
// provider charged for it.
type ReconciliationRecord struct {
	ID             string              `gorm:"type:varchar(36);primaryKey" json:"id"`
	TransactionRef string              `gorm:"type:varchar(191);not null;uniqueIndex" json:"transaction_ref"`
	EntityID       string              `gorm:"type:varchar(191);index" json:"entity_id"`
	WorkspaceID    string              `gorm:"type:varchar(36);index" json:"workspace_id,omitempty"`
	Courier        string              `gorm:"type:varchar(64);index" json:"courier"`
	BilledAmount   decimal.Decimal     `gorm:"type:numeric(18,2);not null" json:"billed_amount"`
	ProviderCost   decimal.NullDecimal `gorm:"type:numeric(18,2)" json:"provider_cost"`
	Margin         decimal.NullDecimal `gorm:"type:numeric(18,2);index" json:"margin"`
	MarginPercent  decimal.NullDecimal `gorm:"type:numeric(9,2)" json:"margin_percent"`
	Status         string              `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	PendingReason  string              `gorm:"type:varchar(32)" json:"pending_reason,omitempty"`
	Notes          string              `json:"notes,omitempty"`
	ReconciledBy   string              `gorm:"type:varchar(64)" json:"reconciled_by,omitempty"`
	ReconciledAt   *time.Time          `json:"reconciled_at,omitempty"`
	CreatedAt      time.Time           `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func (r *ReconciliationRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Final reports whether the record can no longer change.
func (r *ReconciliationRecord) Final() bool {
	return r.Status == ReconciliationMatched || r.Status == ReconciliationResolved
}
