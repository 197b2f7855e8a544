package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Account statuses
const (
	AccountStatusActive = "active"
	AccountStatusFrozen = "frozen"
)

// Workspace is the parent aggregate whose balance rolls up member accounts.
type Workspace struct {
	ID        string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string          `gorm:"not null" json:"name"`
	Balance   decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (w *Workspace) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return nil
}

// Account is a wallet balance. Balance only moves through the ledger service.
type Account struct {
	ID             string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID         string          `gorm:"type:varchar(64);index;not null" json:"user_id"`
	WorkspaceID    *string         `gorm:"type:varchar(36);index" json:"workspace_id,omitempty"`
	Balance        decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"balance"`
	AllowOverdraft bool            `gorm:"not null;default:false" json:"allow_overdraft"`
	Currency       string          `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	Status         string          `gorm:"type:varchar(16);not null;default:'active'" json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
