package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit severities
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AuditLog is an append-only record of a financial state transition.
type AuditLog struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Action      string    `gorm:"type:varchar(64);not null;index" json:"action"`
	Category    string    `gorm:"type:varchar(32);not null;index" json:"category"`
	Severity    string    `gorm:"type:varchar(16);not null;default:'info'" json:"severity"`
	ActorID     string    `gorm:"type:varchar(64);index" json:"actor_id"`
	TargetType  string    `gorm:"type:varchar(32)" json:"target_type"`
	TargetID    string    `gorm:"type:varchar(191);index" json:"target_id"`
	WorkspaceID string    `gorm:"type:varchar(36);index" json:"workspace_id,omitempty"`
	Outcome     string    `gorm:"type:varchar(16);not null;default:'success'" json:"outcome"`
	Details     JSON      `gorm:"type:jsonb" json:"details,omitempty"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

func (a *AuditLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableRow
}

func (a *AuditLog) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutableRow
}
