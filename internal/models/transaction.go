package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Ledger transaction types
const (
	TransactionTypeDeposit     = "deposit"
	TransactionTypeDebit       = "debit"
	TransactionTypeRefund      = "refund"
	TransactionTypeTransferOut = "transfer_out"
	TransactionTypeTransferIn  = "transfer_in"
)

// ErrImmutableRow is returned by hooks guarding append-only tables.
var ErrImmutableRow = errors.New("append-only row cannot be updated or deleted")

// Transaction is one immutable ledger line. Amount is signed: debits are negative.
type Transaction struct {
	ID                    string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	AccountID             string          `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_ledger_idempotency,priority:3" json:"account_id"`
	Type                  string          `gorm:"type:varchar(32);not null;uniqueIndex:idx_ledger_idempotency,priority:1" json:"type"`
	IdempotencyKey        string          `gorm:"type:varchar(191);not null;uniqueIndex:idx_ledger_idempotency,priority:2" json:"idempotency_key"`
	Amount                decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	BalanceAfter          decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"balance_after"`
	CounterpartyAccountID *string         `gorm:"type:varchar(36)" json:"counterparty_account_id,omitempty"`
	ReferenceID           string          `gorm:"type:varchar(191);index" json:"reference_id"`
	Reason                string          `json:"reason"`
	ActorID               string          `gorm:"type:varchar(64)" json:"actor_id"`
	CreatedAt             time.Time       `gorm:"index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "ledger_transactions"
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

func (t *Transaction) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableRow
}

func (t *Transaction) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutableRow
}
