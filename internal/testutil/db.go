// Package testutil provides database fixtures for package tests.
package testutil

import (
	"fmt"
	"testing"

	"ledgercore/internal/models"
	"ledgercore/internal/repositories"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDB opens a private in-memory sqlite database with the full schema.
// The pool is pinned to one connection so every goroutine sees the same
// database; code under test must run its statements on the transaction
// handle it was given, never on a second connection.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), repositories.GormConfig(nil))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, repositories.Migrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// Money parses a decimal literal.
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// SeedAccount creates an account holding balance. The opening balance is
// booked as a deposit so the ledger sum matches from the start.
func SeedAccount(t *testing.T, db *gorm.DB, balance string, opts ...func(*models.Account)) *models.Account {
	t.Helper()

	acc := &models.Account{
		UserID:   "user-" + uuid.NewString()[:8],
		Balance:  Money(balance),
		Currency: "EUR",
		Status:   models.AccountStatusActive,
	}
	for _, opt := range opts {
		opt(acc)
	}
	require.NoError(t, db.Create(acc).Error)

	if !acc.Balance.IsZero() {
		require.NoError(t, db.Create(&models.Transaction{
			AccountID:      acc.ID,
			Type:           models.TransactionTypeDeposit,
			IdempotencyKey: "opening-" + acc.ID,
			Amount:         acc.Balance,
			BalanceAfter:   acc.Balance,
			Reason:         "opening balance",
		}).Error)
		if acc.WorkspaceID != nil {
			require.NoError(t, db.Model(&models.Workspace{}).
				Where("id = ?", *acc.WorkspaceID).
				Update("balance", gorm.Expr("balance + ?", acc.Balance)).Error)
		}
	}
	return acc
}

// InWorkspace attaches the seeded account to a workspace.
func InWorkspace(id string) func(*models.Account) {
	return func(a *models.Account) { a.WorkspaceID = &id }
}

// Overdraft marks the seeded account as overdraft tolerant.
func Overdraft() func(*models.Account) {
	return func(a *models.Account) { a.AllowOverdraft = true }
}

// SeedWorkspace creates an empty workspace.
func SeedWorkspace(t *testing.T, db *gorm.DB) *models.Workspace {
	t.Helper()
	ws := &models.Workspace{Name: "ws-" + uuid.NewString()[:8], Balance: decimal.Zero}
	require.NoError(t, db.Create(ws).Error)
	return ws
}
