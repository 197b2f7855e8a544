package repositories

import (
	"context"
	"errors"

	"ledgercore/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrWorkspaceNotFound   = errors.New("workspace not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrLockNotAvailable    = errors.New("row lock not available")
	ErrDuplicateKey        = errors.New("duplicate key")
)

// AccountRepository is the data access layer behind the wallet ledger.
// Methods called on the repository handed to ExecuteInTransaction share that
// transaction.
type AccountRepository interface {
	CreateWorkspace(ctx context.Context, ws *models.Workspace) error
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)

	// LockAccount takes an exclusive row lock without waiting. A held lock
	// surfaces as ErrLockNotAvailable.
	LockAccount(ctx context.Context, id string) (*models.Account, error)
	UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error
	// LockWorkspace locks the rollup row the same way before its delta is applied.
	LockWorkspace(ctx context.Context, id string) error
	ApplyWorkspaceDelta(ctx context.Context, workspaceID string, delta decimal.Decimal) error

	FindTransaction(ctx context.Context, txType, idempotencyKey, accountID string) (*models.Transaction, error)
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, int64, error)
	SumTransactions(ctx context.Context, accountID string) (decimal.Decimal, error)

	ExecuteInTransaction(ctx context.Context, fn func(AccountRepository) error) error
}
