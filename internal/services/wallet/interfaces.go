package wallet

import (
	"context"

	"ledgercore/internal/models"
)

// Service defines the ledger mutation API
type Service interface {
	Debit(ctx context.Context, req Request) (*Result, error)
	Credit(ctx context.Context, req Request) (*Result, error)
	Refund(ctx context.Context, req Request) (*Result, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)

	GetAccount(ctx context.Context, accountID string) (*AccountView, error)
	ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, int64, error)
}
