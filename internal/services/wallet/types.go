package wallet

import (
	"time"

	"ledgercore/internal/domain/identity"
	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/models"

	"github.com/shopspring/decimal"
)

// Request is a single-account mutation. Amount is always positive; the
// operation decides the direction.
type Request struct {
	AccountID      string
	Amount         decimal.Decimal
	IdempotencyKey string
	Reason         string
	ReferenceID    string
	Actor          identity.Actor
}

// TransferRequest moves Amount from one account to another atomically.
type TransferRequest struct {
	FromAccountID  string
	ToAccountID    string
	Amount         decimal.Decimal
	IdempotencyKey string
	Reason         string
	ReferenceID    string
	Actor          identity.Actor
}

// Result is the outcome reported to callers. On a replay the recorded
// balance of the original operation is returned.
type Result struct {
	Success          bool            `json:"success"`
	TransactionID    string          `json:"transaction_id,omitempty"`
	AccountID        string          `json:"account_id"`
	BalanceAfter     decimal.Decimal `json:"balance_after"`
	IdempotentReplay bool            `json:"idempotent_replay"`
	ErrorKind        apperrors.Code  `json:"error_kind,omitempty"`
}

// TransferResult adds the destination side to Result.
type TransferResult struct {
	Result
	ToAccountID     string          `json:"to_account_id"`
	ToTransactionID string          `json:"to_transaction_id,omitempty"`
	ToBalanceAfter  decimal.Decimal `json:"to_balance_after"`
}

// AccountView is an account with its ledger sum, for consistency checks.
type AccountView struct {
	models.Account
	LedgerSum  decimal.Decimal `json:"ledger_sum"`
	Consistent bool            `json:"consistent"`
}

// WalletConfig holds the anti-fraud ceilings
type WalletConfig struct {
	MaxSingleOperation decimal.Decimal
	MaxBalance         decimal.Decimal
}

// MetricsCollector defines the interface for collecting ledger metrics
type MetricsCollector interface {
	RecordOperationDuration(operation string, duration time.Duration)
	RecordOperationResult(operation, result string)
	RecordError(operation, kind string)
	RecordTransactionVolume(operation string, amount float64)
}
