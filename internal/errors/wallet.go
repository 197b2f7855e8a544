package errors

const (
	CodeLockContention      Code = "LOCK_CONTENTION"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeAmountOutOfRange    Code = "AMOUNT_OUT_OF_RANGE"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeAccountNotFound     Code = "ACCOUNT_NOT_FOUND"
	CodeIdempotentReplay    Code = "IDEMPOTENT_REPLAY"
	CodeInvalidTransfer     Code = "INVALID_TRANSFER"
	CodeInvalidRequest      Code = "INVALID_REQUEST"
	CodeAccountFrozen       Code = "ACCOUNT_FROZEN"
)

var (
	ErrLockContention = &DomainError{
		Code:      CodeLockContention,
		Message:   "account is locked by a concurrent operation",
		Retryable: true,
	}
	ErrInsufficientBalance = &DomainError{
		Code:    CodeInsufficientBalance,
		Message: "insufficient wallet balance",
	}
	ErrAmountOutOfRange = &DomainError{
		Code:    CodeAmountOutOfRange,
		Message: "amount outside allowed range",
	}
	ErrInvalidAmount = &DomainError{
		Code:    CodeInvalidAmount,
		Message: "invalid amount",
	}
	ErrAccountNotFound = &DomainError{
		Code:    CodeAccountNotFound,
		Message: "account not found",
	}
	ErrInvalidTransfer = &DomainError{
		Code:    CodeInvalidTransfer,
		Message: "source and destination accounts must differ",
	}
	ErrAccountFrozen = &DomainError{
		Code:    CodeAccountFrozen,
		Message: "account is frozen",
	}
	ErrInvalidRequest = &DomainError{
		Code:    CodeInvalidRequest,
		Message: "invalid request",
	}
)
