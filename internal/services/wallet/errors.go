package wallet

import "errors"

// Service errors
var (
	// ErrTransactionFailed wraps unexpected storage failures. The cause is
	// logged; callers only see this sentinel.
	ErrTransactionFailed = errors.New("transaction failed")
	ErrMissingKey        = errors.New("idempotency key is required")
)
