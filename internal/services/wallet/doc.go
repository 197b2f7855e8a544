/*
Package wallet is the money ledger: debits, credits, refunds and transfers
against accounts, each recorded as an immutable ledger line.

Every mutation follows the same protocol:

  - the amount is validated against the single-operation ceiling
  - the idempotency key is looked up; a hit returns the recorded outcome
  - the account row is locked without waiting; a held lock fails fast with
    LOCK_CONTENTION and the caller may retry with backoff
  - the key is looked up again under the lock
  - the balance rules are applied: no negative balance unless the account
    allows overdraft, no balance above the configured maximum
  - the ledger line, the account balance and the owning workspace balance
    are written in one database transaction

Transfers lock both accounts in ascending id order and book a transfer_out
and a transfer_in line under the same key.

Usage:

	svc := wallet.NewService(repo, auditSvc, wallet.WalletConfig{}, metrics, logger)

	res, err := svc.Debit(ctx, wallet.Request{
		AccountID:      accountID,
		Amount:         decimal.NewFromInt(20),
		IdempotencyKey: "ship-123",
		Reason:         "label purchase",
	})

Callers that want contention absorbed wrap the service:

	svc = wallet.WithLockRetry(svc, retrier)

Audit entries are appended after commit. An audit failure is logged and never
undoes a committed movement.
*/
package wallet
