package wallet

import (
	"context"

	"ledgercore/internal/models"
	"ledgercore/internal/resilience"
)

// lockRetrying retries mutations that failed with LOCK_CONTENTION. Terminal
// errors and replays pass straight through.
type lockRetrying struct {
	inner   Service
	retrier *resilience.Retrier
}

// WithLockRetry wraps svc so mutations back off and retry on contention.
// The retrier's classifier decides what is retryable; DefaultClassifier
// treats LOCK_CONTENTION as transient.
func WithLockRetry(svc Service, retrier *resilience.Retrier) Service {
	if retrier == nil {
		return svc
	}
	return &lockRetrying{inner: svc, retrier: retrier}
}

func (l *lockRetrying) Debit(ctx context.Context, req Request) (*Result, error) {
	return retryResult(ctx, l.retrier, func(ctx context.Context) (*Result, error) {
		return l.inner.Debit(ctx, req)
	})
}

func (l *lockRetrying) Credit(ctx context.Context, req Request) (*Result, error) {
	return retryResult(ctx, l.retrier, func(ctx context.Context) (*Result, error) {
		return l.inner.Credit(ctx, req)
	})
}

func (l *lockRetrying) Refund(ctx context.Context, req Request) (*Result, error) {
	return retryResult(ctx, l.retrier, func(ctx context.Context) (*Result, error) {
		return l.inner.Refund(ctx, req)
	})
}

func (l *lockRetrying) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	return retryResult(ctx, l.retrier, func(ctx context.Context) (*TransferResult, error) {
		return l.inner.Transfer(ctx, req)
	})
}

func (l *lockRetrying) GetAccount(ctx context.Context, accountID string) (*AccountView, error) {
	return l.inner.GetAccount(ctx, accountID)
}

func (l *lockRetrying) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, int64, error) {
	return l.inner.ListTransactions(ctx, accountID, limit, offset)
}

func retryResult[T any](ctx context.Context, r *resilience.Retrier, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
