package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/models"
	"ledgercore/internal/repositories"
	"ledgercore/internal/services/audit"

	"go.uber.org/zap"
)

type service struct {
	repo    repositories.AccountRepository
	audit   audit.Service
	locks   *accountLocks
	config  WalletConfig
	metrics MetricsCollector
	logger  *zap.Logger
}

// NewService creates a new wallet service
func NewService(
	repo repositories.AccountRepository,
	auditSvc audit.Service,
	config WalletConfig,
	metrics MetricsCollector,
	logger *zap.Logger,
) Service {
	if repo == nil {
		panic("repo is required")
	}
	if auditSvc == nil {
		panic("audit service is required")
	}

	if config.MaxSingleOperation.IsZero() {
		config.MaxSingleOperation = DefaultMaxSingleOperation
	}
	if config.MaxBalance.IsZero() {
		config.MaxBalance = DefaultMaxBalance
	}

	// Metrics is optional, create no-op collector if nil
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &service{
		repo:    repo,
		audit:   auditSvc,
		locks:   newAccountLocks(),
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

func (s *service) GetAccount(ctx context.Context, accountID string) (*AccountView, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, s.translate(err)
	}
	sum, err := s.repo.SumTransactions(ctx, accountID)
	if err != nil {
		return nil, s.translate(err)
	}
	return &AccountView{
		Account:    *account,
		LedgerSum:  sum,
		Consistent: sum.Equal(account.Balance),
	}, nil
}

func (s *service) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, int64, error) {
	if _, err := s.repo.GetAccount(ctx, accountID); err != nil {
		return nil, 0, s.translate(err)
	}
	txns, total, err := s.repo.ListTransactions(ctx, accountID, limit, offset)
	if err != nil {
		return nil, 0, s.translate(err)
	}
	return txns, total, nil
}

// translate maps repository failures onto the domain taxonomy. Domain errors
// pass through untouched.
func (s *service) translate(err error) error {
	var de *apperrors.DomainError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &de):
		return err
	case errors.Is(err, repositories.ErrAccountNotFound):
		return apperrors.ErrAccountNotFound
	case errors.Is(err, repositories.ErrLockNotAvailable):
		return apperrors.ErrLockContention
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		s.logger.Error("ledger storage failure", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
}

// observe records duration, result and volume for one operation.
func (s *service) observe(op string, start time.Time, replay bool, amount float64, err error) {
	s.metrics.RecordOperationDuration(op, time.Since(start))
	switch {
	case err != nil:
		s.metrics.RecordOperationResult(op, ResultFailure)
		kind := string(apperrors.CodeOf(err))
		if kind == "" {
			kind = "internal"
		}
		s.metrics.RecordError(op, kind)
	case replay:
		s.metrics.RecordOperationResult(op, ResultReplay)
	default:
		s.metrics.RecordOperationResult(op, ResultSuccess)
		s.metrics.RecordTransactionVolume(op, amount)
	}
}
