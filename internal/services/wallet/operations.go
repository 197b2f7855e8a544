package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/models"
	"ledgercore/internal/repositories"
	"ledgercore/internal/services/audit"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// operation describes how a single-account mutation moves money.
type operation struct {
	name   string
	txType string
	action string
	debit  bool
}

var (
	debitOp  = operation{name: OperationDebit, txType: models.TransactionTypeDebit, action: audit.ActionWalletDebited, debit: true}
	creditOp = operation{name: OperationCredit, txType: models.TransactionTypeDeposit, action: audit.ActionWalletCredited}
	refundOp = operation{name: OperationRefund, txType: models.TransactionTypeRefund, action: audit.ActionWalletRefunded}
)

func (s *service) Debit(ctx context.Context, req Request) (*Result, error) {
	return s.apply(ctx, debitOp, req)
}

func (s *service) Credit(ctx context.Context, req Request) (*Result, error) {
	return s.apply(ctx, creditOp, req)
}

// Refund credits money back after a cancelled charge. It is booked under its
// own ledger type so a refund and a credit may share a caller key.
func (s *service) Refund(ctx context.Context, req Request) (*Result, error) {
	return s.apply(ctx, refundOp, req)
}

func (s *service) apply(ctx context.Context, op operation, req Request) (*Result, error) {
	start := time.Now()
	res, err := s.mutate(ctx, op, req)
	s.observe(op.name, start, res != nil && res.IdempotentReplay, req.Amount.InexactFloat64(), err)

	if err != nil {
		s.logFailure(op.name, req.AccountID, req.IdempotencyKey, err)
		return nil, err
	}
	if res.IdempotentReplay {
		return res, nil
	}

	audit.RecordQuietly(ctx, s.audit, s.logger, audit.Entry{
		Action:     op.action,
		Category:   audit.CategoryWallet,
		Severity:   models.SeverityInfo,
		Actor:      req.Actor,
		TargetType: "account",
		TargetID:   req.AccountID,
		Outcome:    audit.OutcomeSuccess,
		Details: map[string]interface{}{
			"amount":          req.Amount.StringFixed(2),
			"balance_after":   res.BalanceAfter.StringFixed(2),
			"transaction_id":  res.TransactionID,
			"idempotency_key": req.IdempotencyKey,
			"reference_id":    req.ReferenceID,
			"reason":          req.Reason,
		},
	})
	return res, nil
}

func (s *service) mutate(ctx context.Context, op operation, req Request) (*Result, error) {
	if err := validateKey(req.AccountID, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := s.checkAmount(req.Amount); err != nil {
		return nil, err
	}

	if res, err := s.replay(ctx, s.repo, op.txType, req); err != nil || res != nil {
		return res, s.translate(err)
	}

	unlock, ok := s.locks.tryLock(req.AccountID)
	if !ok {
		return nil, apperrors.ErrLockContention
	}
	defer unlock()

	var res *Result
	err := s.repo.ExecuteInTransaction(ctx, func(tx repositories.AccountRepository) error {
		prior, err := s.replay(ctx, tx, op.txType, req)
		if err != nil || prior != nil {
			res = prior
			return err
		}

		account, err := tx.LockAccount(ctx, req.AccountID)
		if err != nil {
			return err
		}
		if account.Status == models.AccountStatusFrozen {
			return apperrors.ErrAccountFrozen
		}
		if account.WorkspaceID != nil {
			if err := tx.LockWorkspace(ctx, *account.WorkspaceID); err != nil {
				return err
			}
		}

		delta := req.Amount
		if op.debit {
			delta = delta.Neg()
		}
		balance := account.Balance.Add(delta)
		if err := s.checkBalance(account, balance); err != nil {
			return err
		}

		txn := &models.Transaction{
			AccountID:      account.ID,
			Type:           op.txType,
			IdempotencyKey: req.IdempotencyKey,
			Amount:         delta,
			BalanceAfter:   balance,
			ReferenceID:    req.ReferenceID,
			Reason:         req.Reason,
			ActorID:        req.Actor.ActorID,
		}
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, account.ID, balance); err != nil {
			return err
		}
		if account.WorkspaceID != nil {
			if err := tx.ApplyWorkspaceDelta(ctx, *account.WorkspaceID, delta); err != nil {
				return err
			}
		}

		res = &Result{
			Success:       true,
			TransactionID: txn.ID,
			AccountID:     account.ID,
			BalanceAfter:  balance,
		}
		return nil
	})
	if err != nil {
		// A concurrent call with the same key committed between our lookups.
		if errors.Is(err, repositories.ErrDuplicateKey) {
			if prior, rerr := s.replay(ctx, s.repo, op.txType, req); rerr == nil && prior != nil {
				return prior, nil
			}
		}
		return nil, s.translate(err)
	}
	return res, nil
}

// replay returns the recorded outcome for the key, or nil when the key is new.
func (s *service) replay(ctx context.Context, repo repositories.AccountRepository, txType string, req Request) (*Result, error) {
	txn, err := repo.FindTransaction(ctx, txType, req.IdempotencyKey, req.AccountID)
	if errors.Is(err, repositories.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !txn.Amount.Abs().Equal(req.Amount) {
		s.logger.Warn("idempotency key reused with a different amount",
			zap.String("account_id", req.AccountID),
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("recorded", txn.Amount.Abs().StringFixed(2)),
			zap.String("requested", req.Amount.StringFixed(2)))
	}
	return replayResult(txn), nil
}

func replayResult(txn *models.Transaction) *Result {
	return &Result{
		Success:          true,
		TransactionID:    txn.ID,
		AccountID:        txn.AccountID,
		BalanceAfter:     txn.BalanceAfter,
		IdempotentReplay: true,
		ErrorKind:        apperrors.CodeIdempotentReplay,
	}
}

func validateKey(accountID, key string) error {
	if strings.TrimSpace(accountID) == "" {
		return apperrors.ErrInvalidRequest.WithMessage("account id is required")
	}
	if strings.TrimSpace(key) == "" {
		return apperrors.ErrInvalidRequest.WithMessage(ErrMissingKey.Error())
	}
	return nil
}

func (s *service) checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.ErrInvalidAmount.WithMessage("amount must be greater than zero")
	}
	if !amount.Equal(amount.Round(2)) {
		return apperrors.ErrInvalidAmount.WithMessage("amount must have at most 2 decimal places")
	}
	if amount.GreaterThan(s.config.MaxSingleOperation) {
		return apperrors.ErrAmountOutOfRange.WithMessage(fmt.Sprintf(
			"amount %s exceeds the single operation maximum of %s",
			amount.StringFixed(2), s.config.MaxSingleOperation.StringFixed(2)))
	}
	return nil
}

// checkBalance applies the balance rules to the post-operation balance.
// Overdraft accounts are exempt from both bounds.
func (s *service) checkBalance(account *models.Account, balance decimal.Decimal) error {
	if account.AllowOverdraft {
		return nil
	}
	if balance.IsNegative() {
		return apperrors.ErrInsufficientBalance.WithMessage(fmt.Sprintf(
			"insufficient balance: available %s, required %s",
			account.Balance.StringFixed(2), account.Balance.Sub(balance).StringFixed(2)))
	}
	if balance.GreaterThan(s.config.MaxBalance) {
		return apperrors.ErrAmountOutOfRange.WithMessage(fmt.Sprintf(
			"balance would exceed the maximum of %s", s.config.MaxBalance.StringFixed(2)))
	}
	return nil
}

func (s *service) logFailure(op, accountID, key string, err error) {
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("account_id", accountID),
		zap.String("idempotency_key", key),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, apperrors.ErrLockContention):
		s.logger.Debug("ledger operation contended", fields...)
	case apperrors.CodeOf(err) != "":
		s.logger.Info("ledger operation rejected", fields...)
	default:
		s.logger.Error("ledger operation failed", fields...)
	}
}
