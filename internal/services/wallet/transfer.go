package wallet

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/models"
	"ledgercore/internal/repositories"
	"ledgercore/internal/services/audit"

	"github.com/shopspring/decimal"
)

func (s *service) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	start := time.Now()
	res, err := s.transfer(ctx, req)
	s.observe(OperationTransfer, start, res != nil && res.IdempotentReplay, req.Amount.InexactFloat64(), err)

	if err != nil {
		s.logFailure(OperationTransfer, req.FromAccountID, req.IdempotencyKey, err)
		return nil, err
	}
	if res.IdempotentReplay {
		return res, nil
	}

	audit.RecordQuietly(ctx, s.audit, s.logger, audit.Entry{
		Action:     audit.ActionWalletTransferred,
		Category:   audit.CategoryWallet,
		Severity:   models.SeverityInfo,
		Actor:      req.Actor,
		TargetType: "account",
		TargetID:   req.FromAccountID,
		Outcome:    audit.OutcomeSuccess,
		Details: map[string]interface{}{
			"amount":             req.Amount.StringFixed(2),
			"to_account_id":      req.ToAccountID,
			"from_balance_after": res.BalanceAfter.StringFixed(2),
			"to_balance_after":   res.ToBalanceAfter.StringFixed(2),
			"idempotency_key":    req.IdempotencyKey,
			"reference_id":       req.ReferenceID,
			"reason":             req.Reason,
		},
	})
	return res, nil
}

func (s *service) transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if err := validateKey(req.FromAccountID, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ToAccountID) == "" {
		return nil, apperrors.ErrInvalidRequest.WithMessage("destination account id is required")
	}
	if req.FromAccountID == req.ToAccountID {
		return nil, apperrors.ErrInvalidTransfer
	}
	if err := s.checkAmount(req.Amount); err != nil {
		return nil, err
	}

	if res, err := s.replayTransfer(ctx, s.repo, req); err != nil || res != nil {
		return res, s.translate(err)
	}

	unlock, ok := s.locks.tryLock(req.FromAccountID, req.ToAccountID)
	if !ok {
		return nil, apperrors.ErrLockContention
	}
	defer unlock()

	var res *TransferResult
	err := s.repo.ExecuteInTransaction(ctx, func(tx repositories.AccountRepository) error {
		prior, err := s.replayTransfer(ctx, tx, req)
		if err != nil || prior != nil {
			res = prior
			return err
		}

		locked, err := lockInOrder(ctx, tx, req.FromAccountID, req.ToAccountID)
		if err != nil {
			return err
		}
		from, to := locked[req.FromAccountID], locked[req.ToAccountID]
		for _, acc := range []*models.Account{from, to} {
			if acc.Status == models.AccountStatusFrozen {
				return apperrors.ErrAccountFrozen.WithMessage("account " + acc.ID + " is frozen")
			}
		}

		fromBalance := from.Balance.Sub(req.Amount)
		if err := s.checkBalance(from, fromBalance); err != nil {
			return err
		}
		toBalance := to.Balance.Add(req.Amount)
		if err := s.checkBalance(to, toBalance); err != nil {
			return err
		}

		out := &models.Transaction{
			AccountID:             from.ID,
			Type:                  models.TransactionTypeTransferOut,
			IdempotencyKey:        req.IdempotencyKey,
			Amount:                req.Amount.Neg(),
			BalanceAfter:          fromBalance,
			CounterpartyAccountID: &to.ID,
			ReferenceID:           req.ReferenceID,
			Reason:                req.Reason,
			ActorID:               req.Actor.ActorID,
		}
		in := &models.Transaction{
			AccountID:             to.ID,
			Type:                  models.TransactionTypeTransferIn,
			IdempotencyKey:        req.IdempotencyKey,
			Amount:                req.Amount,
			BalanceAfter:          toBalance,
			CounterpartyAccountID: &from.ID,
			ReferenceID:           req.ReferenceID,
			Reason:                req.Reason,
			ActorID:               req.Actor.ActorID,
		}
		for _, txn := range []*models.Transaction{out, in} {
			if err := tx.CreateTransaction(ctx, txn); err != nil {
				return err
			}
		}
		if err := tx.UpdateBalance(ctx, from.ID, fromBalance); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, to.ID, toBalance); err != nil {
			return err
		}
		if err := applyWorkspaceDeltas(ctx, tx, from, to, req.Amount); err != nil {
			return err
		}

		res = &TransferResult{
			Result: Result{
				Success:       true,
				TransactionID: out.ID,
				AccountID:     from.ID,
				BalanceAfter:  fromBalance,
			},
			ToAccountID:     to.ID,
			ToTransactionID: in.ID,
			ToBalanceAfter:  toBalance,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			if prior, rerr := s.replayTransfer(ctx, s.repo, req); rerr == nil && prior != nil {
				return prior, nil
			}
		}
		return nil, s.translate(err)
	}
	return res, nil
}

// lockInOrder takes row locks in ascending id order so two opposing
// transfers cannot each hold one side.
func lockInOrder(ctx context.Context, tx repositories.AccountRepository, ids ...string) (map[string]*models.Account, error) {
	ordered := append([]string(nil), ids...)
	sort.Strings(ordered)

	locked := make(map[string]*models.Account, len(ordered))
	for _, id := range ordered {
		acc, err := tx.LockAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = acc
	}
	return locked, nil
}

// applyWorkspaceDeltas mirrors a transfer onto the owning workspaces. Net
// zero deltas are skipped; each rollup row is locked without waiting and
// updated in workspace id order.
func applyWorkspaceDeltas(ctx context.Context, tx repositories.AccountRepository, from, to *models.Account, amount decimal.Decimal) error {
	deltas := make(map[string]decimal.Decimal, 2)
	if from.WorkspaceID != nil {
		deltas[*from.WorkspaceID] = deltas[*from.WorkspaceID].Sub(amount)
	}
	if to.WorkspaceID != nil {
		deltas[*to.WorkspaceID] = deltas[*to.WorkspaceID].Add(amount)
	}

	ids := make([]string, 0, len(deltas))
	for id, delta := range deltas {
		if !delta.IsZero() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := tx.LockWorkspace(ctx, id); err != nil {
			return err
		}
		if err := tx.ApplyWorkspaceDelta(ctx, id, deltas[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) replayTransfer(ctx context.Context, repo repositories.AccountRepository, req TransferRequest) (*TransferResult, error) {
	out, err := repo.FindTransaction(ctx, models.TransactionTypeTransferOut, req.IdempotencyKey, req.FromAccountID)
	if errors.Is(err, repositories.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res := &TransferResult{Result: *replayResult(out), ToAccountID: req.ToAccountID}
	in, err := repo.FindTransaction(ctx, models.TransactionTypeTransferIn, req.IdempotencyKey, req.ToAccountID)
	switch {
	case err == nil:
		res.ToTransactionID = in.ID
		res.ToBalanceAfter = in.BalanceAfter
	case !errors.Is(err, repositories.ErrTransactionNotFound):
		return nil, err
	}
	return res, nil
}
