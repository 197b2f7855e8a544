package handlers

import (
	"context"

	"ledgercore/internal/services/wallet"
	"ledgercore/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type WalletHandler struct {
	base
	walletService wallet.Service
}

func NewWalletHandler(walletService wallet.Service, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{base: newBase(logger), walletService: walletService}
}

type operationInput struct {
	AccountID      string          `json:"account_id" validate:"required,max=64"`
	Amount         decimal.Decimal `json:"amount" validate:"money"`
	IdempotencyKey string          `json:"idempotency_key" validate:"required,max=128"`
	Reason         string          `json:"reason" validate:"max=255"`
	ReferenceID    string          `json:"reference_id" validate:"max=128"`
}

type transferInput struct {
	FromAccountID  string          `json:"from_account_id" validate:"required,max=64"`
	ToAccountID    string          `json:"to_account_id" validate:"required,max=64,nefield=FromAccountID"`
	Amount         decimal.Decimal `json:"amount" validate:"money"`
	IdempotencyKey string          `json:"idempotency_key" validate:"required,max=128"`
	Reason         string          `json:"reason" validate:"max=255"`
	ReferenceID    string          `json:"reference_id" validate:"max=128"`
}

type walletOperation func(ctx context.Context, req wallet.Request) (*wallet.Result, error)

func (h *WalletHandler) Debit(c *fiber.Ctx) error {
	return h.operate(c, h.walletService.Debit)
}

func (h *WalletHandler) Credit(c *fiber.Ctx) error {
	return h.operate(c, h.walletService.Credit)
}

func (h *WalletHandler) Refund(c *fiber.Ctx) error {
	return h.operate(c, h.walletService.Refund)
}

func (h *WalletHandler) operate(c *fiber.Ctx, op walletOperation) error {
	actor, ok := h.actor(c)
	if !ok {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input operationInput
	if err := h.parseBody(c, &input); err != nil {
		return h.fail(c, err)
	}

	res, err := op(c.UserContext(), wallet.Request{
		AccountID:      input.AccountID,
		Amount:         input.Amount,
		IdempotencyKey: input.IdempotencyKey,
		Reason:         input.Reason,
		ReferenceID:    input.ReferenceID,
		Actor:          actor,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return utils.Success(c, res)
}

func (h *WalletHandler) Transfer(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input transferInput
	if err := h.parseBody(c, &input); err != nil {
		return h.fail(c, err)
	}

	res, err := h.walletService.Transfer(c.UserContext(), wallet.TransferRequest{
		FromAccountID:  input.FromAccountID,
		ToAccountID:    input.ToAccountID,
		Amount:         input.Amount,
		IdempotencyKey: input.IdempotencyKey,
		Reason:         input.Reason,
		ReferenceID:    input.ReferenceID,
		Actor:          actor,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return utils.Success(c, res)
}

func (h *WalletHandler) GetAccount(c *fiber.Ctx) error {
	view, err := h.walletService.GetAccount(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return utils.Success(c, fiber.Map{"account": view})
}

func (h *WalletHandler) ListTransactions(c *fiber.Ctx) error {
	p := utils.GetPagination(c, 1, 50)
	txs, total, err := h.walletService.ListTransactions(c.UserContext(), c.Params("id"), p.Limit, p.Offset)
	if err != nil {
		return h.fail(c, err)
	}
	p.SetTotal(total)
	return utils.Success(c, utils.NewPaginatedResponse(txs, p))
}
