package handlers

import (
	"errors"
	"strconv"

	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/services/compensation"
	"ledgercore/internal/utils"
	"ledgercore/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CompensationHandler struct {
	base
	service compensation.Service
	stats   *statsCache
}

func NewCompensationHandler(service compensation.Service, cache StatsCache, logger *zap.Logger) *CompensationHandler {
	h := &CompensationHandler{base: newBase(logger), service: service}
	h.stats = newStatsCache(cache, h.logger)
	return h
}

type executeInput struct {
	ActionType string           `json:"action_type" validate:"required,oneof=REFUND CREDIT DEBIT CANCEL_LABEL"`
	EntityID   string           `json:"entity_id" validate:"required,max=128"`
	AccountID  string           `json:"account_id" validate:"max=64"`
	UserID     string           `json:"user_id" validate:"max=64"`
	Amount     *decimal.Decimal `json:"amount" validate:"omitempty,money"`
	Reason     string           `json:"reason" validate:"max=255"`
}

type resolveInput struct {
	Notes string `json:"notes" validate:"required,max=1000"`
}

func (h *CompensationHandler) Stats(c *fiber.Ctx) error {
	var stats compensation.Stats
	err := h.stats.load(c.UserContext(), "compensation", &stats, func() (interface{}, error) {
		return h.service.Stats(c.UserContext())
	})
	if err != nil {
		return h.fail(c, err)
	}
	return utils.Success(c, stats)
}

func (h *CompensationHandler) List(c *fiber.Ctx) error {
	v := validation.New()
	filter := compensation.ListFilter{
		Status:     c.Query("status"),
		ActionType: c.Query("action_type"),
		AccountID:  c.Query("account_id"),
		EntityID:   c.Query("entity_id"),
	}
	if filter.Status != "" {
		v.OneOf("status", filter.Status, "PENDING", "RESOLVED", "EXPIRED")
	}
	if raw := c.Query("manual_review"); raw != "" {
		b, err := strconv.ParseBool(raw)
		v.Check(err == nil, "manual_review", "must be true or false")
		filter.ManualReview = &b
	}
	if err := v.Err(); err != nil {
		return h.fail(c, err)
	}

	p := utils.GetPagination(c, 1, 50)
	filter.Limit, filter.Offset = p.Limit, p.Offset
	entries, total, err := h.service.List(c.UserContext(), filter)
	if err != nil {
		return h.fail(c, err)
	}
	p.SetTotal(total)
	return utils.Success(c, utils.NewPaginatedResponse(entries, p))
}

// Execute runs a dependent action for a caller whose primary change already
// committed. A failed action is queued and answered with 202 and the entry.
func (h *CompensationHandler) Execute(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return utils.Unauthorized(c, "invalid claims")
	}
	var input executeInput
	if err := h.parseBody(c, &input); err != nil {
		return h.fail(c, err)
	}

	action := compensation.Action{
		Type:      input.ActionType,
		AccountID: input.AccountID,
		UserID:    input.UserID,
		EntityID:  input.EntityID,
		Reason:    input.Reason,
		Actor:     actor,
	}
	if input.Amount != nil {
		action.Amount = *input.Amount
	}

	res, entry, err := h.service.ExecuteOrEnqueue(c.UserContext(), action)
	if err != nil {
		if entry == nil || !errors.Is(err, apperrors.ErrDeferred) {
			return h.fail(c, err)
		}
		h.stats.invalidate(c.UserContext(), "compensation")
		return utils.Respond(c, fiber.StatusAccepted, fiber.Map{
			"error":     "action failed and was queued for retry",
			"code":      string(apperrors.CodeDeferred),
			"retryable": true,
			"entry":     entry,
		})
	}
	return utils.Success(c, fiber.Map{"result": res})
}

func (h *CompensationHandler) Get(c *fiber.Ctx) error {
	entry, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return utils.Success(c, fiber.Map{"entry": entry})
}

func (h *CompensationHandler) Process(c *fiber.Ctx) error {
	res, err := h.service.ProcessPending(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	h.stats.invalidate(c.UserContext(), "compensation")
	return utils.Success(c, res)
}

func (h *CompensationHandler) Retry(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return utils.Unauthorized(c, "invalid claims")
	}
	entry, err := h.service.Retry(c.UserContext(), c.Params("id"), actor)
	if err != nil {
		return h.fail(c, err)
	}
	h.stats.invalidate(c.UserContext(), "compensation")
	return utils.Success(c, fiber.Map{"entry": entry})
}

func (h *CompensationHandler) Resolve(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return utils.Unauthorized(c, "invalid claims")
	}
	var input resolveInput
	if err := h.parseBody(c, &input); err != nil {
		return h.fail(c, err)
	}
	entry, err := h.service.MarkResolved(c.UserContext(), c.Params("id"), actor, input.Notes)
	if err != nil {
		return h.fail(c, err)
	}
	h.stats.invalidate(c.UserContext(), "compensation")
	return utils.Success(c, fiber.Map{"entry": entry})
}
