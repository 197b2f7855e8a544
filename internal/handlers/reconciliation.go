package handlers

import (
	"strings"
	"time"

	"ledgercore/internal/models"
	"ledgercore/internal/services/reconciliation"
	"ledgercore/internal/utils"
	"ledgercore/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ReconciliationHandler struct {
	base
	service reconciliation.Service
	stats   *statsCache
}

func NewReconciliationHandler(service reconciliation.Service, cache StatsCache, logger *zap.Logger) *ReconciliationHandler {
	h := &ReconciliationHandler{base: newBase(logger), service: service}
	h.stats = newStatsCache(cache, h.logger)
	return h
}

type costInput struct {
	TransactionRef string           `json:"transaction_ref" validate:"required,max=128"`
	EntityID       string           `json:"entity_id" validate:"max=128"`
	WorkspaceID    string           `json:"workspace_id" validate:"max=64"`
	Courier        string           `json:"courier" validate:"max=64"`
	BilledAmount   decimal.Decimal  `json:"billed_amount" validate:"money_nonneg"`
	ProviderCost   *decimal.Decimal `json:"provider_cost" validate:"omitempty,money_nonneg"`
	NotApplicable  bool             `json:"not_applicable"`
	Notes          string           `json:"notes" validate:"max=1000"`
}

type statusInput struct {
	Status string `json:"status" validate:"required,oneof=pending matched discrepancy resolved"`
	Notes  string `json:"notes" validate:"max=1000"`
}

type autoMatchInput struct {
	MinAgeDays int `json:"min_age_days" validate:"gte=0,lte=365"`
}

// filter reads the shared list and export query parameters.
func (h *ReconciliationHandler) filter(c *fiber.Ctx) (reconciliation.ListFilter, error) {
	v := validation.New()
	f := reconciliation.ListFilter{
		Courier:  c.Query("courier"),
		SortBy:   c.Query("sort_by"),
		SortDesc: strings.EqualFold(c.Query("sort_dir"), "desc"),
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.ToLower(strings.TrimSpace(s))
			v.OneOf("status", s, "all", models.ReconciliationPending, models.ReconciliationMatched,
				models.ReconciliationDiscrepancy, models.ReconciliationResolved)
			f.Statuses = append(f.Statuses, s)
		}
	}
	f.From = v.Time("from", c.Query("from"))
	f.To = v.Time("to", c.Query("to"))
	v.Period("from", f.From, f.To)
	return f, v.Err()
}

func (h *ReconciliationHandler) List(c *fiber.Ctx) error {
	filter, err := h.filter(c)
	if err != nil {
		return h.fail(c, err)
	}
	p := utils.GetPagination(c, 1, 50)
	filter.Limit, filter.Offset = p.Limit, p.Offset

	records, total, err := h.service.List(c.UserContext(), filter)
	if err != nil {
		return h.fail(c, err)
	}
	p.SetTotal(total)
	return utils.Success(c, utils.NewPaginatedResponse(records, p))
}

func (h *ReconciliationHandler) Get(c *fiber.Ctx) error {
	record, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return utils.Success(c, fiber.Map{"record": record})
}

func (h *ReconciliationHandler) Pending(c *fiber.Ctx) error {
	records, err := h.service.Pending(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return utils.Success(c, fiber.Map{"records": records, "count": len(records)})
}

func (h *ReconciliationHandler) RecordCost(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return utils.Unauthorized(c, "invalid claims")
	}
	var input costInput
	if err := h.parseBody(c, &input); err != nil {
		return h.fail(c, err)
	}

	record, err := h.service.RecordCost(c.UserContext(), reconciliation.CostInput{
		TransactionRef: input.TransactionRef,
		EntityID:       input.EntityID,
		WorkspaceID:    input.WorkspaceID,
		Courier:        input.Courier,
		BilledAmount:   input.BilledAmount,
		ProviderCost:   input.ProviderCost,
		NotApplicable:  input.NotApplicable,
		Notes:          input.Notes,
		Actor:          actor,
	})
	if err != nil {
		return h.fail(c, err)
	}
	h.stats.invalidate(c.UserContext(), "reconciliation")
	return utils.Created(c, fiber.Map{"record": record})
}

func (h *ReconciliationHandler) UpdateStatus(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return utils.Unauthorized(c, "invalid claims")
	}
	var input statusInput
	if err := h.parseBody(c, &input); err != nil {
		return h.fail(c, err)
	}

	record, err := h.service.UpdateStatus(c.UserContext(), c.Params("id"), input.Status, input.Notes, actor)
	if err != nil {
		return h.fail(c, err)
	}
	h.stats.invalidate(c.UserContext(), "reconciliation")
	return utils.Success(c, fiber.Map{"record": record})
}

func (h *ReconciliationHandler) AutoMatch(c *fiber.Ctx) error {
	var input autoMatchInput
	if len(c.Body()) > 0 {
		if err := h.parseBody(c, &input); err != nil {
			return h.fail(c, err)
		}
	}
	res, err := h.service.AutoReconcilePositiveMargins(c.UserContext(), input.MinAgeDays)
	if err != nil {
		return h.fail(c, err)
	}
	h.stats.invalidate(c.UserContext(), "reconciliation")
	return utils.Success(c, res)
}

func (h *ReconciliationHandler) FlagNegative(c *fiber.Ctx) error {
	res, err := h.service.FlagNegativeMargins(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	h.stats.invalidate(c.UserContext(), "reconciliation")
	return utils.Success(c, res)
}

func (h *ReconciliationHandler) Stats(c *fiber.Ctx) error {
	var stats reconciliation.Stats
	err := h.stats.load(c.UserContext(), "reconciliation", &stats, func() (interface{}, error) {
		return h.service.Stats(c.UserContext())
	})
	if err != nil {
		return h.fail(c, err)
	}
	return utils.Success(c, stats)
}

func (h *ReconciliationHandler) Margins(c *fiber.Ctx) error {
	v := validation.New()
	since := v.Time("since", c.Query("since"))
	if err := v.Err(); err != nil {
		return h.fail(c, err)
	}
	margins, err := h.service.MarginByCourier(c.UserContext(), since)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.Success(c, fiber.Map{"couriers": margins})
}

func (h *ReconciliationHandler) Alerts(c *fiber.Ctx) error {
	alerts, err := h.service.Alerts(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return utils.Success(c, fiber.Map{"alerts": alerts, "count": len(alerts)})
}

func (h *ReconciliationHandler) Export(c *fiber.Ctx) error {
	filter, err := h.filter(c)
	if err != nil {
		return h.fail(c, err)
	}
	if len(filter.Statuses) == 0 {
		filter.Statuses = []string{"all"}
	}

	if err := h.service.ExportCSV(c.UserContext(), c.Response().BodyWriter(), filter); err != nil {
		c.Response().ResetBody()
		return h.fail(c, err)
	}
	name := "reconciliation-" + time.Now().UTC().Format("20060102") + ".csv"
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return nil
}
