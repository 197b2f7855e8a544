package handlers

import (
	"ledgercore/internal/models"
	"ledgercore/internal/resilience"
	"ledgercore/internal/services/audit"
	"ledgercore/internal/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// CircuitHandler lets operators inspect and reset circuit breakers.
type CircuitHandler struct {
	base
	executor *resilience.Executor
	audit    audit.Service
}

func NewCircuitHandler(executor *resilience.Executor, auditSvc audit.Service, logger *zap.Logger) *CircuitHandler {
	return &CircuitHandler{base: newBase(logger), executor: executor, audit: auditSvc}
}

type bypassInput struct {
	Disabled *bool `json:"disabled" validate:"required"`
}

func (h *CircuitHandler) List(c *fiber.Ctx) error {
	circuits, err := h.executor.Registry().Snapshot(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return utils.Success(c, fiber.Map{
		"disabled": h.executor.Disabled(),
		"circuits": circuits,
	})
}

func (h *CircuitHandler) Reset(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return utils.Unauthorized(c, "invalid claims")
	}
	name := c.Params("name")
	if err := h.executor.Registry().Reset(c.UserContext(), name); err != nil {
		return h.fail(c, err)
	}
	audit.RecordQuietly(c.UserContext(), h.audit, h.logger, audit.Entry{
		Action:     audit.ActionCircuitReset,
		Category:   audit.CategoryResilience,
		Severity:   models.SeverityWarning,
		Actor:      actor,
		TargetType: "circuit",
		TargetID:   name,
		Outcome:    audit.OutcomeSuccess,
	})
	h.logger.Warn("circuit reset by operator", zap.String("circuit", name), zap.String("actor_id", actor.ActorID))
	return utils.Success(c, fiber.Map{"circuit": name, "state": resilience.StateClosed})
}

// Bypass toggles the global resilience switch.
func (h *CircuitHandler) Bypass(c *fiber.Ctx) error {
	actor, ok := h.actor(c)
	if !ok {
		return utils.Unauthorized(c, "invalid claims")
	}
	var input bypassInput
	if err := h.parseBody(c, &input); err != nil {
		return h.fail(c, err)
	}
	h.executor.SetDisabled(*input.Disabled)
	audit.RecordQuietly(c.UserContext(), h.audit, h.logger, audit.Entry{
		Action:     audit.ActionCircuitBypass,
		Category:   audit.CategoryResilience,
		Severity:   models.SeverityCritical,
		Actor:      actor,
		TargetType: "resilience",
		TargetID:   "executor",
		Outcome:    audit.OutcomeSuccess,
		Details:    map[string]interface{}{"disabled": *input.Disabled},
	})
	h.logger.Warn("resilience bypass toggled", zap.Bool("disabled", *input.Disabled), zap.String("actor_id", actor.ActorID))
	return utils.Success(c, fiber.Map{"disabled": *input.Disabled})
}
