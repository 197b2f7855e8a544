package handlers

import (
	"ledgercore/internal/services/audit"
	"ledgercore/internal/utils"
	"ledgercore/internal/validation"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AuditHandler struct {
	base
	service audit.Service
}

func NewAuditHandler(service audit.Service, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{base: newBase(logger), service: service}
}

func (h *AuditHandler) List(c *fiber.Ctx) error {
	v := validation.New()
	filter := audit.Filter{
		Category: c.Query("category"),
		Action:   c.Query("action"),
		TargetID: c.Query("target_id"),
		ActorID:  c.Query("actor_id"),
		Since:    v.Time("since", c.Query("since")),
	}
	if err := v.Err(); err != nil {
		return h.fail(c, err)
	}

	p := utils.GetPagination(c, 1, 50)
	filter.Limit, filter.Offset = p.Limit, p.Offset
	logs, total, err := h.service.List(c.UserContext(), filter)
	if err != nil {
		return h.fail(c, err)
	}
	p.SetTotal(total)
	return utils.Success(c, utils.NewPaginatedResponse(logs, p))
}
