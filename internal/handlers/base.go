// Package handlers exposes the services over HTTP.
package handlers

import (
	"ledgercore/internal/domain/identity"
	"ledgercore/internal/utils"
	"ledgercore/internal/validation"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// base carries what every handler needs.
type base struct {
	payload *validation.Payload
	logger  *zap.Logger
}

func newBase(logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{payload: validation.NewPayload(), logger: logger}
}

func (h *base) fail(c *fiber.Ctx, err error) error {
	return respondError(c, h.logger, err)
}

// actor returns the caller identity set by the auth middleware.
func (h *base) actor(c *fiber.Ctx) (identity.Actor, bool) {
	a, err := utils.GetActor(c)
	return a, err == nil
}
