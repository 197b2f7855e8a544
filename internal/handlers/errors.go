package handlers

import (
	"errors"
	"math"
	"strconv"

	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/resilience"
	"ledgercore/internal/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// statusByCode maps domain error codes onto HTTP statuses.
var statusByCode = map[apperrors.Code]int{
	apperrors.CodeInvalidRequest:      fiber.StatusBadRequest,
	apperrors.CodeInvalidAmount:       fiber.StatusBadRequest,
	apperrors.CodeInvalidTransfer:     fiber.StatusBadRequest,
	apperrors.CodeUnsupportedKind:     fiber.StatusBadRequest,
	apperrors.CodeAccountNotFound:     fiber.StatusNotFound,
	apperrors.CodeEntryNotFound:       fiber.StatusNotFound,
	apperrors.CodeRecordNotFound:      fiber.StatusNotFound,
	apperrors.CodeLockContention:      fiber.StatusConflict,
	apperrors.CodeAccountFrozen:       fiber.StatusConflict,
	apperrors.CodeEntryResolved:       fiber.StatusConflict,
	apperrors.CodeRecordImmutable:     fiber.StatusConflict,
	apperrors.CodeInvalidTransition:   fiber.StatusConflict,
	apperrors.CodeInsufficientBalance: fiber.StatusUnprocessableEntity,
	apperrors.CodeAmountOutOfRange:    fiber.StatusUnprocessableEntity,
	apperrors.CodeDeferred:            fiber.StatusAccepted,
}

// respondError writes err as a coded JSON error. Errors without a domain
// code are logged and reported as a generic failure.
func respondError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	var open *resilience.CircuitOpenError
	if errors.As(err, &open) {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(open.RetryAfter.Seconds()))))
		return utils.Fail(c, fiber.StatusServiceUnavailable, "CIRCUIT_OPEN", open.Error(), true)
	}

	var de *apperrors.DomainError
	if errors.As(err, &de) {
		status, ok := statusByCode[de.Code]
		if !ok {
			status = fiber.StatusBadRequest
		}
		return utils.Fail(c, status, string(de.Code), de.Message, de.Retryable)
	}

	logger.Error("request failed",
		zap.Error(err),
		zap.String("method", c.Method()),
		zap.String("path", c.Path()))
	return utils.InternalError(c, "internal error")
}

// parseBody decodes and validates the request body into dst.
func (h *base) parseBody(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return apperrors.ErrInvalidRequest.WithMessage("invalid request format")
	}
	return h.payload.Struct(dst)
}
