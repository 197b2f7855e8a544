// Package middleware provides HTTP middleware components for the application.
// Authentication itself happens upstream; this layer only verifies the
// signed identity and enforces roles.
package middleware

import (
	"strings"

	"ledgercore/internal/domain/identity"
	"ledgercore/internal/models"
	"ledgercore/internal/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// AuthMiddleware turns a bearer token into the caller identity.
type AuthMiddleware struct {
	secret string
	logger *zap.Logger
}

func NewAuthMiddleware(secret string, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{secret: secret, logger: logger}
}

// Handler validates the JWT and stores the actor both in fiber locals and in
// the user context read by the services.
func (m *AuthMiddleware) Handler(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return utils.Unauthorized(c, "missing authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return utils.Unauthorized(c, "invalid authorization format")
	}

	claims, err := utils.ParseToken(strings.TrimPrefix(authHeader, "Bearer "), m.secret)
	if err != nil {
		m.logger.Debug("token rejected", zap.Error(err), zap.String("path", c.Path()))
		return utils.Unauthorized(c, "invalid token")
	}

	actor := identity.Actor{
		ActorID:     claims.ActorID,
		UserID:      claims.UserID,
		WorkspaceID: claims.WorkspaceID,
		Role:        claims.Role,
	}
	c.Locals(utils.ActorLocal, actor)
	c.SetUserContext(identity.WithActor(c.UserContext(), actor))

	return c.Next()
}

// roleLevel orders roles; admin passes every check.
var roleLevel = map[string]int{
	models.RoleUser:     1,
	models.RoleReseller: 2,
	models.RoleOperator: 3,
	models.RoleAdmin:    4,
}

// RequireRole admits callers whose role is at least minRole.
func RequireRole(minRole string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := utils.GetActor(c)
		if err != nil {
			return utils.Unauthorized(c, "unauthorized")
		}
		if roleLevel[actor.Role] < roleLevel[minRole] {
			return utils.Forbidden(c, "insufficient permissions")
		}
		return c.Next()
	}
}
