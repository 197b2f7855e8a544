package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"ledgercore/internal/domain/identity"
	"ledgercore/internal/models"
	"ledgercore/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func newApp() *fiber.App {
	app := fiber.New()
	auth := NewAuthMiddleware(secret, nil)
	app.Get("/me", auth.Handler, func(c *fiber.Ctx) error {
		actor, ok := identity.FromContext(c.UserContext())
		if !ok {
			return fiber.ErrInternalServerError
		}
		return c.JSON(actor)
	})
	app.Get("/ops", auth.Handler, RequireRole(models.RoleOperator), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := utils.GenerateToken(models.IdentityClaims{ActorID: "u-1", WorkspaceID: "ws-1", Role: role}, secret, time.Minute)
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing header", "/me", "", fiber.StatusUnauthorized},
		{"not bearer", "/me", "Basic abc", fiber.StatusUnauthorized},
		{"garbage token", "/me", "Bearer abc", fiber.StatusUnauthorized},
		{"valid token", "/me", token(t, models.RoleUser), fiber.StatusOK},
		{"role too low", "/ops", token(t, models.RoleReseller), fiber.StatusForbidden},
		{"operator", "/ops", token(t, models.RoleOperator), fiber.StatusNoContent},
		{"admin", "/ops", token(t, models.RoleAdmin), fiber.StatusNoContent},
	}
	app := newApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
