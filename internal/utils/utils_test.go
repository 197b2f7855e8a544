package utils

import (
	"net/http/httptest"
	"testing"
	"time"

	"ledgercore/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken(models.IdentityClaims{ActorID: "op-1", WorkspaceID: "ws-1", Role: models.RoleOperator}, "secret", time.Minute)
	require.NoError(t, err)

	claims, err := ParseToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.ActorID)
	assert.Equal(t, "op-1", claims.UserID)
	assert.Equal(t, "ws-1", claims.WorkspaceID)
	assert.Equal(t, models.RoleOperator, claims.Role)

	_, err = ParseToken(token, "other")
	assert.Error(t, err)

	expired, err := GenerateToken(models.IdentityClaims{ActorID: "op-1"}, "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired, "secret")
	assert.Error(t, err)
}

func TestGetPagination(t *testing.T) {
	tests := []struct {
		query  string
		page   int
		limit  int
		offset int
	}{
		{"", 1, 50, 0},
		{"?page=3&limit=20", 3, 20, 40},
		{"?page=0&limit=-1", 1, 50, 0},
		{"?limit=5000", 1, MaxPageSize, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			app := fiber.New()
			var got Pagination
			app.Get("/", func(c *fiber.Ctx) error {
				got = GetPagination(c, 1, 50)
				return nil
			})
			_, err := app.Test(httptest.NewRequest("GET", "/"+tt.query, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.page, got.Page)
			assert.Equal(t, tt.limit, got.Limit)
			assert.Equal(t, tt.offset, got.Offset)
		})
	}
}

func TestSetTotal(t *testing.T) {
	p := Pagination{Page: 1, Limit: 20}
	p.SetTotal(41)
	assert.Equal(t, 3, p.LastPage)
	assert.Equal(t, 0, TotalPages(10, 0))
}
