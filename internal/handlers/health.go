package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Version is reported by the health endpoint.
var Version = "dev"

// RedisHealth is implemented by the redis cache service.
type RedisHealth interface {
	HealthCheck(ctx context.Context) error
	GetStats() *redis.PoolStats
}

type HealthHandler struct {
	db    *gorm.DB
	redis RedisHealth
}

// NewHealthHandler builds the handler. redis may be nil when disabled.
func NewHealthHandler(db *gorm.DB, redis RedisHealth) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

// HealthCheck reports 503 when the database is unreachable. Redis is
// optional: circuit state falls back to memory without it.
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	services := fiber.Map{"database": "connected", "redis": "disabled"}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		services["database"] = "unreachable"
		status = fiber.StatusServiceUnavailable
	}

	body := fiber.Map{"version": Version, "services": services}
	if h.redis != nil {
		if err := h.redis.HealthCheck(ctx); err != nil {
			services["redis"] = "degraded"
		} else {
			services["redis"] = "connected"
			pool := h.redis.GetStats()
			body["redis_pool"] = fiber.Map{
				"hits":        pool.Hits,
				"misses":      pool.Misses,
				"timeouts":    pool.Timeouts,
				"total_conns": pool.TotalConns,
				"idle_conns":  pool.IdleConns,
				"stale_conns": pool.StaleConns,
			}
		}
	}

	body["status"] = "ok"
	if status != fiber.StatusOK {
		body["status"] = "unavailable"
	}
	return c.Status(status).JSON(body)
}
