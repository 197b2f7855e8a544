// Package routes defines the API routing configuration.
package routes

import (
	"net/http"

	"ledgercore/internal/handlers"
	"ledgercore/internal/middleware"
	"ledgercore/internal/models"
	"ledgercore/internal/resilience"
	"ledgercore/internal/services/audit"
	"ledgercore/internal/services/compensation"
	"ledgercore/internal/services/reconciliation"
	"ledgercore/internal/services/wallet"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
)

// Dependencies are the wired services the HTTP surface exposes.
type Dependencies struct {
	JWTSecret      string
	Logger         *zap.Logger
	Wallet         wallet.Service
	Compensation   compensation.Service
	Reconciliation reconciliation.Service
	Audit          audit.Service
	Executor       *resilience.Executor
	Health         *handlers.HealthHandler
	StatsCache     handlers.StatsCache
	Metrics        http.Handler
}

// SetupRoutes mounts every route under /api/v1. Operator routes require at
// least the operator role.
func SetupRoutes(app *fiber.App, d Dependencies) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	walletHandler := handlers.NewWalletHandler(d.Wallet, d.Logger)
	compensationHandler := handlers.NewCompensationHandler(d.Compensation, d.StatsCache, d.Logger)
	reconciliationHandler := handlers.NewReconciliationHandler(d.Reconciliation, d.StatsCache, d.Logger)
	circuitHandler := handlers.NewCircuitHandler(d.Executor, d.Audit, d.Logger)
	auditHandler := handlers.NewAuditHandler(d.Audit, d.Logger)
	auth := middleware.NewAuthMiddleware(d.JWTSecret, d.Logger)
	operator := middleware.RequireRole(models.RoleOperator)

	api := app.Group("/api/v1")

	// Public routes
	if d.Health != nil {
		api.Get("/health", d.Health.HealthCheck)
	}
	if d.Metrics != nil {
		api.Get("/metrics", adaptor.HTTPHandler(d.Metrics))
	}

	// Wallet routes
	walletGroup := api.Group("/wallet", auth.Handler)
	walletGroup.Post("/debit", walletHandler.Debit)
	walletGroup.Post("/credit", operator, walletHandler.Credit)
	walletGroup.Post("/refund", operator, walletHandler.Refund)
	walletGroup.Post("/transfer", walletHandler.Transfer)
	walletGroup.Get("/accounts/:id", walletHandler.GetAccount)
	walletGroup.Get("/accounts/:id/transactions", walletHandler.ListTransactions)

	// Compensation routes
	compensationGroup := api.Group("/compensation", auth.Handler, operator)
	compensationGroup.Get("/stats", compensationHandler.Stats)
	compensationGroup.Get("/", compensationHandler.List)
	compensationGroup.Post("/process", compensationHandler.Process)
	compensationGroup.Post("/execute", compensationHandler.Execute)
	compensationGroup.Get("/:id", compensationHandler.Get)
	compensationGroup.Post("/:id/retry", compensationHandler.Retry)
	compensationGroup.Post("/:id/resolve", compensationHandler.Resolve)

	// Reconciliation routes
	reconciliationGroup := api.Group("/reconciliation", auth.Handler, operator)
	reconciliationGroup.Get("/", reconciliationHandler.List)
	reconciliationGroup.Get("/pending", reconciliationHandler.Pending)
	reconciliationGroup.Get("/stats", reconciliationHandler.Stats)
	reconciliationGroup.Get("/margins", reconciliationHandler.Margins)
	reconciliationGroup.Get("/alerts", reconciliationHandler.Alerts)
	reconciliationGroup.Get("/export", reconciliationHandler.Export)
	reconciliationGroup.Post("/costs", reconciliationHandler.RecordCost)
	reconciliationGroup.Post("/auto-match", reconciliationHandler.AutoMatch)
	reconciliationGroup.Post("/flag-negative", reconciliationHandler.FlagNegative)
	reconciliationGroup.Get("/:id", reconciliationHandler.Get)
	reconciliationGroup.Patch("/:id/status", reconciliationHandler.UpdateStatus)

	// Circuit routes
	circuitGroup := api.Group("/circuits", auth.Handler, operator)
	circuitGroup.Get("/", circuitHandler.List)
	circuitGroup.Post("/bypass", middleware.RequireRole(models.RoleAdmin), circuitHandler.Bypass)
	circuitGroup.Post("/:name/reset", circuitHandler.Reset)

	// Audit routes
	api.Get("/audit", auth.Handler, operator, auditHandler.List)
}
