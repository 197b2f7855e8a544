// Package main is the entry point for the ledger API server. It wires the
// stores, services and background sweeps, then serves HTTP until a signal
// arrives.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledgercore/internal/config"
	"ledgercore/internal/events/kafka"
	"ledgercore/internal/handlers"
	"ledgercore/internal/jobs"
	"ledgercore/internal/logger"
	"ledgercore/internal/metrics"
	"ledgercore/internal/repositories"
	"ledgercore/internal/repositories/cache"
	"ledgercore/internal/resilience"
	"ledgercore/internal/routes"
	"ledgercore/internal/services/audit"
	"ledgercore/internal/services/compensation"
	"ledgercore/internal/services/courier"
	"ledgercore/internal/services/reconciliation"
	"ledgercore/internal/services/wallet"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// circuitStoreTimeout bounds every redis round trip of the circuit store.
const circuitStoreTimeout = 250 * time.Millisecond

func main() {
	config.LoadEnv()
	cfg := config.Load()

	log := logger.New(config.IsProduction())
	defer func() { _ = log.Sync() }()

	db, err := repositories.InitDB(cfg.Database, logger.Component(log, "db"))
	if err != nil {
		log.Fatal("database unavailable", zap.Error(err))
	}
	defer func() {
		if err := repositories.Close(db); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}()

	// Redis backs circuit state and the stats cache; memory is the fallback.
	var (
		circuitStore resilience.Store = resilience.NewMemoryStore()
		statsCache   handlers.StatsCache
		redisHealth  handlers.RedisHealth
	)
	if cfg.Redis.Enabled {
		client := cache.NewRedisClient(&cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cacheService := cache.NewCacheService(client, handlers.StatsTTL)
		defer func() {
			if err := cacheService.Close(); err != nil {
				log.Warn("failed to close redis", zap.Error(err))
			}
		}()
		circuitStore = resilience.NewFallbackStore(
			resilience.WithTimeout(resilience.NewRedisStore(client), circuitStoreTimeout),
			circuitStore,
			logger.Component(log, "circuit-store"))
		statsCache = cacheService
		redisHealth = cacheService
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	var publisher audit.Publisher
	if cfg.Kafka.Enabled {
		kafkaPublisher := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, logger.Component(log, "kafka"))
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				log.Warn("failed to close kafka writer", zap.Error(err))
			}
		}()
		publisher = kafkaPublisher
	}
	auditService := audit.NewService(db, publisher, logger.Component(log, "audit"))

	// One retry executor and one breaker registry for every dependency.
	retrier := resilience.NewRetrier(resilience.RetryPolicy{
		MaxAttempts: cfg.Resilience.MaxAttempts,
		BaseDelay:   cfg.Resilience.BaseDelay,
		MaxDelay:    cfg.Resilience.MaxDelay,
		Multiplier:  2,
		Jitter:      0.2,
	}, resilience.DefaultClassifier, resilience.WithRetryLogger(logger.Component(log, "retry")))
	registry := resilience.NewRegistry(circuitStore, resilience.BreakerConfig{
		FailureThreshold:    cfg.Resilience.FailureThreshold,
		SuccessThreshold:    cfg.Resilience.SuccessThreshold,
		Cooldown:            cfg.Resilience.Cooldown,
		MaxHalfOpenRequests: cfg.Resilience.MaxHalfOpenRequests,
	}, resilience.WithLogger(logger.Component(log, "circuit")), resilience.WithObserver(collector))
	registry.Breaker(courier.Dependency)
	executor := resilience.NewExecutor(registry, retrier, cfg.Resilience.Disabled)
	if cfg.Resilience.Disabled {
		log.Warn("resilience disabled, dependencies are called directly")
	}

	courierClient := courier.NewResilientClient(
		courier.NewHTTPClient(cfg.Courier.BaseURL, cfg.Courier.APIKey, cfg.Courier.Timeout),
		executor)

	lockRetrier := resilience.NewRetrier(resilience.RetryPolicy{
		MaxAttempts: cfg.Ledger.LockRetryAttempts,
		BaseDelay:   cfg.Ledger.LockRetryBaseDelay,
		MaxDelay:    2 * time.Second,
		Multiplier:  2,
		Jitter:      0.5,
	}, resilience.DefaultClassifier)
	walletService := wallet.WithLockRetry(wallet.NewService(
		repositories.NewAccountRepository(db),
		auditService,
		wallet.WalletConfig{
			MaxSingleOperation: cfg.Ledger.MaxSingleOperation,
			MaxBalance:         cfg.Ledger.MaxBalance,
		},
		collector,
		logger.Component(log, "wallet"),
	), lockRetrier)

	compensationService := compensation.NewService(
		repositories.NewCompensationRepository(db),
		walletService,
		courierClient,
		auditService,
		compensation.Config{
			BatchSize:   cfg.Compensation.BatchSize,
			MaxRetries:  cfg.Compensation.MaxRetries,
			ExpireAfter: cfg.Compensation.ExpireAfter,
		},
		collector,
		logger.Component(log, "compensation"),
	)

	reconciliationService := reconciliation.NewService(
		repositories.NewReconciliationRepository(db),
		auditService,
		reconciliation.Config{
			AutoMatchMinAge:  cfg.Reconciliation.AutoMatchMinAge,
			BatchSize:        cfg.Reconciliation.BatchSize,
			OverdueAfter:     cfg.Reconciliation.OverdueAfter,
			CriticalMargin:   cfg.Reconciliation.CriticalMargin,
			PendingListLimit: cfg.Reconciliation.PendingListLimit,
			AlertListLimit:   cfg.Reconciliation.AlertListLimit,
			OverdueWarnCount: cfg.Reconciliation.OverdueWarnCount,
			OverdueCritCount: cfg.Reconciliation.OverdueCritCount,
		},
		collector,
		logger.Component(log, "reconciliation"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobLog := logger.Component(log, "jobs")
	runner := jobs.NewRunner(jobLog,
		jobs.CompensationSweep(compensationService, cfg.Compensation.SweepInterval, jobLog),
		jobs.ReconciliationSweep(reconciliationService, cfg.Reconciliation.SweepInterval, cfg.Reconciliation.AutoMatchMinAge, jobLog),
	)
	runner.Start(ctx)

	app := fiber.New(fiber.Config{
		AppName:      "ledgercore",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,HEAD,PATCH",
	}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use("/api/v1/wallet", limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Please try again later.",
				"code":  "RATE_LIMITED",
			})
		},
	}))

	routes.SetupRoutes(app, routes.Dependencies{
		JWTSecret:      cfg.JWT.Secret,
		Logger:         logger.Component(log, "http"),
		Wallet:         walletService,
		Compensation:   compensationService,
		Reconciliation: reconciliationService,
		Audit:          auditService,
		Executor:       executor,
		Health:         handlers.NewHealthHandler(db, redisHealth),
		StatsCache:     statsCache,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	})

	go func() {
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()
	log.Info("ledgercore started", zap.String("port", cfg.Server.Port), zap.String("env", cfg.Env))

	<-ctx.Done()
	log.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
	runner.Wait()
}
