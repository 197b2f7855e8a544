// Package main applies the embedded SQL migrations to the configured
// postgres database.
//
//	migrator            apply every pending migration
//	migrator -down 1    roll back one migration
//	migrator -version   print the current version
package main

import (
	"database/sql"
	"embed"
	"errors"
	"flag"
	"fmt"
	"os"

	"ledgercore/internal/config"
	"ledgercore/internal/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	down := flag.Int("down", 0, "number of migrations to roll back")
	version := flag.Bool("version", false, "print the current schema version and exit")
	flag.Parse()

	config.LoadEnv()
	cfg := config.Load()
	log := logger.New(config.IsProduction())
	defer func() { _ = log.Sync() }()

	if err := run(cfg.Database, *down, *version, log); err != nil {
		log.Error("migration run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.DatabaseConfig, down int, printVersion bool, log *zap.Logger) error {
	db, err := sql.Open("pgx", cfg.URL())
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("init postgres driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}

	switch {
	case printVersion:
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info("no migrations applied")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read version: %w", err)
		}
		log.Info("schema version", zap.Uint("version", v), zap.Bool("dirty", dirty))
		return nil
	case down > 0:
		err = m.Steps(-down)
	default:
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: %w", err)
	}

	v, _, _ := m.Version()
	log.Info("migrations applied", zap.Uint("version", v), zap.String("database", cfg.Name))
	return nil
}
