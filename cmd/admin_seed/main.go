// Package main seeds the platform workspace, its overdraft settlement
// account and prints an admin token for the operator console.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"ledgercore/internal/config"
	"ledgercore/internal/logger"
	"ledgercore/internal/models"
	"ledgercore/internal/repositories"
	"ledgercore/internal/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const platformUserID = "platform"

func main() {
	config.LoadEnv()
	cfg := config.Load()
	log := logger.New(config.IsProduction())
	defer func() { _ = log.Sync() }()

	adminActor := os.Getenv("ADMIN_ACTOR_ID")
	if adminActor == "" {
		log.Fatal("ADMIN_ACTOR_ID must be set in environment")
	}

	db, err := repositories.InitDB(cfg.Database, log)
	if err != nil {
		log.Fatal("database unavailable", zap.Error(err))
	}
	defer func() { _ = repositories.Close(db) }()

	workspace, account, err := seed(db, config.GetEnv("PLATFORM_WORKSPACE_NAME", "Platform"))
	if err != nil {
		log.Fatal("seeding failed", zap.Error(err))
	}
	log.Info("platform seeded",
		zap.String("workspace_id", workspace.ID),
		zap.String("settlement_account_id", account.ID))

	ttl := config.GetDurationEnv("ADMIN_TOKEN_TTL", 12*time.Hour)
	token, err := utils.GenerateToken(models.IdentityClaims{
		ActorID:     adminActor,
		UserID:      adminActor,
		WorkspaceID: workspace.ID,
		Role:        models.RoleAdmin,
	}, cfg.JWT.Secret, ttl)
	if err != nil {
		log.Fatal("failed to sign admin token", zap.Error(err))
	}
	fmt.Println(token)
}

// seed creates the platform workspace and its overdraft settlement account
// once; later runs return the existing rows.
func seed(db *gorm.DB, name string) (*models.Workspace, *models.Account, error) {
	var workspace models.Workspace
	var account models.Account

	err := db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("name = ?", name).First(&workspace).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			workspace = models.Workspace{Name: name}
			err = tx.Create(&workspace).Error
		}
		if err != nil {
			return fmt.Errorf("workspace: %w", err)
		}

		err = tx.Where("user_id = ? AND workspace_id = ?", platformUserID, workspace.ID).First(&account).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			account = models.Account{
				UserID:         platformUserID,
				WorkspaceID:    &workspace.ID,
				AllowOverdraft: true,
				Status:         models.AccountStatusActive,
				Currency:       "EUR",
			}
			err = tx.Create(&account).Error
		}
		if err != nil {
			return fmt.Errorf("settlement account: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &workspace, &account, nil
}
