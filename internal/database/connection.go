// internal/database/connection.go
package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/javajoker/fanvault-backend/internal/config"
	"github.com/javajoker/fanvault-backend/internal/models"
)

var DB *gorm.DB

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var err error
	var gormConfig *gorm.Config

	// Configure GORM logger
	if cfg.LogLevel == "silent" {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		}
	} else {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		}
	}

	// Connect to database
	DB, err = gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithFields(logrus.Fields{"host": cfg.Host, "database": cfg.Database}).Info("Database connection established")
	return DB, nil
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
	} else {
		logrus.Info("Database connection closed")
	}
}

func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS pgcrypto").Error; err != nil {
		return fmt.Errorf("failed to create pgcrypto extension: %w", err)
	}

	err := db.AutoMigrate(
		&models.User{},
		&models.SubscriptionTier{},
		&models.TierPrice{},
		&models.Subscription{},
		&models.Post{},
		&models.Message{},
		&models.Transaction{},
		&models.Wallet{},
		&models.WalletLedgerEntry{},
		&models.PlatformBalance{},
		&models.PlatformLedgerEntry{},
		&models.Referral{},
		&models.ReferralEarning{},
		&models.TrackingAttribution{},
		&models.UserNotification{},
		&models.WebhookEvent{},
		&models.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logrus.Info("Database migrations completed")
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// Transactions
		"CREATE INDEX IF NOT EXISTS idx_transactions_payer_created ON transactions(payer_id, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_transactions_recipient_created ON transactions(recipient_id, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_transactions_status_kind ON transactions(status, kind)",
		"CREATE INDEX IF NOT EXISTS idx_transactions_clearance ON transactions(clearance_due_at) WHERE cleared_at IS NULL AND clearance_due_at IS NOT NULL",
		"CREATE INDEX IF NOT EXISTS idx_transactions_pending_referrals ON transactions(processed_at) WHERE referrals_processed = false AND subscription_id IS NOT NULL",

		// Subscriptions
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_external ON subscriptions(external_id) WHERE external_id IS NOT NULL",
		"CREATE INDEX IF NOT EXISTS idx_subscriptions_status_end ON subscriptions(status, end_date)",

		// Ledger
		"CREATE INDEX IF NOT EXISTS idx_wallet_entries_holder_created ON wallet_ledger_entries(holder_id, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_platform_entries_created ON platform_ledger_entries(created_at DESC)",

		// Admin
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_user_action ON audit_logs(user_id, action)",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id)",
		"CREATE INDEX IF NOT EXISTS idx_webhook_events_gateway_created ON webhook_events(gateway, created_at DESC)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			// Continue with other indexes instead of failing completely
			logrus.WithError(err).WithField("index", index).Warn("Failed to create index")
		}
	}

	return nil
}

// SeedInitialData creates the system accounts, their wallets and the
// platform balance row. It is safe to run on every start.
func SeedInitialData(db *gorm.DB) error {
	logrus.Info("Seeding initial data...")

	systemUsers := []models.User{
		{
			BaseModel: models.BaseModel{ID: models.PlatformAccountID},
			Username:  "platform",
			Email:     "platform@system.fanvault.local",
			Role:      models.UserRoleSystem,
			Status:    models.UserStatusActive,
		},
		{
			BaseModel: models.BaseModel{ID: models.GatewayClearingAccountID},
			Username:  "gateway-clearing",
			Email:     "clearing@system.fanvault.local",
			Role:      models.UserRoleSystem,
			Status:    models.UserStatusActive,
		},
	}

	return WithTransaction(db, func(tx *gorm.DB) error {
		for _, u := range systemUsers {
			user := u
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error; err != nil {
				return fmt.Errorf("failed to create system user %s: %w", user.Username, err)
			}

			var wallet models.Wallet
			err := tx.Where("holder_id = ?", user.ID).First(&wallet).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				wallet = models.Wallet{HolderID: user.ID}
				if err := tx.Create(&wallet).Error; err != nil {
					return fmt.Errorf("failed to create wallet for %s: %w", user.Username, err)
				}
				logrus.WithField("holder_id", user.ID).Info("System wallet created")
			} else if err != nil {
				return err
			}
		}

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.PlatformBalance{ID: 1}).Error; err != nil {
			return fmt.Errorf("failed to create platform balance: %w", err)
		}

		logrus.Info("Initial data seeding completed")
		return nil
	})
}

// Transaction helper
func WithTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
