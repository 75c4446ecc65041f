package database

import (
	"fmt"
	"time"

	"bank-products/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const uniqueKeyIndex = "idx_bank_products_unique_key"

// Open connects with the given driver without migrating.
func Open(driver, dsn string, log *logrus.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(log)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if driver == "sqlite" || driver == "" {
		// a single writer avoids SQLITE_BUSY between the refresh and API reads
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	return db, nil
}

// Initialize opens the database and brings the schema up to date.
func Initialize(driver, dsn string, log *logrus.Logger) (*gorm.DB, error) {
	db, err := Open(driver, dsn, log)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, log); err != nil {
		return nil, err
	}
	log.WithField("driver", driver).Info("Database initialized successfully")
	return db, nil
}

// Migrate creates or updates every table owned by the application.
func Migrate(db *gorm.DB, log *logrus.Logger) error {
	if err := dedupeBusinessKeys(db, log); err != nil {
		return fmt.Errorf("dedupe bank_products: %w", err)
	}
	if err := db.AutoMigrate(&models.BankProduct{}, &models.CurrencyRate{}, &models.RefreshRun{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// dedupeBusinessKeys collapses duplicate unique_key rows left by databases created
// before the unique index existed, so that AutoMigrate can add it. The active and
// most recently updated row of each key survives.
func dedupeBusinessKeys(db *gorm.DB, log *logrus.Logger) error {
	m := db.Migrator()
	if !m.HasTable(&models.BankProduct{}) || !m.HasColumn(&models.BankProduct{}, "unique_key") {
		return nil
	}
	if m.HasIndex(&models.BankProduct{}, uniqueKeyIndex) {
		return nil
	}

	var keys []string
	if err := db.Model(&models.BankProduct{}).
		Group("unique_key").
		Having("COUNT(*) > 1").
		Pluck("unique_key", &keys).Error; err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		removed := 0
		for _, key := range keys {
			var ids []string
			if err := tx.Model(&models.BankProduct{}).
				Where("unique_key = ?", key).
				Order("is_active DESC").Order("updated_at DESC").
				Pluck("id", &ids).Error; err != nil {
				return err
			}
			if len(ids) < 2 {
				continue
			}
			res := tx.Where("id IN ?", ids[1:]).Delete(&models.BankProduct{})
			if res.Error != nil {
				return res.Error
			}
			removed += int(res.RowsAffected)
		}
		log.WithFields(logrus.Fields{"keys": len(keys), "removed": removed}).
			Warn("Removed duplicate bank_products rows before adding unique index")
		return nil
	})
}

func newGormLogger(log *logrus.Logger) logger.Interface {
	level := logger.Warn
	if log.IsLevelEnabled(logrus.DebugLevel) {
		level = logger.Info
	}
	return logger.New(log, logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
