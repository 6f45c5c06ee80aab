package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/mx-space/shortener/internal/config"
	"github.com/mx-space/shortener/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens a MySQL connection and optionally runs auto-migration.
func Connect(cfg *config.AppConfig, autoMigrate bool) (*gorm.DB, error) {
	db, err := openDB(cfg, resolveLogLevel(cfg))
	if err != nil {
		return nil, err
	}

	if autoMigrate {
		if err := migrate(db); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies connectivity, used by readiness probes.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func resolveLogLevel(cfg *config.AppConfig) logger.LogLevel {
	if cfg.IsDev() {
		return logger.Info
	}
	return logger.Warn
}

func openDB(cfg *config.AppConfig, logLevel logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:               cfg.DSN,
		DefaultStringSize: 191,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return db, nil
}

// migrate runs GORM auto-migration and the index fixups AutoMigrate cannot
// express.
func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.UrlModel{}); err != nil {
		return err
	}

	if db.Dialector.Name() == "mysql" {
		// FULLTEXT index backs the list search on the original URL.
		err := db.Exec("ALTER TABLE `urls` ADD FULLTEXT INDEX `ft_urls_original` (`original`)").Error
		if err != nil && !isDuplicateIndex(err) {
			return err
		}
	}
	return nil
}

func isDuplicateIndex(err error) bool {
	// MySQL 1061: duplicate key name.
	return strings.Contains(err.Error(), "1061") || strings.Contains(err.Error(), "Duplicate key name")
}
