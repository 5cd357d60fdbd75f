package db

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"difyline/config"
	"difyline/models"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
)

// Connect opens the delivery ledger database (sqlite3 by default, or postgres)
// and migrates the deliveries table.
func Connect(cfg config.Configuration, logger *slog.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		db  *gorm.DB
		err error
	)

	switch cfg.Database {
	case "postgres", "postgresql":
		logger.Info("ledger: using postgresql", "host", cfg.DbHost, "db", cfg.DbName)
		path := "host=" + cfg.DbHost + " port=" + cfg.DbPort
		path += " user=" + cfg.DbUser + " dbname=" + cfg.DbName
		path += " password=" + cfg.DbPass
		db, err = gorm.Open("postgres", path)
	case "sqlite3", "sqlite":
		path := cfg.DbPath
		if path == "" {
			path = "db/database.db"
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ledger dir: %w", err)
		}
		logger.Info("ledger: using sqlite3", "path", path)
		db, err = gorm.Open("sqlite3", path)
	default:
		return nil, fmt.Errorf("unsupported database %q", cfg.Database)
	}

	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Database, err)
	}

	db.LogMode(cfg.SlogLevel() == slog.LevelDebug)

	if err := db.AutoMigrate(&models.Delivery{}).Error; err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate deliveries: %w", err)
	}

	return db, nil
}
