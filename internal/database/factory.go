package database

import (
	"fmt"
	"os"
	"path/filepath"

	"dsync-go/internal/config"
	"dsync-go/internal/dsync"
)

const (
	// HistoryFileName is the database file kept in the configured data_dir.
	HistoryFileName = "history.db"

	// HistoryBackupFileName is the copy of the history refreshed after every
	// recorded run.
	HistoryBackupFileName = "history.db.bak"
)

// NewDatabaseFromConfig creates a migrated run history based on the database config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, clock dsync.Clock, idgen dsync.IDGenerator) (dsync.RunHistory, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		path = filepath.Join(cfg.DataDir, HistoryFileName)
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}

	db, err := NewSQLiteDatabase(path, clock, idgen)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return db, nil
}
