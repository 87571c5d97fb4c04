package storage

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open connects to the sqlite database at dbPath and migrates the schema.
// TranslateError makes unique-constraint violations surface as
// gorm.ErrDuplicatedKey, which the directory relies on to close upsert races.
func Open(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{TranslateError: true})
	if err != nil {
		slog.Error("storage: Failed to connect to database", "error", err, "path", dbPath)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the schema for all record kinds.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(&Chat{}, &Group{}, &GroupMember{})
	if err != nil {
		slog.Error("storage: Failed to migrate database", "error", err)
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}
