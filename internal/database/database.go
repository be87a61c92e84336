package database

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase connects to postgres when uri is set, otherwise it opens a
// sqlite database under root. The schema is migrated before returning.
func NewDatabase(uri, root string) (*gorm.DB, error) {
	config := &gorm.Config{TranslateError: true}

	var db *gorm.DB
	var err error
	if uri != "" {
		slog.Info("connecting to postgres")
		db, err = gorm.Open(postgres.Open(uri), config)
	} else {
		path := filepath.Join(root, "db", "classifier.db")
		if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
		slog.Info("opening sqlite database", "path", path)
		db, err = gorm.Open(sqlite.Open(path+"?_foreign_keys=on"), config)
	}
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error getting database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxIdleTime(time.Minute)

	if err := GetMigrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return db, nil
}
