package services

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// openSqlite serves single-instance and development deployments. All access
// goes through one connection.
func openSqlite(path string, cfg *gorm.Config) (*gorm.DB, error) {
	if path == "" {
		path = "guard.db"
	}
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_foreign_keys=on"), cfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
