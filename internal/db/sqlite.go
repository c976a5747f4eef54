package db

import (
	"fmt"
	"net/url"

	"github.com/d9705996/modmail-viewer/internal/model"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// sqlitePragmas apply to every connection the driver opens.
var sqlitePragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"journal_mode(WAL)",
}

// OpenSQLite opens the database file at path and migrates it with
// AutoMigrate.
//
// SQLite allows one writer. CreateSession reads the user row and then
// writes inside one transaction, and a deferred transaction that upgrades
// to a write lock fails at once with SQLITE_BUSY instead of waiting. The
// pool therefore holds a single connection and transactions begin
// IMMEDIATE.
func OpenSQLite(path string) (*gorm.DB, error) {
	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	q.Set("_txlock", "immediate")

	gormDB, err := gorm.Open(sqlite.Open(path+"?"+q.Encode()), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := gormDB.AutoMigrate(model.All()...); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite automigrate: %w", err)
	}
	return gormDB, nil
}
