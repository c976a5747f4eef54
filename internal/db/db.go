// Package db opens the relational store that holds users, sessions and
// share grants. SQLite is the default; Postgres is used in production and
// also backs the River job queue.
package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/d9705996/modmail-viewer/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported values of DB_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// New opens the store selected by cfg.Driver with its schema migrated. The
// pool is non-nil only for Postgres.
func New(ctx context.Context, cfg *config.DBConfig) (*gorm.DB, *pgxpool.Pool, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.DSN, cfg.MaxConns)
	case DriverSQLite, "":
		gormDB, err := OpenSQLite(cfg.File)
		return gormDB, nil, err
	default:
		return nil, nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Driver)
	}
}

// Close releases everything New returned. Either argument may be nil.
func Close(gormDB *gorm.DB, pool *pgxpool.Pool) error {
	var errs []error
	if gormDB != nil {
		sqlDB, err := gormDB.DB()
		if err != nil {
			errs = append(errs, err)
		} else if err := sqlDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if pool != nil {
		pool.Close()
	}
	return errors.Join(errs...)
}

// gormConfig is shared by both drivers. Timestamps are written in UTC so
// expiry comparisons agree across drivers.
func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// Pinger reports whether the store answers. It satisfies health.Pinger.
type Pinger struct {
	db *gorm.DB
}

// NewPinger returns a Pinger for gormDB.
func NewPinger(gormDB *gorm.DB) *Pinger {
	return &Pinger{db: gormDB}
}

// Ping runs a trivial query so a wedged connection counts as down, not only
// a closed one.
func (p *Pinger) Ping(ctx context.Context) error {
	var one int
	if err := p.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
