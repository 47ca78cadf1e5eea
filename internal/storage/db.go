// Package storage persists local accounts and login attempt records with
// GORM. Postgres is the production driver; SQLite serves embedded
// deployments and tests.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/hashicorp/go-hclog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options selects and tunes the database.
type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// Open connects, pings and migrates the schema.
func Open(ctx context.Context, opts Options, log hclog.Logger) (*gorm.DB, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	var dialector gorm.Dialector
	switch strings.ToLower(opts.Driver) {
	case DriverPostgres:
		dialector = postgres.Open(opts.DSN)
	case DriverSQLite, "":
		dialector = sqlite.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	log.Debug("opening database", "driver", opts.Driver)

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if dialector.Name() == DriverSQLite {
		// One long-lived connection: a single writer, and ":memory:"
		// databases vanish with their connection.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
			sqlDB.SetMaxIdleConns(opts.MaxOpenConns / 2)
		}
		sqlDB.SetConnMaxIdleTime(15 * time.Minute)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	log.Info("database ready", "driver", dialector.Name())
	return db, nil
}

// Migrate creates or updates the tables used by this package.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&accountModel{}, &accountMetaModel{}, &loginAttemptModel{}); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
