package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/billflow/backend/internal/infrastructure/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database is the PostgreSQL handle shared by every repository
type Database struct {
	DB *gorm.DB
	// pool is the connection pool under DB
	pool *sql.DB
}

// NewDatabase connects with GORM logging disabled
func NewDatabase(cfg *config.DatabaseConfig) (*Database, error) {
	return NewDatabaseWithLogger(cfg, logger.Default.LogMode(logger.Silent))
}

// NewDatabaseWithLogger connects to PostgreSQL, sizes the pool from cfg and
// verifies the connection before returning.
func NewDatabaseWithLogger(cfg *config.DatabaseConfig, gormLogger logger.Interface) (*Database, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	d, err := wrap(db)
	if err != nil {
		return nil, err
	}
	d.pool.SetMaxOpenConns(cfg.MaxOpenConns)
	d.pool.SetMaxIdleConns(cfg.MaxIdleConns)
	d.pool.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	d.pool.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	if err := d.pool.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return d, nil
}

func wrap(db *gorm.DB) (*Database, error) {
	pool, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return &Database{DB: db, pool: pool}, nil
}

// Close releases the pool
func (d *Database) Close() error {
	return d.pool.Close()
}

// Ping checks database readiness
func (d *Database) Ping(ctx context.Context) error {
	return d.pool.PingContext(ctx)
}

// Stats returns the pool statistics
func (d *Database) Stats() sql.DBStats {
	return d.pool.Stats()
}

// StatsCollector exports the pool statistics as go_sql_* metrics labelled with dbName
func (d *Database) StatsCollector(dbName string) prometheus.Collector {
	return collectors.NewDBStatsCollector(d.pool, dbName)
}

// Transaction runs fn in a transaction bound to ctx
func (d *Database) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return d.DB.WithContext(ctx).Transaction(fn)
}
