package telemetry

import (
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const queryStartKey = "billflow:query_start"

// DBTracingConfig configures database spans
type DBTracingConfig struct {
	Enabled            bool
	DBSystem           string
	SlowQueryThreshold time.Duration
	LogQueryVariables  bool
}

// RegisterDBTracing installs the otelgorm plugin and a slow query callback on db
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}
	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBSystem)}
	if !cfg.LogQueryVariables {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}
	if cfg.SlowQueryThreshold <= 0 {
		return nil
	}
	return registerSlowQuery(db, cfg.SlowQueryThreshold, logger)
}

func registerSlowQuery(db *gorm.DB, threshold time.Duration, logger *zap.Logger) error {
	before := func(tx *gorm.DB) { tx.InstanceSet(queryStartKey, time.Now()) }
	after := func(tx *gorm.DB) {
		v, ok := tx.InstanceGet(queryStartKey)
		if !ok {
			return
		}
		start, ok := v.(time.Time)
		if !ok {
			return
		}
		if took := time.Since(start); took >= threshold {
			logger.Warn("slow query",
				zap.String("table", tx.Statement.Table),
				zap.Duration("duration", took),
				zap.Int64("rows", tx.RowsAffected),
			)
		}
	}

	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("billflow:before_create", before); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("billflow:before_query", before); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("billflow:before_update", before); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("billflow:before_delete", before); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("billflow:after_create", after); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("billflow:after_query", after); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("billflow:after_update", after); err != nil {
		return err
	}
	return cb.Delete().After("gorm:delete").Register("billflow:after_delete", after)
}
