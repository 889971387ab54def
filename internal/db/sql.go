// Package db opens the connections used by the gateway: MySQL for the
// ledger, ClickHouse for analytics and Redis for window counters.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/config"
	"github.com/jmoiron/sqlx"
)

// openSQL opens a pooled *sqlx.DB for driver and pings it within
// c.PingTimeout (or defaultPing).
func openSQL(ctx context.Context, driver string, c config.DatabaseConfig, defaultPing time.Duration) (*sqlx.DB, error) {
	if c.DSN == "" {
		return nil, fmt.Errorf("%s: empty DSN", driver)
	}
	db, err := sqlx.Open(driver, c.DSN)
	if err != nil {
		return nil, err
	}

	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
	if c.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(c.ConnMaxIdleTime)
	}

	timeout := c.PingTimeout
	if timeout <= 0 {
		timeout = defaultPing
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s ping: %w", driver, err)
	}
	return db, nil
}
