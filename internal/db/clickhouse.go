package db

import (
	"context"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmehdipour/reader-gateway/internal/config"
	"github.com/jmoiron/sqlx"
)

// NewClickHouse opens the analytics database through the database/sql
// interface of clickhouse-go, e.g.
// clickhouse://default:@localhost:9000/readergw?dial_timeout=5s&compress=true
func NewClickHouse(ctx context.Context, c config.DatabaseConfig) (*sqlx.DB, error) {
	return openSQL(ctx, "clickhouse", c, 3*time.Second)
}
