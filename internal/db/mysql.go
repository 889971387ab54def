package db

import (
	"context"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/reader-gateway/internal/config"
	"github.com/jmoiron/sqlx"
)

// NewMySQL opens the ledger database. The DSN must carry parseTime=true.
func NewMySQL(ctx context.Context, c config.DatabaseConfig) (*sqlx.DB, error) {
	return openSQL(ctx, "mysql", c, 5*time.Second)
}
