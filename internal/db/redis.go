package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewRedis connects the shared window counter store. Read and write
// timeouts follow the dial timeout; the limiter bounds each call tighter.
func NewRedis(ctx context.Context, c config.RedisConfig) (*redis.Client, error) {
	if c.Addr == "" {
		return nil, fmt.Errorf("redis: empty addr")
	}
	dial := c.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  dial,
		ReadTimeout:  dial,
		WriteTimeout: dial,
	})
	pctx, cancel := context.WithTimeout(ctx, dial)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
