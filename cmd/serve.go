package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/reader-gateway/internal/billing"
	"github.com/jmehdipour/reader-gateway/internal/clock"
	"github.com/jmehdipour/reader-gateway/internal/config"
	"github.com/jmehdipour/reader-gateway/internal/db"
	"github.com/jmehdipour/reader-gateway/internal/extractor"
	httpSrv "github.com/jmehdipour/reader-gateway/internal/http"
	"github.com/jmehdipour/reader-gateway/internal/logger"
	"github.com/jmehdipour/reader-gateway/internal/ratelimit"
	"github.com/jmehdipour/reader-gateway/internal/repository"
	"github.com/jmehdipour/reader-gateway/internal/service/account"
	"github.com/jmehdipour/reader-gateway/internal/service/gatekeeper"
	"github.com/jmehdipour/reader-gateway/internal/tier"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.Log

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		catalog, err := tier.NewCatalog(cfg.Tiers)
		if err != nil {
			return fmt.Errorf("tiers: %w", err)
		}

		mysqlDB, err := db.NewMySQL(ctx, cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		clk := clock.Real{}

		store, closeStore, err := newCounterStore(ctx, cfg, clk)
		if err != nil {
			return err
		}
		defer closeStore()

		// ClickHouse only backs /v1/usage/daily; the gateway serves without it.
		var daily repository.CHUsageRepository
		if cfg.ClickHouse.DSN != "" {
			chDB, err := db.NewClickHouse(ctx, cfg.ClickHouse)
			if err != nil {
				log.Warn("clickhouse unavailable, daily usage disabled", zap.Error(err))
			} else {
				defer chDB.Close()
				daily = repository.NewCHUsageRepository(chDB)
			}
		}

		accountsRepo := repository.NewAccountsRepository(mysqlDB)
		ledgerRepo := repository.NewUsageLedgerRepository(mysqlDB, repository.NewOutboxRepository())
		limiter := ratelimit.NewLimiter(store, clk, cfg.RateLimit.StoreTimeout, logger.Named("ratelimit"))

		fetcher := extractor.NewHTTPFetcher(extractor.FetcherConfig{
			UserAgent:      cfg.Extractor.UserAgent,
			DefaultTimeout: cfg.Extractor.DefaultTimeout,
			MinTimeout:     cfg.Extractor.MinTimeout,
			MaxTimeout:     cfg.Extractor.MaxTimeout,
			MaxBodyBytes:   cfg.Extractor.MaxBodyBytes,
			FailThreshold:  cfg.Extractor.Breaker.FailThreshold,
			OpenFor:        cfg.Extractor.Breaker.OpenFor,
			Clock:          clk,
			Logger:         logger.Named("extractor"),
		})

		gk := gatekeeper.New(gatekeeper.Deps{
			Accounts:     accountsRepo,
			Tiers:        catalog,
			Limiter:      limiter,
			Extractor:    fetcher,
			Billing:      billing.NewCalculator(cfg.Pricing),
			Ledger:       ledgerRepo,
			Clock:        clk,
			WriteTimeout: cfg.Ledger.WriteTimeout,
			Logger:       logger.Named("gatekeeper"),
		})

		acctSvc := account.New(account.Deps{
			Tiers:   catalog,
			Limiter: limiter,
			Ledger:  ledgerRepo,
			Daily:   daily,
			Clock:   clk,
			Thresholds: account.Thresholds{
				WarningPercent:  cfg.Alerts.WarningPercent,
				CriticalPercent: cfg.Alerts.CriticalPercent,
			},
			Logger: logger.Named("account"),
		})

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Gatekeeper: gk,
			Accounts:   accountsRepo,
			Account:    acctSvc,
			Limiter:    limiter,
			Tiers:      catalog,
			Logger:     logger.Named("http"),
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		select {
		case <-ctx.Done():
			log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}

		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	},
}

// newCounterStore builds the window counter store named by
// rate_limit.store. The memory store gets a sweeper bound to ctx.
func newCounterStore(ctx context.Context, cfg config.Config, clk clock.Clock) (ratelimit.CounterStore, func(), error) {
	switch cfg.RateLimit.Store {
	case config.StoreRedis:
		rdb, err := db.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("redis connect: %w", err)
		}
		store := ratelimit.NewRedisStore(rdb, ratelimit.RedisStoreConfig{
			KeyPrefix: cfg.RateLimit.KeyPrefix,
			Grace:     cfg.RateLimit.Grace,
			Clock:     clk,
		})
		return store, func() { _ = rdb.Close() }, nil

	default:
		store := ratelimit.NewMemoryStore(cfg.RateLimit.Shards)
		go store.RunSweeper(ctx, cfg.RateLimit.SweepInterval, clk.Now)
		logger.Log.Warn("using in-process counters; limits are per node")
		return store, func() {}, nil
	}
}
