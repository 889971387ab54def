package worker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/config"
	"github.com/jmehdipour/reader-gateway/internal/db"
	"github.com/jmehdipour/reader-gateway/internal/kafka"
	"github.com/jmehdipour/reader-gateway/internal/logger"
	"github.com/jmehdipour/reader-gateway/internal/metrics"
	"github.com/jmehdipour/reader-gateway/internal/repository"
	"github.com/jmehdipour/reader-gateway/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var metricsAddr string

var projectorCmd = &cobra.Command{
	Use:   "projector",
	Short: "Project usage events from Kafka into ClickHouse",
	RunE:  runProjector,
}

func init() {
	projectorCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9102", "listen address for /metrics (empty disables)")
}

func runProjector(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)
	log := logger.Named("projector")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2) analytics store
	chDB, err := db.NewClickHouse(ctx, cfg.ClickHouse)
	if err != nil {
		return fmt.Errorf("clickhouse connect: %w", err)
	}
	defer chDB.Close()

	// 3) kafka consumer; offsets are committed by the projector after each flush
	groupID := cfg.Projector.GroupID
	if groupID == "" {
		groupID = cfg.Kafka.GroupID + "-projector"
	}
	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Projector.Topic,
		GroupID:  groupID,
		MinBytes: cfg.Kafka.MinBytes,
		MaxBytes: cfg.Kafka.MaxBytes,
	})
	defer consumer.Close()

	p := worker.NewProjector(consumer, repository.NewCHUsageRepository(chDB), log)
	if cfg.Projector.BatchSize > 0 {
		p.BatchSize = cfg.Projector.BatchSize
	}
	if cfg.Projector.BatchWait > 0 {
		p.BatchWait = cfg.Projector.BatchWait
	}

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	log.Info("projector started",
		zap.String("topic", cfg.Projector.Topic),
		zap.String("group", groupID),
		zap.Int("batch_size", p.BatchSize),
		zap.Duration("batch_wait", p.BatchWait))

	return p.Run(ctx)
}
