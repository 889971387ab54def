package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/config"
	"github.com/jmehdipour/reader-gateway/internal/http/middleware"
	"github.com/jmehdipour/reader-gateway/internal/metrics"
	"github.com/jmehdipour/reader-gateway/internal/model"
	"github.com/jmehdipour/reader-gateway/internal/repository"
	"github.com/jmehdipour/reader-gateway/internal/service/account"
	"github.com/jmehdipour/reader-gateway/internal/service/gatekeeper"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Gatekeeper is the extraction pipeline behind POST /v1/extract.
type Gatekeeper interface {
	Handle(ctx context.Context, apiKey string, req gatekeeper.Request) (gatekeeper.Outcome, error)
}

// AccountService answers the read-only account and usage endpoints.
type AccountService interface {
	Status(ctx context.Context, acct model.Account) (account.Status, error)
	Summary(ctx context.Context, acct model.Account, month time.Time) (model.UsageSummary, error)
	History(ctx context.Context, acct model.Account, limit int, cursor string) (model.UsagePage, error)
	Daily(ctx context.Context, acct model.Account, days int) ([]model.DailyUsage, error)
	Tiers() []account.TierInfo
}

type Deps struct {
	Gatekeeper Gatekeeper
	Accounts   repository.AccountsRepository
	Account    AccountService
	Limiter    middleware.QuotaPeeker  // quota headers on the account endpoints
	Tiers      middleware.TierResolver // required with Limiter
	Logger     *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.Config, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLevel(cfg.Log.Level))
	e.Use(echoMid.Recover(), middleware.RequestID(), requestLogger(d.Logger))

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// routes
	v1 := e.Group("/v1")
	v1.POST("/extract", extractHandler(d.Gatekeeper))
	v1.GET("/tiers", tiersHandler(d.Account))

	authed := v1.Group("", middleware.APIKeyMiddleware(d.Accounts))
	if d.Limiter != nil && d.Tiers != nil {
		authed.Use(middleware.QuotaHeaders(d.Limiter, d.Tiers))
	}
	authed.GET("/account", accountHandler(d.Account))
	authed.GET("/usage", usageSummaryHandler(d.Account))
	authed.GET("/usage/history", usageHistoryHandler(d.Account))
	authed.GET("/usage/daily", usageDailyHandler(d.Account))

	return &Server{e: e, log: d.Logger}
}

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.e.ServeHTTP(w, r) }

func requestLogger(l *zap.Logger) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("request_id", middleware.RequestIDFromCtx(c)),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			l.Info("request", fields...)
			return nil
		},
	})
}

func echoLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}
