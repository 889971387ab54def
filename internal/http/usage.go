package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/http/middleware"
	"github.com/jmehdipour/reader-gateway/internal/repository"
	"github.com/jmehdipour/reader-gateway/internal/service/account"
	"github.com/jmehdipour/reader-gateway/internal/service/gatekeeper"
	"github.com/jmehdipour/reader-gateway/internal/tier"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// GET /v1/usage?month=YYYY-MM
func usageSummaryHandler(svc AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		acct, ok := middleware.AccountFromCtx(c)
		if !ok {
			return middleware.ErrorJSON(c, gatekeeper.CodeInvalidAPIKey, "unauthorized")
		}

		var month time.Time
		if raw := strings.TrimSpace(c.QueryParam("month")); raw != "" {
			m, err := time.Parse("2006-01", raw)
			if err != nil {
				return middleware.ErrorJSON(c, gatekeeper.CodeInvalidRequest, "month must be YYYY-MM")
			}
			month = m
		}

		sum, err := svc.Summary(c.Request().Context(), acct, month)
		if err != nil {
			return serviceError(c, "usage summary", err)
		}
		return c.JSON(http.StatusOK, sum)
	}
}

// GET /v1/usage/history?limit=&cursor=
func usageHistoryHandler(svc AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		acct, ok := middleware.AccountFromCtx(c)
		if !ok {
			return middleware.ErrorJSON(c, gatekeeper.CodeInvalidAPIKey, "unauthorized")
		}

		limit := repository.DefaultHistoryLimit
		if v := c.QueryParam("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > repository.MaxHistoryLimit {
				return middleware.ErrorJSON(c, gatekeeper.CodeInvalidRequest,
					"limit must be between 1 and "+strconv.Itoa(repository.MaxHistoryLimit))
			}
			limit = n
		}

		page, err := svc.History(c.Request().Context(), acct, limit, strings.TrimSpace(c.QueryParam("cursor")))
		if errors.Is(err, repository.ErrInvalidCursor) {
			return middleware.ErrorJSON(c, gatekeeper.CodeInvalidRequest, "invalid cursor")
		}
		if err != nil {
			return serviceError(c, "usage history", err)
		}
		return c.JSON(http.StatusOK, page)
	}
}

// GET /v1/usage/daily?days=
func usageDailyHandler(svc AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		acct, ok := middleware.AccountFromCtx(c)
		if !ok {
			return middleware.ErrorJSON(c, gatekeeper.CodeInvalidAPIKey, "unauthorized")
		}

		days := account.DefaultDailyDays
		if v := c.QueryParam("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return middleware.ErrorJSON(c, gatekeeper.CodeInvalidRequest, "days must be a positive integer")
			}
			days = account.ClampDays(n)
		}

		rows, err := svc.Daily(c.Request().Context(), acct, days)
		if err != nil {
			return serviceError(c, "daily usage", err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"days":    days,
			"results": rows,
		})
	}
}

func serviceError(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, tier.ErrUnknownTier):
		log.Errorf("%s: %v", op, err)
		return middleware.ErrorJSON(c, gatekeeper.CodeInternalConfig, "account tier is not configured")
	case errors.Is(err, account.ErrDailyUnavailable):
		return middleware.ErrorJSON(c, gatekeeper.CodeUnavailable, err.Error())
	default:
		log.Errorf("%s failed: %v", op, err)
		return middleware.ErrorJSON(c, gatekeeper.CodeUnavailable, op+" failed")
	}
}
