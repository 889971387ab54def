package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/model"
	"github.com/jmehdipour/reader-gateway/internal/ratelimit"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

const (
	HeaderLimitMinute     = "X-RateLimit-Limit-Minute"
	HeaderRemainingMinute = "X-RateLimit-Remaining-Minute"
	HeaderLimitDay        = "X-RateLimit-Limit-Day"
	HeaderRemainingDay    = "X-RateLimit-Remaining-Day"
	HeaderLimitMonth      = "X-RateLimit-Limit-Month"
	HeaderRemainingMonth  = "X-RateLimit-Remaining-Month"
	HeaderRetryAfter      = "Retry-After"
)

// SetQuotaHeaders renders a verdict as X-RateLimit-* headers. Unlimited
// windows are reported as -1 for both limit and remaining.
func SetQuotaHeaders(c echo.Context, v ratelimit.Verdict) {
	h := c.Response().Header()
	set := func(limitKey, remainingKey string, q ratelimit.Quota) {
		limit := q.Limit
		if limit == model.Unlimited {
			limit = -1
		}
		h.Set(limitKey, strconv.FormatInt(limit, 10))
		h.Set(remainingKey, strconv.FormatInt(q.Remaining, 10))
	}
	set(HeaderLimitMinute, HeaderRemainingMinute, v.Minute)
	set(HeaderLimitDay, HeaderRemainingDay, v.Day)
	set(HeaderLimitMonth, HeaderRemainingMonth, v.Month)

	if !v.Allowed && v.RetryAfter > 0 {
		h.Set(HeaderRetryAfter, strconv.FormatInt(RetryAfterSeconds(v.RetryAfter), 10))
	}
}

// RetryAfterSeconds rounds up so clients never retry inside the window.
func RetryAfterSeconds(d time.Duration) int64 {
	return int64((d + time.Second - 1) / time.Second)
}

// QuotaPeeker reports window usage without consuming budget.
type QuotaPeeker interface {
	Status(ctx context.Context, callerID string, tier model.Tier) (ratelimit.Verdict, error)
}

type TierResolver interface {
	Resolve(name string) (model.Tier, error)
}

// QuotaHeaders renders X-RateLimit-* on the authenticated read endpoints.
// It must run after APIKeyMiddleware. Headers are best effort: an unknown
// tier or an unreachable counter store leaves them off and the handler
// decides the response.
func QuotaHeaders(limiter QuotaPeeker, tiers TierResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			acct, ok := AccountFromCtx(c)
			if !ok {
				return next(c)
			}
			t, err := tiers.Resolve(acct.Tier)
			if err != nil {
				return next(c)
			}
			v, err := limiter.Status(c.Request().Context(), ratelimit.CallerID(acct.ID), t)
			if err != nil {
				log.Warnf("quota headers: account %d: %v", acct.ID, err)
				return next(c)
			}
			SetQuotaHeaders(c, v)
			return next(c)
		}
	}
}
