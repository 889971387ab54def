package middleware

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/reader-gateway/internal/model"
	"github.com/jmehdipour/reader-gateway/internal/repository"
	"github.com/jmehdipour/reader-gateway/internal/service/gatekeeper"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

const ctxAccount = "account"

// APIKeyFromRequest reads "Authorization: Bearer <key>", falling back to
// the X-API-Key header.
func APIKeyFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, key, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(key)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// AccountFromCtx returns the account stored by APIKeyMiddleware.
func AccountFromCtx(c echo.Context) (model.Account, bool) {
	a, ok := c.Get(ctxAccount).(model.Account)
	return a, ok
}

// APIKeyMiddleware authenticates the read-only account endpoints. The
// extraction endpoint authenticates inside the gatekeeper instead.
func APIKeyMiddleware(accounts repository.AccountsRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := APIKeyFromRequest(c.Request())
			if key == "" {
				return ErrorJSON(c, gatekeeper.CodeInvalidAPIKey, "missing API key")
			}
			a, err := accounts.GetByAPIKey(c.Request().Context(), key)
			if err != nil {
				log.Errorf("account lookup failed: %v", err)
				return ErrorJSON(c, gatekeeper.CodeUnavailable, "account store unavailable")
			}
			if a == nil {
				return ErrorJSON(c, gatekeeper.CodeInvalidAPIKey, "invalid API key")
			}
			if !a.Active() {
				return ErrorJSON(c, gatekeeper.CodeAPIKeyDisabled, "API key is disabled")
			}
			c.Set(ctxAccount, *a)
			return next(c)
		}
	}
}
