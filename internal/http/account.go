package http

import (
	"net/http"

	"github.com/jmehdipour/reader-gateway/internal/http/middleware"
	"github.com/jmehdipour/reader-gateway/internal/service/gatekeeper"
	echo "github.com/labstack/echo/v4"
)

func accountHandler(svc AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		acct, ok := middleware.AccountFromCtx(c)
		if !ok {
			return middleware.ErrorJSON(c, gatekeeper.CodeInvalidAPIKey, "unauthorized")
		}

		st, err := svc.Status(c.Request().Context(), acct)
		if err != nil {
			return serviceError(c, "account status", err)
		}
		return c.JSON(http.StatusOK, st)
	}
}

func tiersHandler(svc AccountService) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"tiers": svc.Tiers(),
		})
	}
}
