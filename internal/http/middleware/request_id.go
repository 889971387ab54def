package middleware

import (
	"regexp"

	"github.com/jmehdipour/reader-gateway/internal/service/gatekeeper"
	echo "github.com/labstack/echo/v4"
)

const (
	HeaderRequestID = "X-Request-ID"
	ctxRequestID    = "request_id"
)

var validRequestID = regexp.MustCompile(`^[A-Za-z0-9_\-]{8,64}$`)

// RequestID assigns every request an id, reusing a well-formed inbound
// X-Request-ID, and echoes it on the response.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(HeaderRequestID)
			if !validRequestID.MatchString(id) {
				id = gatekeeper.NewRequestID()
			}
			c.Set(ctxRequestID, id)
			c.Response().Header().Set(HeaderRequestID, id)
			return next(c)
		}
	}
}

func RequestIDFromCtx(c echo.Context) string {
	id, _ := c.Get(ctxRequestID).(string)
	return id
}
