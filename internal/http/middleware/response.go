package middleware

import (
	"github.com/jmehdipour/reader-gateway/internal/service/gatekeeper"
	echo "github.com/labstack/echo/v4"
)

type ErrorDetail struct {
	Code     gatekeeper.Code `json:"code"`
	Message  string          `json:"message"`
	Billable bool            `json:"billable"`
}

type ErrorBody struct {
	Success   bool        `json:"success"`
	RequestID string      `json:"request_id,omitempty"`
	Error     ErrorDetail `json:"error"`
}

// ErrorJSON writes the uniform error body. The HTTP status follows the code.
func ErrorJSON(c echo.Context, code gatekeeper.Code, msg string) error {
	return c.JSON(code.Status(), ErrorBody{
		RequestID: RequestIDFromCtx(c),
		Error: ErrorDetail{
			Code:     code,
			Message:  msg,
			Billable: code.Billable(),
		},
	})
}
