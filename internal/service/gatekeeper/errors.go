package gatekeeper

import (
	"fmt"
	"net/http"
)

// Code is the machine-readable error code returned to callers.
type Code string

const (
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeInvalidAPIKey  Code = "INVALID_API_KEY"
	CodeAPIKeyDisabled Code = "API_KEY_DISABLED"
	CodeInternalConfig Code = "INTERNAL_CONFIG_ERROR"
	CodeRateLimited    Code = "RATE_LIMIT_EXCEEDED"
	CodeUnavailable    Code = "SERVICE_UNAVAILABLE"
	CodeFetchTimeout   Code = "FETCH_TIMEOUT"
	CodeFetchFailed    Code = "FETCH_FAILED"
)

func (c Code) Status() int {
	switch c {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeInvalidAPIKey:
		return http.StatusUnauthorized
	case CodeAPIKeyDisabled:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeFetchTimeout:
		return http.StatusGatewayTimeout
	case CodeFetchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Billable reports whether a request ending with this code is charged.
// Only successful extractions are billed, so no error code is.
func (c Code) Billable() bool { return false }

// Retryable reports whether the same request may succeed later unchanged.
func (c Code) Retryable() bool {
	switch c {
	case CodeRateLimited, CodeUnavailable, CodeFetchTimeout, CodeFetchFailed:
		return true
	default:
		return false
	}
}

// Error is the only error type Handle returns.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func newError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Status() int     { return e.Code.Status() }
func (e *Error) Billable() bool  { return e.Code.Billable() }
func (e *Error) Retryable() bool { return e.Code.Retryable() }
