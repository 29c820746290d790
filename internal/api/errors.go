package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tsanders-rh/gpuctl/internal/provider"
	"github.com/tsanders-rh/gpuctl/internal/store"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewErrorResponse creates a new error response
func NewErrorResponse(error, message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   error,
		Message: message,
	}
}

// ErrorBadRequest returns a 400 Bad Request error
func ErrorBadRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", message))
}

// ErrorConflict returns a conflict error. Conflicts surface as 400 so the
// web client has a single validation-failure path.
func ErrorConflict(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, NewErrorResponse("conflict", message))
}

// ErrorUnauthorized returns a 401 Unauthorized error
func ErrorUnauthorized(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", message))
}

// ErrorForbidden returns a 403 Forbidden error
func ErrorForbidden(c echo.Context, message string) error {
	return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", message))
}

// ErrorQuotaExhausted returns a 403 for insufficient quota
func ErrorQuotaExhausted(c echo.Context, message string) error {
	return c.JSON(http.StatusForbidden, NewErrorResponse("quota_exhausted", message))
}

// ErrorNotFound returns a 404 Not Found error
func ErrorNotFound(c echo.Context, message string) error {
	return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", message))
}

// ErrorInternal returns a 500 Internal Server Error
func ErrorInternal(c echo.Context, message string) error {
	return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", message))
}

// httpErrorHandler renders middleware and binding errors in the same
// {"error", "message"} shape the handlers use
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "internal error"

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		}
	}

	_ = c.JSON(code, NewErrorResponse(errorToken(code), message))
}

func errorToken(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	default:
		return "internal_error"
	}
}

// ErrorFrom maps store and provider errors to HTTP responses without leaking
// raw upstream text
func ErrorFrom(c echo.Context, err error, context string) error {
	if err == store.ErrNotFound {
		return ErrorNotFound(c, context+" not found")
	}

	switch provider.ErrKind(err) {
	case provider.KindNotFound:
		return ErrorNotFound(c, context+" not found")
	case provider.KindConflict:
		return ErrorConflict(c, context+" already exists")
	case provider.KindValidation, provider.KindPermanent:
		return ErrorBadRequest(c, context+" rejected by provider")
	case provider.KindCapacity:
		return ErrorBadRequest(c, "no capacity available")
	default:
		return ErrorInternal(c, "Failed to "+context)
	}
}
