package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// Translator maps errors from lower layers onto structured errors. It returns
// the error unchanged when it has no mapping.
type Translator func(error) error

// Middleware returns an Echo middleware that turns handler errors into JSON
// error responses. translate and errorsTotal may be nil; errorsTotal is
// labeled by error type.
func Middleware(translate Translator, errorsTotal *prometheus.CounterVec) echo.MiddlewareFunc {
	record := func(t ErrorType) {
		if errorsTotal != nil {
			errorsTotal.WithLabelValues(string(t)).Inc()
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			// Echo's own errors (unknown route, wrong method) keep their status.
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				record(WrapHTTPError(httpErr).Type)
				return err
			}

			if translate != nil {
				err = translate(err)
			}
			structuredErr := AsStructuredError(err)
			record(structuredErr.Type)
			logError(c, structuredErr)

			if c.Response().Committed {
				return nil
			}
			if IsType(err, TypeUnauthorized) {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
			}
			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

// logError logs an error with request context.
func logError(c echo.Context, err *Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	if owner := c.Get("tokenOwner"); owner != nil {
		attrs = append(attrs, "token_owner", owner)
	}

	switch err.Type {
	case TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	case TypeUnauthorized, TypeForbidden:
		slog.WarnContext(ctx, "Access denied", attrs...)
	case TypeConflict:
		slog.WarnContext(ctx, "Conflict", attrs...)
	case TypePolicyDenied:
		slog.InfoContext(ctx, "Policy denied", attrs...)
	case TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}

// WrapHTTPError converts Echo's HTTPError to a structured error.
func WrapHTTPError(httpErr *echo.HTTPError) *Error {
	message := http.StatusText(httpErr.Code)
	if msg, ok := httpErr.Message.(string); ok && msg != "" {
		message = msg
	}

	var errType ErrorType
	switch httpErr.Code {
	case http.StatusBadRequest:
		errType = TypeValidation
	case http.StatusUnauthorized:
		errType = TypeUnauthorized
	case http.StatusForbidden:
		errType = TypeForbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		errType = TypeNotFound
	case http.StatusConflict:
		errType = TypeConflict
	case http.StatusTooManyRequests:
		errType = TypePolicyDenied
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		errType = TypeExternal
	default:
		errType = TypeInternal
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   httpErr.Internal,
		Context: make(map[string]any),
	}
}
