package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"learnperf/internal/loader"
)

// apiError is an error with a fixed HTTP status and error type.
type apiError struct {
	status  int
	typ     string
	message string
	err     error
}

func (e *apiError) Error() string {
	if e.err != nil {
		return e.message + ": " + e.err.Error()
	}
	return e.message
}

func (e *apiError) Unwrap() error { return e.err }

func invalidRequest(msg string, err error) *apiError {
	return &apiError{status: http.StatusBadRequest, typ: "invalid_request_error", message: msg, err: err}
}

func notFound(msg string) *apiError {
	return &apiError{status: http.StatusNotFound, typ: "not_found_error", message: msg}
}

func errorBody(typ, msg string) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":    typ,
			"message": msg,
		},
	}
}

// handleError converts errors to JSON responses of the form
// {"error":{"type":...,"message":...}}.
func handleError(c echo.Context, err error) error {
	var ae *apiError
	if errors.As(err, &ae) {
		msg := ae.message
		if ae.err != nil && ae.status < http.StatusInternalServerError {
			msg = ae.Error()
		}
		return c.JSON(ae.status, errorBody(ae.typ, msg))
	}

	switch {
	case errors.Is(err, loader.ErrInvalidContent):
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request_error", err.Error()))
	case errors.Is(err, loader.ErrSessionNotFound), errors.Is(err, loader.ErrLessonNotFound):
		return c.JSON(http.StatusNotFound, errorBody("not_found_error", err.Error()))
	case errors.Is(err, loader.ErrInvalidState):
		return c.JSON(http.StatusConflict, errorBody("conflict_error", err.Error()))
	case errors.Is(err, loader.ErrNoContentSource), errors.Is(err, loader.ErrClosed):
		return c.JSON(http.StatusServiceUnavailable, errorBody("unavailable_error", err.Error()))
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		return c.JSON(he.Code, errorBody("http_error", msg))
	}

	slog.Error("unhandled request error", "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, errorBody("internal_error", "an unexpected error occurred"))
}
