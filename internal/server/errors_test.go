package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnperf/internal/loader"
)

func TestHandleError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		typ     string
		message string
	}{
		{"invalid request", invalidRequest("bad", nil), http.StatusBadRequest, "invalid_request_error", "bad"},
		{"invalid request with cause", invalidRequest("bad", errors.New("cause")), http.StatusBadRequest, "invalid_request_error", "bad: cause"},
		{"not found", notFound("gone"), http.StatusNotFound, "not_found_error", "gone"},
		{"invalid content", fmt.Errorf("%w: no blocks", loader.ErrInvalidContent), http.StatusBadRequest, "invalid_request_error", ""},
		{"session not found", loader.ErrSessionNotFound, http.StatusNotFound, "not_found_error", ""},
		{"lesson not found", fmt.Errorf("resolve: %w", loader.ErrLessonNotFound), http.StatusNotFound, "not_found_error", ""},
		{"invalid state", fmt.Errorf("%w: paused", loader.ErrInvalidState), http.StatusConflict, "conflict_error", ""},
		{"no source", loader.ErrNoContentSource, http.StatusServiceUnavailable, "unavailable_error", ""},
		{"closed", loader.ErrClosed, http.StatusServiceUnavailable, "unavailable_error", ""},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed, "http_error", "nope"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error", "an unexpected error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			require.NoError(t, handleError(c, tt.err))
			assert.Equal(t, tt.status, rec.Code)

			body := decode(t, rec)["error"].(map[string]any)
			assert.Equal(t, tt.typ, body["type"])
			if tt.message != "" {
				assert.Equal(t, tt.message, body["message"])
			} else {
				assert.Equal(t, tt.err.Error(), body["message"])
			}
		})
	}
}

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"15m", 15 * time.Minute},
		{"1h", time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"", DefaultTimeframe},
		{"h", DefaultTimeframe},
		{"0m", DefaultTimeframe},
		{"-5m", DefaultTimeframe},
		{"5w", DefaultTimeframe},
		{"abc", DefaultTimeframe},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseTimeframe(tt.in))
		})
	}
}
