package performance

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// HeaderCache is set to "HIT" by handlers that answered from the cache.
const HeaderCache = "X-Cache"

// Track runs fn and records it on m. The sample is written even when fn
// fails or panics: an error is recorded as status 500 and returned
// unchanged, a panic is recorded as status 500 and re-raised.
// A zero status from a successful fn is recorded as 200.
func Track(ctx context.Context, m *Monitor, endpoint, method string, fn func(context.Context) (int, error)) (status int, err error) {
	start := m.now()
	recorded := http.StatusInternalServerError

	defer func() {
		r := recover()
		m.TrackRequest(ctx, RequestInfo{
			Endpoint:   endpoint,
			Method:     method,
			Start:      start,
			StatusCode: recorded,
		})
		if r != nil {
			panic(r)
		}
	}()

	status, err = fn(ctx)
	if err == nil {
		recorded = status
		if recorded == 0 {
			recorded = http.StatusOK
		}
	}
	return status, err
}

// Middleware records every request passing through an echo router.
// The route template is used as endpoint so that path parameters do not
// fragment the statistics. Requests answered with an X-Cache: HIT header
// count as cache hits.
func Middleware(m *Monitor) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			start := m.now()
			req := c.Request()

			requestID := req.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set("X-Request-ID", requestID)

			defer func() {
				r := recover()

				status := c.Response().Status
				switch {
				case r != nil:
					status = http.StatusInternalServerError
				case err != nil:
					status = errorStatus(err)
				}

				endpoint := c.Path()
				if endpoint == "" {
					endpoint = req.URL.Path
				}

				m.TrackRequest(req.Context(), RequestInfo{
					Endpoint:   endpoint,
					Method:     req.Method,
					Start:      start,
					StatusCode: status,
					CacheHit:   c.Response().Header().Get(HeaderCache) == "HIT",
					UserAgent:  req.UserAgent(),
					IP:         c.RealIP(),
				})
				if r != nil {
					panic(r)
				}
			}()

			return next(c)
		}
	}
}

func errorStatus(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
