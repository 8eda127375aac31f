package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"learnperf/internal/cache"
	"learnperf/internal/loader"
	"learnperf/internal/performance"
)

// DefaultBodySizeLimit applies when Config.BodySizeLimit is empty.
const DefaultBodySizeLimit = "4M"

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MasterKey       string // Optional: Master key for authentication
	MetricsEnabled  bool   // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string // HTTP path for metrics endpoint (default: /metrics)
	BodySizeLimit   string // Max request body size in echo syntax (default: 4M)
}

// Deps are the components served over HTTP.
type Deps struct {
	Cache   *cache.Manager
	Monitor *performance.Monitor
	Loader  *loader.Manager
	Lessons *loader.CachedSource
}

// New creates a new HTTP server
func New(deps Deps, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(deps)

	authSkipPaths := []string{"/health"}
	metricsPath := "/metrics"
	if cfg.MetricsEnabled {
		if cfg.MetricsEndpoint != "" {
			// Normalize path to prevent traversal attacks
			metricsPath = path.Clean(cfg.MetricsEndpoint)
		}
		authSkipPaths = append(authSkipPaths, metricsPath)
	}

	bodySizeLimit := cfg.BodySizeLimit
	if bodySizeLimit == "" {
		bodySizeLimit = DefaultBodySizeLimit
	}

	// Global middleware stack (order matters)
	e.Use(requestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(bodySizeLimit))
	e.Use(performance.Middleware(deps.Monitor))
	if cfg.MasterKey != "" {
		e.Use(AuthMiddleware(cfg.MasterKey, authSkipPaths))
	}

	// Public routes
	e.GET("/health", handler.Health)
	if cfg.MetricsEnabled {
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	v1 := e.Group("/v1")

	perf := v1.Group("/performance")
	perf.GET("/monitor", handler.Monitor)
	perf.GET("/stats", handler.PerformanceStats)
	perf.GET("/alerts", handler.Alerts)
	perf.PUT("/alerts/:id/resolve", handler.ResolveAlert)
	perf.GET("/thresholds", handler.Thresholds)
	perf.POST("/thresholds", handler.UpdateThresholds)

	c := v1.Group("/cache")
	c.GET("/stats", handler.CacheStats)
	c.POST("/reconnect", handler.ReconnectCache)
	c.POST("/invalidate", handler.InvalidateCache)

	v1.PUT("/lessons/:id/content", handler.PutLessonContent)
	v1.GET("/lessons/:id/content", handler.GetLessonContent)

	ld := v1.Group("/loader")
	ld.POST("/sessions", handler.CreateSession)
	ld.GET("/sessions", handler.ListSessions)
	ld.GET("/sessions/:id", handler.GetSession)
	ld.POST("/sessions/:id/start", handler.sessionAction(deps.Loader.StartLoading))
	ld.POST("/sessions/:id/pause", handler.sessionAction(deps.Loader.PauseSession))
	ld.POST("/sessions/:id/resume", handler.sessionAction(deps.Loader.ResumeSession))
	ld.POST("/sessions/:id/cancel", handler.sessionAction(deps.Loader.CancelSession))
	ld.POST("/preload", handler.Preload)
	ld.GET("/stats", handler.LoaderStats)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			slog.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
