// Package server exposes the cache, the performance monitor and the
// progressive loader over HTTP.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"learnperf/internal/cache"
	"learnperf/internal/loader"
	"learnperf/internal/performance"
)

// Handler holds the HTTP handlers
type Handler struct {
	cache   *cache.Manager
	monitor *performance.Monitor
	loader  *loader.Manager
	lessons *loader.CachedSource
	now     func() time.Time
}

// NewHandler creates a new handler over the given components
func NewHandler(d Deps) *Handler {
	return &Handler{
		cache:   d.Cache,
		monitor: d.Monitor,
		loader:  d.Loader,
		lessons: d.Lessons,
		now:     time.Now,
	}
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"cache":  h.cache.Stats(),
	})
}

type monitorResponse struct {
	Timestamp       time.Time                `json:"timestamp"`
	Timeframe       string                   `json:"timeframe"`
	SystemHealth    performance.SystemHealth `json:"system_health"`
	Performance     performanceSection       `json:"performance"`
	Optimization    optimizationSection      `json:"optimization"`
	Recommendations []string                 `json:"recommendations"`
}

type performanceSection struct {
	Stats      performance.Stats       `json:"stats"`
	Alerts     []performance.Alert     `json:"alerts"`
	Thresholds *performance.Thresholds `json:"thresholds,omitempty"`
}

type optimizationSection struct {
	Cache    cache.Stats        `json:"cache"`
	Memory   *cache.MemoryStats `json:"memory,omitempty"`
	Loading  loader.Stats       `json:"loading"`
	Sessions []loader.Session   `json:"sessions,omitempty"`
}

// Monitor handles GET /v1/performance/monitor
func (h *Handler) Monitor(c echo.Context) error {
	ctx := c.Request().Context()
	window := parseTimeframe(c.QueryParam("timeframe"))

	health := h.monitor.SystemHealth(ctx)
	stats := h.monitor.PerformanceStats(window)
	cacheStats := h.cache.Stats()

	resp := monitorResponse{
		Timestamp:    h.now(),
		Timeframe:    window.String(),
		SystemHealth: health,
		Performance: performanceSection{
			Stats:  stats,
			Alerts: nonNil(h.monitor.ActiveAlerts()),
		},
		Optimization: optimizationSection{
			Cache:   cacheStats,
			Loading: h.loader.Stats(),
		},
		Recommendations: h.monitor.Recommendations(health, stats, cacheStats),
	}

	if c.QueryParam("details") == "true" {
		th := h.monitor.Thresholds()
		mem := h.cache.Memory().Stats()
		resp.Performance.Thresholds = &th
		resp.Optimization.Memory = &mem
		resp.Optimization.Sessions = h.loader.Sessions()
	}

	return c.JSON(http.StatusOK, resp)
}

// PerformanceStats handles GET /v1/performance/stats
func (h *Handler) PerformanceStats(c echo.Context) error {
	window := parseTimeframe(c.QueryParam("timeframe"))
	return c.JSON(http.StatusOK, map[string]any{
		"timeframe": window.String(),
		"stats":     h.monitor.PerformanceStats(window),
	})
}

// Alerts handles GET /v1/performance/alerts
func (h *Handler) Alerts(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"alerts": nonNil(h.monitor.ActiveAlerts()),
	})
}

// ResolveAlert handles PUT /v1/performance/alerts/:id/resolve
func (h *Handler) ResolveAlert(c echo.Context) error {
	id := c.Param("id")
	if !h.monitor.ResolveAlert(c.Request().Context(), id) {
		return handleError(c, notFound("alert not found"))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Alert resolved successfully",
	})
}

// Thresholds handles GET /v1/performance/thresholds
func (h *Handler) Thresholds(c echo.Context) error {
	return c.JSON(http.StatusOK, h.monitor.Thresholds())
}

// UpdateThresholds handles POST /v1/performance/thresholds
func (h *Handler) UpdateThresholds(c echo.Context) error {
	var patch performance.ThresholdsPatch
	if err := c.Bind(&patch); err != nil {
		return handleError(c, invalidRequest("invalid request body", err))
	}
	if err := validatePatch(patch); err != nil {
		return handleError(c, invalidRequest("invalid thresholds", err))
	}
	return c.JSON(http.StatusOK, h.monitor.UpdateThresholds(patch))
}

func validatePatch(p performance.ThresholdsPatch) error {
	var errs []error
	if p.ResponseTimeMs != nil && *p.ResponseTimeMs < 0 {
		errs = append(errs, errors.New("response_time_ms must not be negative"))
	}
	rates := []struct {
		name string
		v    *float64
	}{
		{"memory_usage", p.MemoryUsage},
		{"error_rate", p.ErrorRate},
		{"cache_miss_rate", p.CacheMissRate},
	}
	for _, r := range rates {
		if r.v != nil && (*r.v < 0 || *r.v > 1) {
			errs = append(errs, fmt.Errorf("%s must be within [0, 1]", r.name))
		}
	}
	return errors.Join(errs...)
}

// CacheStats handles GET /v1/cache/stats
func (h *Handler) CacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"stats":  h.cache.Stats(),
		"memory": h.cache.Memory().Stats(),
	})
}

// ReconnectCache handles POST /v1/cache/reconnect
func (h *Handler) ReconnectCache(c echo.Context) error {
	ok := h.cache.ReconnectRemote(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]any{
		"reconnected": ok,
		"stats":       h.cache.Stats(),
	})
}

type invalidateRequest struct {
	Pattern string `json:"pattern"`
}

// InvalidateCache handles POST /v1/cache/invalidate
func (h *Handler) InvalidateCache(c echo.Context) error {
	var req invalidateRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, invalidRequest("invalid request body", err))
	}
	if strings.TrimSpace(req.Pattern) == "" {
		return handleError(c, invalidRequest("pattern is required", nil))
	}
	deleted := h.cache.InvalidatePattern(c.Request().Context(), req.Pattern)
	return c.JSON(http.StatusOK, map[string]any{
		"pattern": req.Pattern,
		"deleted": deleted,
	})
}

// PutLessonContent handles PUT /v1/lessons/:id/content
func (h *Handler) PutLessonContent(c echo.Context) error {
	var content loader.Content
	if err := c.Bind(&content); err != nil {
		return handleError(c, invalidRequest("invalid request body", err))
	}
	id := c.Param("id")
	if err := h.lessons.PutLessonContent(c.Request().Context(), id, content); err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"lesson_id": id,
		"blocks":    len(content.Blocks),
	})
}

// GetLessonContent handles GET /v1/lessons/:id/content. The X-Cache header
// reports whether the content was served from the cache.
func (h *Handler) GetLessonContent(c echo.Context) error {
	content, cached, err := h.lessons.Lookup(c.Request().Context(), c.Param("id"))
	status := "MISS"
	if cached {
		status = "HIT"
	}
	c.Response().Header().Set(performance.HeaderCache, status)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, content)
}

type sessionConfig struct {
	Priority      string `json:"priority"`
	Preload       *bool  `json:"preload"`
	Lazy          *bool  `json:"lazy"`
	ChunkSize     int    `json:"chunk_size"`
	MaxConcurrent int    `json:"max_concurrent"`
	RetryAttempts *int   `json:"retry_attempts"`
	RetryDelayMs  int    `json:"retry_delay_ms"`
	TimeoutMs     int    `json:"timeout_ms"`
}

// toConfig starts from the default session configuration. An unset timeout
// is left to the loader's own default.
func (r *sessionConfig) toConfig() (*loader.Config, error) {
	if r == nil {
		return nil, nil
	}
	if r.ChunkSize < 0 || r.MaxConcurrent < 0 || r.RetryDelayMs < 0 || r.TimeoutMs < 0 ||
		(r.RetryAttempts != nil && *r.RetryAttempts < 0) {
		return nil, errors.New("numeric settings must not be negative")
	}
	level, err := loader.ParsePriorityLevel(r.Priority)
	if err != nil {
		return nil, err
	}

	cfg := loader.DefaultConfig()
	cfg.Priority = level
	if r.Preload != nil {
		cfg.Preload = *r.Preload
	}
	if r.Lazy != nil {
		cfg.Lazy = *r.Lazy
	}
	if r.ChunkSize > 0 {
		cfg.ChunkSize = r.ChunkSize
	}
	if r.MaxConcurrent > 0 {
		cfg.MaxConcurrent = r.MaxConcurrent
	}
	if r.RetryAttempts != nil {
		cfg.RetryAttempts = *r.RetryAttempts
	}
	if r.RetryDelayMs > 0 {
		cfg.RetryDelay = time.Duration(r.RetryDelayMs) * time.Millisecond
	}
	cfg.Timeout = time.Duration(r.TimeoutMs) * time.Millisecond
	return &cfg, nil
}

type createSessionRequest struct {
	LessonID string         `json:"lesson_id"`
	Content  loader.Content `json:"content"`
	Config   *sessionConfig `json:"config"`
}

// CreateSession handles POST /v1/loader/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, invalidRequest("invalid request body", err))
	}
	if strings.TrimSpace(req.LessonID) == "" {
		return handleError(c, invalidRequest("lesson_id is required", nil))
	}
	cfg, err := req.Config.toConfig()
	if err != nil {
		return handleError(c, invalidRequest("invalid config", err))
	}

	id, err := h.loader.InitializeSession(req.LessonID, req.Content, cfg)
	if err != nil {
		return handleError(c, err)
	}
	s, _ := h.loader.SessionStatus(id)
	return c.JSON(http.StatusCreated, s)
}

// ListSessions handles GET /v1/loader/sessions
func (h *Handler) ListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"sessions": h.loader.Sessions(),
	})
}

// GetSession handles GET /v1/loader/sessions/:id
func (h *Handler) GetSession(c echo.Context) error {
	s, ok := h.loader.SessionStatus(c.Param("id"))
	if !ok {
		return handleError(c, loader.ErrSessionNotFound)
	}
	return c.JSON(http.StatusOK, s)
}

// sessionAction wraps a session transition and answers with the session.
func (h *Handler) sessionAction(fn func(id string) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if err := fn(id); err != nil {
			return handleError(c, err)
		}
		s, ok := h.loader.SessionStatus(id)
		if !ok {
			return handleError(c, loader.ErrSessionNotFound)
		}
		return c.JSON(http.StatusOK, s)
	}
}

type preloadRequest struct {
	LessonID string `json:"lesson_id"`
	Priority string `json:"priority"`
}

// Preload handles POST /v1/loader/preload
func (h *Handler) Preload(c echo.Context) error {
	var req preloadRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, invalidRequest("invalid request body", err))
	}
	if strings.TrimSpace(req.LessonID) == "" {
		return handleError(c, invalidRequest("lesson_id is required", nil))
	}
	level, err := loader.ParsePriorityLevel(req.Priority)
	if err != nil {
		return handleError(c, invalidRequest("invalid priority", err))
	}

	id, err := h.loader.PreloadContent(c.Request().Context(), req.LessonID, level)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{"session_id": id})
}

// LoaderStats handles GET /v1/loader/stats
func (h *Handler) LoaderStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.loader.Stats())
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
