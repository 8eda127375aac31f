// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the learnperf server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"learnperf/config"
	"learnperf/internal/cache"
	"learnperf/internal/httpclient"
	"learnperf/internal/lessonstore"
	"learnperf/internal/loader"
	"learnperf/internal/performance"
	"learnperf/internal/server"
	"learnperf/internal/storage"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config  *config.Config
	cache   *cache.Manager
	storage storage.Storage
	monitor *performance.Monitor
	lessons *loader.CachedSource
	loader  *loader.Manager
	server  *server.Server

	stopLoops chan struct{}
	loops     sync.WaitGroup

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig holds the loaded application configuration produced by config.Load.
	AppConfig *config.LoadResult
}

// New creates a new App with all dependencies initialized and the
// background cleanup loops running. The caller must call Shutdown to
// release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if cfg.AppConfig.Config == nil {
		return nil, fmt.Errorf("app config contains nil Config")
	}

	appCfg := cfg.AppConfig.Config
	app := &App{
		config:    appCfg,
		stopLoops: make(chan struct{}),
	}

	remote := cache.NewRedisCache(cache.RedisConfig{
		URL:         appCfg.Redis.URL,
		Host:        appCfg.Redis.Host,
		Port:        appCfg.Redis.Port,
		Password:    appCfg.Redis.Password,
		DB:          appCfg.Redis.DB,
		KeyPrefix:   appCfg.Redis.KeyPrefix,
		Environment: appCfg.Redis.Environment,
		BuildMode:   appCfg.Redis.BuildMode,
		DialTimeout: appCfg.Redis.DialTimeout,
	})
	var tier cache.Remote
	if remote.Configured() {
		tier = remote
	}
	memory := cache.NewMemoryCache(cache.MemoryOptions{
		MaxSize:       appCfg.Cache.MemoryMaxSize,
		SweepInterval: appCfg.Cache.SweepInterval,
	})
	app.cache = cache.NewManager(ctx, tier, memory, cache.ManagerOptions{
		ReconnectInterval: appCfg.Cache.ReconnectInterval,
		ProbeTimeout:      appCfg.Cache.ProbeTimeout,
	})

	var lessonStore loader.LessonStore
	if t := appCfg.Storage.Type; t != "" && t != storage.TypeNone {
		st, err := storage.New(ctx, buildStorageConfig(appCfg.Storage))
		if err != nil {
			closeErr := app.cache.Close()
			if closeErr != nil {
				return nil, fmt.Errorf("failed to initialize storage: %w (also: cache close error: %v)", err, closeErr)
			}
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		lessonStore, err = lessonstore.New(st)
		if err != nil {
			closeErr := errors.Join(st.Close(), app.cache.Close())
			if closeErr != nil {
				return nil, fmt.Errorf("failed to initialize lesson store: %w (also: close error: %v)", err, closeErr)
			}
			return nil, fmt.Errorf("failed to initialize lesson store: %w", err)
		}
		app.storage = st
	}

	th := performance.Thresholds(appCfg.Monitor.Thresholds)
	app.monitor = performance.New(app.cache, performance.Options{
		WindowSize: appCfg.Monitor.WindowSize,
		MaxAlerts:  appCfg.Monitor.MaxAlerts,
		Thresholds: &th,
		SinkBuffer: appCfg.Monitor.SinkBuffer,
	})

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = appCfg.Loader.HTTPTimeout
	app.lessons = loader.NewCachedSource(app.cache, lessonStore)
	app.loader = loader.New(app.cache, loader.NewHTTPFetcher(httpclient.NewHTTPClient(&httpCfg)), loader.Options{
		MaxConcurrent: appCfg.Loader.MaxConcurrent,
		Retention:     appCfg.Loader.SessionRetention,
		ChunkTimeout:  appCfg.Loader.ChunkTimeout,
		Source:        app.lessons,
	})

	app.logStartupInfo()

	app.server = server.New(server.Deps{
		Cache:   app.cache,
		Monitor: app.monitor,
		Loader:  app.loader,
		Lessons: app.lessons,
	}, &server.Config{
		MasterKey:       appCfg.Server.MasterKey,
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		BodySizeLimit:   appCfg.Server.BodySizeLimit,
	})

	app.startLoops()
	return app, nil
}

func (a *App) startLoops() {
	a.loops.Add(2)
	go func() {
		defer a.loops.Done()
		performance.RunCleanupLoop(a.stopLoops, a.config.Monitor.CleanupInterval, a.monitor.Cleanup)
	}()
	go func() {
		defer a.loops.Done()
		a.loader.RunCleanupLoop(a.stopLoops, a.config.Loader.CleanupInterval)
	}()
}

// Cache returns the cache manager.
func (a *App) Cache() *cache.Manager { return a.cache }

// Monitor returns the performance monitor.
func (a *App) Monitor() *performance.Monitor { return a.monitor }

// Loader returns the progressive loader.
func (a *App) Loader() *loader.Manager { return a.loader }

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler { return a.server }

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order.
// Order:
// 1. HTTP server shutdown, honoring the passed context timeout/cancellation.
// 2. Cleanup loops stop.
// 3. Loader close (cancels in-flight chunk fetches).
// 4. Monitor close (flushes pending cache writes).
// 5. Cache manager close (stops the reconnect loop, closes both tiers).
// 6. Storage close.
//
// Shutdown is idempotent and safe for repeated calls; after the first call, subsequent calls are no-ops.
// It attempts every close step, aggregates failures, and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	close(a.stopLoops)
	a.loops.Wait()

	if a.loader != nil {
		if err := a.loader.Close(); err != nil {
			slog.Error("loader close error", "error", err)
			errs = append(errs, fmt.Errorf("loader close: %w", err))
		}
	}

	if a.monitor != nil {
		if err := a.monitor.Close(); err != nil {
			slog.Error("monitor close error", "error", err)
			errs = append(errs, fmt.Errorf("monitor close: %w", err))
		}
	}

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Error("cache close error", "error", err)
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}

	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			slog.Error("storage close error", "error", err)
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: LEARNPERF_MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set LEARNPERF_MASTER_KEY environment variable to secure the API")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	stats := a.cache.Stats()
	slog.Info("cache configured",
		"type", stats.Type,
		"state", stats.State,
		"memory_max_size", cfg.Cache.MemoryMaxSize,
		"reconnect_interval", cfg.Cache.ReconnectInterval,
	)

	if a.storage != nil {
		slog.Info("lesson storage configured", "type", a.storage.Type())
	} else {
		slog.Info("lesson storage disabled, lessons live in the cache only")
	}

	slog.Info("performance monitor configured",
		"window_size", cfg.Monitor.WindowSize,
		"response_time_ms", cfg.Monitor.Thresholds.ResponseTimeMs,
		"error_rate", cfg.Monitor.Thresholds.ErrorRate,
	)

	slog.Info("progressive loader configured",
		"max_concurrent", cfg.Loader.MaxConcurrent,
		"chunk_timeout", cfg.Loader.ChunkTimeout,
		"session_retention", cfg.Loader.SessionRetention,
	)
}

// buildStorageConfig overlays the application config on the storage defaults.
func buildStorageConfig(cfg config.StorageConfig) storage.Config {
	storageCfg := storage.DefaultConfig()
	storageCfg.Type = cfg.Type
	storageCfg.PostgreSQL.URL = cfg.PostgreSQL.URL
	storageCfg.MongoDB.URL = cfg.MongoDB.URL
	if cfg.SQLite.Path != "" {
		storageCfg.SQLite.Path = cfg.SQLite.Path
	}
	if cfg.PostgreSQL.MaxConns > 0 {
		storageCfg.PostgreSQL.MaxConns = cfg.PostgreSQL.MaxConns
	}
	if cfg.MongoDB.Database != "" {
		storageCfg.MongoDB.Database = cfg.MongoDB.Database
	}
	return storageCfg
}
