package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnperf/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: "0"},
		Metrics: config.MetricsConfig{Enabled: true, Endpoint: "/metrics"},
		Redis:   config.RedisConfig{Environment: "production", KeyPrefix: "learnperf:"},
		Cache: config.CacheConfig{
			MemoryMaxSize:     100,
			SweepInterval:     time.Minute,
			ReconnectInterval: time.Minute,
			ProbeTimeout:      time.Second,
		},
		Monitor: config.MonitorConfig{
			WindowSize: 100,
			MaxAlerts:  10,
			Thresholds: config.ThresholdsConfig{
				ResponseTimeMs: 2000,
				MemoryUsage:    0.99,
				ErrorRate:      0.05,
				CacheMissRate:  0.3,
			},
			CleanupInterval: time.Hour,
		},
		Loader: config.LoaderConfig{
			MaxConcurrent:    2,
			ChunkTimeout:     time.Second,
			CleanupInterval:  time.Hour,
			SessionRetention: time.Hour,
			HTTPTimeout:      5 * time.Second,
		},
		Storage: config.StorageConfig{Type: "none"},
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)

	_, err = New(context.Background(), Config{AppConfig: &config.LoadResult{}})
	require.Error(t, err)
}

func TestNew_MemoryOnly(t *testing.T) {
	a, err := New(context.Background(), Config{AppConfig: &config.LoadResult{Config: testConfig()}})
	require.NoError(t, err)

	stats := a.Cache().Stats()
	assert.Equal(t, "memory", stats.Type)
	assert.Equal(t, 100, stats.MaxSize)
	assert.Equal(t, 0.05, a.Monitor().Thresholds().ErrorRate)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, a.Shutdown(context.Background()))
	require.NoError(t, a.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestNew_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Redis.URL = "redis://" + mr.Addr()
	a, err := New(context.Background(), Config{AppConfig: &config.LoadResult{Config: cfg}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	assert.Equal(t, "redis", a.Cache().Stats().Type)

	ctx := context.Background()
	require.True(t, a.Cache().Set(ctx, "probe", "v", time.Minute))
	assert.True(t, mr.Exists("learnperf:probe"))
}

func TestNew_WithSQLiteStorage(t *testing.T) {
	cfg := testConfig()
	cfg.Storage = config.StorageConfig{
		Type:   "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "lessons.db")},
	}
	a, err := New(context.Background(), Config{AppConfig: &config.LoadResult{Config: cfg}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	body := `{"blocks":[{"kind":"text","text":"hello"}]}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/v1/lessons/lesson-1/content", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Evicting the cached copy forces a read from the database.
	require.Equal(t, 1, a.Cache().InvalidatePattern(context.Background(), "lesson:*"))

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/lessons/lesson-1/content", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Contains(t, rec.Body.String(), "hello")
}

func TestNew_StorageFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Storage = config.StorageConfig{Type: "postgresql"}
	_, err := New(context.Background(), Config{AppConfig: &config.LoadResult{Config: cfg}})
	require.ErrorContains(t, err, "failed to initialize storage")
}

func TestBuildStorageConfig(t *testing.T) {
	got := buildStorageConfig(config.StorageConfig{Type: "mongodb", MongoDB: config.MongoDBConfig{URL: "mongodb://db:27017"}})
	assert.Equal(t, "mongodb", got.Type)
	assert.Equal(t, "mongodb://db:27017", got.MongoDB.URL)
	assert.Equal(t, "learnperf", got.MongoDB.Database)
	assert.Equal(t, "data/learnperf.db", got.SQLite.Path)
	assert.Equal(t, 10, got.PostgreSQL.MaxConns)
}
