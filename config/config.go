// Package config provides configuration management for the application.
//
// Values are resolved in layers: built-in defaults, then an optional YAML
// file (with ${VAR} and ${VAR:-default} expansion), then environment
// variables. A .env file in the working directory is loaded into the
// environment first and never overrides variables that are already set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LogConfig     `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Redis   RedisConfig   `yaml:"redis"`
	Cache   CacheConfig   `yaml:"cache"`
	Monitor MonitorConfig `yaml:"monitor"`
	Loader  LoaderConfig  `yaml:"loader"`
	Storage StorageConfig `yaml:"storage"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`

	// MasterKey protects every route except /health and the metrics
	// endpoint. Empty disables authentication.
	MasterKey string `yaml:"master_key"`

	// BodySizeLimit uses echo's size syntax, e.g. "4M".
	BodySizeLimit string `yaml:"body_size_limit"`
}

// LogConfig holds slog handler settings
type LogConfig struct {
	// Format is "auto", "json" or "pretty".
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// RedisConfig holds the remote cache tier settings
type RedisConfig struct {
	URL         string        `yaml:"url"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	KeyPrefix   string        `yaml:"key_prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Environment string        `yaml:"environment"`
	BuildMode   bool          `yaml:"build_mode"`
}

// CacheConfig holds memory tier and failover settings
type CacheConfig struct {
	MemoryMaxSize     int           `yaml:"memory_max_size"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
}

// ThresholdsConfig mirrors the monitor's alert thresholds
type ThresholdsConfig struct {
	ResponseTimeMs float64 `yaml:"response_time_ms"`
	MemoryUsage    float64 `yaml:"memory_usage"`
	ErrorRate      float64 `yaml:"error_rate"`
	CacheMissRate  float64 `yaml:"cache_miss_rate"`
}

// MonitorConfig holds performance monitor settings
type MonitorConfig struct {
	WindowSize      int              `yaml:"window_size"`
	MaxAlerts       int              `yaml:"max_alerts"`
	Thresholds      ThresholdsConfig `yaml:"thresholds"`
	CleanupInterval time.Duration    `yaml:"cleanup_interval"`
	SinkBuffer      int              `yaml:"sink_buffer"`
}

// LoaderConfig holds progressive loader settings
type LoaderConfig struct {
	MaxConcurrent    int           `yaml:"max_concurrent"`
	ChunkTimeout     time.Duration `yaml:"chunk_timeout"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	SessionRetention time.Duration `yaml:"session_retention"`
	HTTPTimeout      time.Duration `yaml:"http_timeout"`
}

// StorageConfig selects the database lesson content is persisted in.
type StorageConfig struct {
	// Type is "sqlite", "postgresql", "mongodb" or "none". With "none"
	// lesson content lives only in the cache.
	Type       string           `yaml:"type"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite-specific storage configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL-specific storage configuration
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB-specific storage configuration
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// LoadResult is what Load returns.
type LoadResult struct {
	Config *Config
	// File is the YAML file that was read, empty when none was found.
	File string
}

// configFiles are tried in order unless LEARNPERF_CONFIG names a file.
var configFiles = []string{"config.yaml", "config/config.yaml"}

// Load reads configuration from defaults, the YAML file and environment
func Load() (*LoadResult, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := buildDefaultConfig()
	result := &LoadResult{Config: cfg}

	path, err := findConfigFile()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
		result.File = path
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

func findConfigFile() (string, error) {
	if p := os.Getenv("LEARNPERF_CONFIG"); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("config file %s: %w", p, err)
		}
		return p, nil
	}
	for _, p := range configFiles {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

func loadYAML(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(expandString(string(raw))), cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// buildDefaultConfig returns the configuration used when nothing is set
func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "4M",
		},
		Logging: LogConfig{
			Format: "auto",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Redis: RedisConfig{
			KeyPrefix:   "learnperf:",
			DialTimeout: 5 * time.Second,
			Environment: "production",
		},
		Cache: CacheConfig{
			MemoryMaxSize:     1000,
			SweepInterval:     5 * time.Minute,
			ReconnectInterval: 30 * time.Second,
			ProbeTimeout:      5 * time.Second,
		},
		Monitor: MonitorConfig{
			WindowSize: 1000,
			MaxAlerts:  100,
			Thresholds: ThresholdsConfig{
				ResponseTimeMs: 2000,
				MemoryUsage:    0.8,
				ErrorRate:      0.05,
				CacheMissRate:  0.3,
			},
			CleanupInterval: time.Hour,
			SinkBuffer:      1000,
		},
		Loader: LoaderConfig{
			MaxConcurrent:    5,
			ChunkTimeout:     30 * time.Second,
			CleanupInterval:  time.Hour,
			SessionRetention: 24 * time.Hour,
			HTTPTimeout:      120 * time.Second,
		},
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLite:     SQLiteConfig{Path: "data/learnperf.db"},
			PostgreSQL: PostgreSQLConfig{MaxConns: 10},
			MongoDB:    MongoDBConfig{Database: "learnperf"},
		},
	}
}

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} with the variable's value and ${VAR:-def}
// with the value or def when the variable is unset or empty. A ${VAR}
// without a default whose variable is unset or empty is left as is.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := envPattern.FindStringSubmatch(m)
		if v := os.Getenv(sub[1]); v != "" {
			return v
		}
		if sub[2] != "" {
			return sub[3]
		}
		return m
	})
}

// applyEnvOverrides lets environment variables win over file values.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid number %q", key, v))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid boolean %q", key, v))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("PORT", &cfg.Server.Port)
	str("LEARNPERF_MASTER_KEY", &cfg.Server.MasterKey)
	str("BODY_SIZE_LIMIT", &cfg.Server.BodySizeLimit)

	str("LOG_FORMAT", &cfg.Logging.Format)
	str("LOG_LEVEL", &cfg.Logging.Level)

	boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)
	str("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)

	str("REDIS_URL", &cfg.Redis.URL)
	str("REDIS_HOST", &cfg.Redis.Host)
	num("REDIS_PORT", &cfg.Redis.Port)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	num("REDIS_DB", &cfg.Redis.DB)
	str("REDIS_KEY_PREFIX", &cfg.Redis.KeyPrefix)
	duration("REDIS_DIAL_TIMEOUT", &cfg.Redis.DialTimeout)
	str("APP_ENV", &cfg.Redis.Environment)
	if v := os.Getenv("BUILD_PHASE"); v != "" {
		cfg.Redis.BuildMode = isBuildPhase(v)
	}

	num("CACHE_MEMORY_MAX_SIZE", &cfg.Cache.MemoryMaxSize)
	duration("CACHE_SWEEP_INTERVAL", &cfg.Cache.SweepInterval)
	duration("CACHE_RECONNECT_INTERVAL", &cfg.Cache.ReconnectInterval)

	num("MONITOR_WINDOW_SIZE", &cfg.Monitor.WindowSize)
	float("MONITOR_RESPONSE_TIME_MS", &cfg.Monitor.Thresholds.ResponseTimeMs)
	float("MONITOR_MEMORY_USAGE", &cfg.Monitor.Thresholds.MemoryUsage)
	float("MONITOR_ERROR_RATE", &cfg.Monitor.Thresholds.ErrorRate)
	float("MONITOR_CACHE_MISS_RATE", &cfg.Monitor.Thresholds.CacheMissRate)
	duration("MONITOR_CLEANUP_INTERVAL", &cfg.Monitor.CleanupInterval)

	num("LOADER_MAX_CONCURRENT", &cfg.Loader.MaxConcurrent)
	duration("LOADER_CHUNK_TIMEOUT", &cfg.Loader.ChunkTimeout)
	duration("LOADER_SESSION_RETENTION", &cfg.Loader.SessionRetention)
	duration("LOADER_HTTP_TIMEOUT", &cfg.Loader.HTTPTimeout)

	str("STORAGE_TYPE", &cfg.Storage.Type)
	str("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	str("POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	num("POSTGRES_MAX_CONNS", &cfg.Storage.PostgreSQL.MaxConns)
	str("MONGODB_URL", &cfg.Storage.MongoDB.URL)
	str("MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)

	return errors.Join(errs...)
}

// parseDuration accepts plain integers (seconds) or Go duration strings.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

func isBuildPhase(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "build", "phase-production-build":
		return true
	}
	return false
}

// Validate rejects values the application cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: invalid port %q", c.Server.Port))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "auto", "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Endpoint, "/") {
		errs = append(errs, fmt.Errorf("metrics.endpoint: must start with /, got %q", c.Metrics.Endpoint))
	}
	if c.Cache.MemoryMaxSize < 0 {
		errs = append(errs, errors.New("cache.memory_max_size: must not be negative"))
	}
	t := c.Monitor.Thresholds
	if t.ResponseTimeMs < 0 {
		errs = append(errs, errors.New("monitor.thresholds.response_time_ms: must not be negative"))
	}
	for name, v := range map[string]float64{
		"memory_usage":    t.MemoryUsage,
		"error_rate":      t.ErrorRate,
		"cache_miss_rate": t.CacheMissRate,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("monitor.thresholds.%s: must be within [0, 1], got %g", name, v))
		}
	}
	if c.Loader.MaxConcurrent < 0 {
		errs = append(errs, errors.New("loader.max_concurrent: must not be negative"))
	}
	switch c.Storage.Type {
	case "", "none", "sqlite":
	case "postgresql":
		if c.Storage.PostgreSQL.URL == "" {
			errs = append(errs, errors.New("storage.postgresql.url: required for postgresql storage"))
		}
	case "mongodb":
		if c.Storage.MongoDB.URL == "" {
			errs = append(errs, errors.New("storage.mongodb.url: required for mongodb storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type: unknown type %q", c.Storage.Type))
	}
	return errors.Join(errs...)
}
