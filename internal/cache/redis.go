package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisPort is used when only a host is configured.
	DefaultRedisPort = 6379

	// DefaultDialTimeout bounds connection establishment to Redis.
	DefaultDialTimeout = 5 * time.Second
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379" or "redis://:password@host:6379/0").
	// Takes precedence over Host/Port/Password/DB.
	URL string

	Host     string
	Port     int
	Password string
	DB       int

	// KeyPrefix is prepended to every key written by this adapter.
	KeyPrefix string

	// Environment is the deployment environment. In "development" the adapter
	// falls back to localhost when no address is configured.
	Environment string

	// BuildMode suppresses client creation entirely (build-time execution).
	BuildMode bool

	DialTimeout time.Duration
}

func isDevEnvironment(env string) bool {
	switch strings.ToLower(env) {
	case "development", "dev", "local":
		return true
	}
	return false
}

// RedisCache implements Remote on top of go-redis.
// A RedisCache built without usable configuration is a permanently
// unavailable no-op: every call returns an ErrUnavailable-kind error.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates the remote tier. It never fails: misconfiguration
// produces an unconfigured adapter so the application can run memory-only.
// The client connects lazily; use HealthCheck or Connect to probe it.
func NewRedisCache(cfg RedisConfig) *RedisCache {
	c := &RedisCache{prefix: cfg.KeyPrefix}

	if cfg.BuildMode {
		slog.Info("redis cache disabled in build mode")
		return c
	}
	if cfg.URL == "" && cfg.Host == "" && !isDevEnvironment(cfg.Environment) {
		slog.Info("redis cache not configured, memory cache only")
		return c
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}

	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			slog.Warn("invalid redis URL, memory cache only", "error", err)
			return c
		}
		opts = parsed
	} else {
		host := cfg.Host
		if host == "" {
			host = "localhost"
		}
		port := cfg.Port
		if port <= 0 {
			port = DefaultRedisPort
		}
		opts = &redis.Options{
			Addr:     net.JoinHostPort(host, strconv.Itoa(port)),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	opts.DialTimeout = dialTimeout

	c.client = redis.NewClient(opts)
	slog.Info("redis cache configured", "addr", opts.Addr, "db", opts.DB)
	return c
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{client: client, prefix: keyPrefix}
}

// Configured reports whether the adapter has a client.
func (c *RedisCache) Configured() bool {
	return c.client != nil
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

func (c *RedisCache) fail(op, key string, kind ErrorKind, err error) error {
	cerr := &Error{Op: op, Key: key, Kind: kind, Err: err}
	if kind != KindUnavailable {
		slog.Warn("redis cache operation failed", "op", op, "key", key, "kind", kind, "error", err)
	}
	return cerr
}

func (c *RedisCache) unavailable(op, key string) error {
	return c.fail(op, key, KindUnavailable, ErrUnavailable)
}

// Get returns the JSON payload stored under key.
// Absent keys yield ErrMiss; payloads that are not valid JSON yield a
// serialization error so callers can treat them as misses.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.client == nil {
		return nil, c.unavailable("get", key)
	}

	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, c.fail("get", key, KindTransport, err)
	}
	if !json.Valid(data) {
		return nil, c.fail("get", key, KindSerialization, errors.New("stored value is not valid JSON"))
	}
	return data, nil
}

// Set stores a JSON payload, with expiry when ttl > 0.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.client == nil {
		return c.unavailable("set", key)
	}

	var err error
	if ttl > 0 {
		err = c.client.SetEx(ctx, c.key(key), value, ttl).Err()
	} else {
		err = c.client.Set(ctx, c.key(key), value, 0).Err()
	}
	if err != nil {
		return c.fail("set", key, KindTransport, err)
	}
	return nil
}

// Del removes key and reports whether it existed.
func (c *RedisCache) Del(ctx context.Context, key string) (bool, error) {
	if c.client == nil {
		return false, c.unavailable("del", key)
	}

	n, err := c.client.Del(ctx, c.key(key)).Result()
	if err != nil {
		return false, c.fail("del", key, KindTransport, err)
	}
	return n > 0, nil
}

// Exists reports whether key is present.
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	if c.client == nil {
		return false, c.unavailable("exists", key)
	}

	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, c.fail("exists", key, KindTransport, err)
	}
	return n == 1, nil
}

// MGet fetches several keys in one round trip. Absent or undecodable
// entries are nil in the result.
func (c *RedisCache) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	if c.client == nil {
		return nil, c.unavailable("mget", "")
	}
	if len(keys) == 0 {
		return [][]byte{}, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}

	values, err := c.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, c.fail("mget", "", KindTransport, err)
	}

	out := make([][]byte, len(keys))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if !json.Valid([]byte(s)) {
			slog.Warn("redis cache mget skipped invalid payload", "key", keys[i])
			continue
		}
		out[i] = []byte(s)
	}
	return out, nil
}

// MSet writes all pairs with one MSET and applies ttl to every key inside
// the same MULTI/EXEC transaction, so keys are never left without a TTL.
// A command rejected by Redis inside the transaction is reported as
// KindPartial.
func (c *RedisCache) MSet(ctx context.Context, pairs map[string][]byte, ttl time.Duration) error {
	if c.client == nil {
		return c.unavailable("mset", "")
	}
	if len(pairs) == 0 {
		return nil
	}

	flat := make([]any, 0, len(pairs)*2)
	for k, v := range pairs {
		flat = append(flat, c.key(k), v)
	}
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.MSet(ctx, flat...)
		if ttl > 0 {
			for k := range pairs {
				p.Expire(ctx, c.key(k), ttl)
			}
		}
		return nil
	})
	if err != nil {
		var rerr redis.Error
		if errors.As(err, &rerr) {
			return c.fail("mset", "", KindPartial, err)
		}
		return c.fail("mset", "", KindTransport, err)
	}
	return nil
}

// InvalidatePattern deletes every key matching the glob pattern and returns
// the number removed.
func (c *RedisCache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if c.client == nil {
		return 0, c.unavailable("invalidate", pattern)
	}

	keys, err := c.client.Keys(ctx, c.key(pattern)).Result()
	if err != nil {
		return 0, c.fail("invalidate", pattern, KindTransport, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	n, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, c.fail("invalidate", pattern, KindTransport, err)
	}
	return int(n), nil
}

// HealthCheck pings Redis and measures the round trip.
func (c *RedisCache) HealthCheck(ctx context.Context) Health {
	if c.client == nil {
		return newHealth(StatusUnhealthy, 0)
	}

	start := time.Now()
	if err := c.client.Ping(ctx).Err(); err != nil {
		slog.Warn("redis health check failed", "error", err)
		return newHealth(StatusUnhealthy, time.Since(start))
	}
	return newHealth(StatusHealthy, time.Since(start))
}

// Connect probes the connection. go-redis reconnects on demand, so a
// successful ping is all that is needed to restore service.
func (c *RedisCache) Connect(ctx context.Context) error {
	if c.client == nil {
		return c.unavailable("connect", "")
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		return c.fail("connect", "", KindTransport, err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
