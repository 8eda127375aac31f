// Package cache provides the two-tier cache used by the monitoring and content
// loading subsystems: a Redis-backed remote tier and a bounded in-memory tier,
// fronted by a Manager that fails over between them.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// HealthStatus is the result of a tier health probe.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// Health describes the outcome of a health probe against a cache tier.
type Health struct {
	Status  HealthStatus  `json:"status"`
	Latency time.Duration `json:"-"`
	// LatencyMs mirrors Latency for JSON consumers.
	LatencyMs int64 `json:"latency_ms"`
}

func newHealth(status HealthStatus, latency time.Duration) Health {
	return Health{Status: status, Latency: latency, LatencyMs: latency.Milliseconds()}
}

// Healthy reports whether the probe succeeded.
func (h Health) Healthy() bool {
	return h.Status == StatusHealthy
}

// ErrMiss is returned by tier reads when the key is absent.
var ErrMiss = errors.New("cache: miss")

// ErrUnavailable is returned by the remote tier when it was never configured.
var ErrUnavailable = errors.New("cache: remote tier not configured")

// ErrorKind classifies remote tier failures.
type ErrorKind string

const (
	// KindUnavailable means the tier has no client at all.
	KindUnavailable ErrorKind = "unavailable"
	// KindTransport covers network, timeout and protocol failures.
	KindTransport ErrorKind = "transport"
	// KindSerialization means a stored payload could not be decoded.
	KindSerialization ErrorKind = "serialization"
	// KindPartial means the tier answered but rejected part of a write.
	// The tier is still healthy.
	KindPartial ErrorKind = "partial"
)

// Error is the error type returned by the remote tier.
type Error struct {
	Op   string
	Key  string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("cache %s %q: %s: %v", e.Op, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("cache %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsSerialization reports whether err is a decode failure of a stored value.
func IsSerialization(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.Kind == KindSerialization
}

// IsTierFailure reports whether err means the tier itself is not usable.
// Such errors demote the Manager to the memory tier.
func IsTierFailure(err error) bool {
	if err == nil || errors.Is(err, ErrMiss) {
		return false
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind == KindTransport || cerr.Kind == KindUnavailable
	}
	return true
}

// Remote is the networked tier consumed by the Manager.
// *RedisCache is the production implementation.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	MSet(ctx context.Context, pairs map[string][]byte, ttl time.Duration) error
	InvalidatePattern(ctx context.Context, pattern string) (int, error)
	HealthCheck(ctx context.Context) Health
	Connect(ctx context.Context) error
	Close() error
}
