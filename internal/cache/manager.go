package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TierState is the active tier of a Manager.
type TierState int

const (
	// StateDegraded serves every call from the memory tier.
	StateDegraded TierState = iota
	// StateRemoteOK serves calls from the remote tier.
	StateRemoteOK
)

func (s TierState) String() string {
	if s == StateRemoteOK {
		return "remote_ok"
	}
	return "degraded"
}

const (
	// DefaultProbeTimeout bounds health probes issued by the Manager.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultReconnectInterval is how often a degraded Manager re-probes the remote tier.
	DefaultReconnectInterval = 30 * time.Second
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// ReconnectInterval enables a background loop that re-probes the remote
	// tier while degraded. Zero disables it.
	ReconnectInterval time.Duration

	// ProbeTimeout bounds the construction and reconnect health probes.
	ProbeTimeout time.Duration
}

// Stats describes the active tier.
type Stats struct {
	Type    string `json:"type"`
	Healthy bool   `json:"healthy"`
	State   string `json:"state"`
	Size    int    `json:"size,omitempty"`
	MaxSize int    `json:"max_size,omitempty"`
}

// Manager is the single entry point to both cache tiers. It prefers the
// remote tier and transparently serves from memory once the remote tier
// fails. A single call touches the remote tier at most once and the memory
// tier only when the remote tier is inactive or just failed.
// Manager is safe for concurrent use.
type Manager struct {
	remote Remote
	memory *MemoryCache

	mu    sync.RWMutex
	state TierState

	group        singleflight.Group
	probeTimeout time.Duration

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a Manager and probes the remote tier to pick the
// initial state. remote may be nil for a memory-only Manager.
func NewManager(ctx context.Context, remote Remote, memory *MemoryCache, opts ManagerOptions) *Manager {
	if memory == nil {
		memory = NewMemoryCache(MemoryOptions{})
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}

	m := &Manager{
		remote:       remote,
		memory:       memory,
		state:        StateDegraded,
		probeTimeout: opts.ProbeTimeout,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	if remote != nil {
		probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		health := remote.HealthCheck(probeCtx)
		cancel()
		if health.Healthy() {
			m.setState(StateRemoteOK, "initial health check passed")
		} else {
			slog.Warn("redis not available, falling back to memory cache")
			m.setState(StateDegraded, "initial health check failed")
		}
	} else {
		m.setState(StateDegraded, "no remote tier")
	}

	if remote != nil && opts.ReconnectInterval > 0 {
		go m.reconnectLoop(opts.ReconnectInterval)
	} else {
		close(m.done)
	}

	return m
}

// setState is the only place the tier state changes.
func (m *Manager) setState(next TierState, reason string) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	if next == StateRemoteOK {
		tierGauge.Set(1)
	} else {
		tierGauge.Set(0)
	}
	if prev != next {
		slog.Info("cache tier changed", "from", prev.String(), "to", next.String(), "reason", reason)
	}
}

// State returns the current tier state.
func (m *Manager) State() TierState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) remoteActive() bool {
	return m.remote != nil && m.State() == StateRemoteOK
}

// degrade records a remote failure and switches to the memory tier.
func (m *Manager) degrade(op string, err error) {
	fallbacksTotal.WithLabelValues(op).Inc()
	slog.Warn("redis "+op+" failed, falling back to memory cache", "error", err)
	m.setState(StateDegraded, op+" failed")
}

// GetRaw returns the JSON payload stored under key.
func (m *Manager) GetRaw(ctx context.Context, key string) ([]byte, bool) {
	if m.remoteActive() {
		data, err := m.remote.Get(ctx, key)
		switch {
		case err == nil:
			return data, true
		case errors.Is(err, ErrMiss), IsSerialization(err):
			return nil, false
		default:
			m.degrade("get", err)
		}
	}
	return m.memory.Get(key)
}

// Get decodes the value stored under key into dest and reports whether a
// value was found. Undecodable values count as misses.
func (m *Manager) Get(ctx context.Context, key string, dest any) bool {
	data, ok := m.GetRaw(ctx, key)
	if !ok {
		return false
	}
	if dest == nil {
		return true
	}
	if err := json.Unmarshal(data, dest); err != nil {
		slog.Warn("cache value could not be decoded", "key", key, "error", err)
		return false
	}
	return true
}

// Set JSON-encodes value and stores it for ttl. A zero ttl means no expiry
// on the remote tier and DefaultMemoryTTL on the memory tier.
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		slog.Error("cache value could not be encoded", "key", key, "error", err)
		return false
	}
	return m.setRaw(ctx, key, data, ttl)
}

func (m *Manager) setRaw(ctx context.Context, key string, data []byte, ttl time.Duration) bool {
	if m.remoteActive() {
		err := m.remote.Set(ctx, key, data, ttl)
		if err == nil {
			return true
		}
		m.degrade("set", err)
	}
	return m.memory.Set(key, data, ttl)
}

// Del removes key and reports whether it existed.
func (m *Manager) Del(ctx context.Context, key string) bool {
	if m.remoteActive() {
		ok, err := m.remote.Del(ctx, key)
		if err == nil {
			return ok
		}
		m.degrade("del", err)
	}
	return m.memory.Del(key)
}

// Exists reports whether key holds a value.
func (m *Manager) Exists(ctx context.Context, key string) bool {
	if m.remoteActive() {
		ok, err := m.remote.Exists(ctx, key)
		if err == nil {
			return ok
		}
		m.degrade("exists", err)
	}
	return m.memory.Exists(key)
}

// HealthCheck probes the remote tier while it is active. The memory tier
// is always healthy with zero latency.
func (m *Manager) HealthCheck(ctx context.Context) Health {
	if m.remoteActive() {
		health := m.remote.HealthCheck(ctx)
		if !health.Healthy() {
			m.degrade("health check", errors.New("remote tier reported unhealthy"))
		}
		return health
	}
	return newHealth(StatusHealthy, 0)
}

// CacheWithConfig stores value under cfg's prefix. ttl <= 0 uses cfg.TTL.
func (m *Manager) CacheWithConfig(ctx context.Context, cfg Config, id string, value any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = cfg.TTL
	}
	return m.Set(ctx, cfg.Key(id), value, ttl)
}

// GetFromConfig reads the value stored under cfg's prefix into dest.
func (m *Manager) GetFromConfig(ctx context.Context, cfg Config, id string, dest any) bool {
	return m.Get(ctx, cfg.Key(id), dest)
}

// WarmCache returns the cached value for id, or calls fetch, caches its
// result and returns it. Concurrent misses for the same key share one fetch.
// Zero values are treated as misses.
func WarmCache[T any](ctx context.Context, m *Manager, cfg Config, id string, fetch func(context.Context) (T, error), ttl time.Duration) (T, error) {
	var cached T
	if m.GetFromConfig(ctx, cfg, id, &cached) && !reflect.ValueOf(&cached).Elem().IsZero() {
		return cached, nil
	}

	v, err, _ := m.group.Do(cfg.Key(id), func() (any, error) {
		fresh, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		m.CacheWithConfig(ctx, cfg, id, fresh, ttl)
		return fresh, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	// A nil interface result carries no dynamic type.
	fresh, _ := v.(T)
	return fresh, nil
}

// MGet reads several keys. Missing values are nil.
func (m *Manager) MGet(ctx context.Context, keys []string) []json.RawMessage {
	out := make([]json.RawMessage, len(keys))

	if m.remoteActive() {
		values, err := m.remote.MGet(ctx, keys)
		if err == nil {
			for i, v := range values {
				if i < len(out) && v != nil {
					out[i] = v
				}
			}
			return out
		}
		m.degrade("mget", err)
	}

	for i, key := range keys {
		if v, ok := m.memory.Get(key); ok {
			out[i] = v
		}
	}
	return out
}

// MSet stores every pair with the same ttl.
func (m *Manager) MSet(ctx context.Context, pairs map[string]any, ttl time.Duration) bool {
	encoded := make(map[string][]byte, len(pairs))
	for key, value := range pairs {
		data, err := json.Marshal(value)
		if err != nil {
			slog.Error("cache value could not be encoded", "key", key, "error", err)
			return false
		}
		encoded[key] = data
	}

	if m.remoteActive() {
		err := m.remote.MSet(ctx, encoded, ttl)
		if err == nil {
			return true
		}
		if !IsTierFailure(err) {
			slog.Warn("redis mset rejected", "keys", len(encoded), "error", err)
			return false
		}
		m.degrade("mset", err)
	}

	for key, data := range encoded {
		m.memory.Set(key, data, ttl)
	}
	return true
}

// InvalidatePattern deletes every key matching the glob pattern and
// returns the number removed. Both tiers use Redis glob semantics.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) int {
	if m.remoteActive() {
		n, err := m.remote.InvalidatePattern(ctx, pattern)
		if err == nil {
			return n
		}
		m.degrade("invalidate", err)
	}

	deleted := 0
	for _, key := range m.memory.Keys() {
		if matchGlob(pattern, key) && m.memory.Del(key) {
			deleted++
		}
	}
	return deleted
}

// Stats reports the active tier and, for the memory tier, its occupancy.
func (m *Manager) Stats() Stats {
	state := m.State()
	if m.remote != nil && state == StateRemoteOK {
		return Stats{Type: "redis", Healthy: true, State: state.String()}
	}
	return Stats{
		Type:    "memory",
		Healthy: true,
		State:   state.String(),
		Size:    m.memory.Len(),
		MaxSize: m.memory.MaxSize(),
	}
}

// ReconnectRemote re-probes the remote tier and restores it on success.
func (m *Manager) ReconnectRemote(ctx context.Context) bool {
	if m.remote == nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	if err := m.remote.Connect(probeCtx); err != nil {
		slog.Debug("redis reconnection failed", "error", err)
		m.setState(StateDegraded, "reconnect failed")
		return false
	}
	if !m.remote.HealthCheck(probeCtx).Healthy() {
		m.setState(StateDegraded, "reconnect health check failed")
		return false
	}
	m.setState(StateRemoteOK, "reconnected")
	return true
}

type configuredRemote interface {
	Configured() bool
}

func (m *Manager) reconnectLoop(interval time.Duration) {
	defer close(m.done)

	if cr, ok := m.remote.(configuredRemote); ok && !cr.Configured() {
		<-m.stop
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m.State() == StateDegraded {
				m.ReconnectRemote(context.Background())
			}
		case <-m.stop:
			return
		}
	}
}

// Memory exposes the memory tier.
func (m *Manager) Memory() *MemoryCache {
	return m.memory
}

// Close stops the reconnect loop and releases both tiers. It is idempotent.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stop)
		<-m.done
		m.memory.Close()
		if m.remote != nil {
			err = m.remote.Close()
		}
	})
	return err
}
