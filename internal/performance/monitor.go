package performance

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"learnperf/internal/cache"
)

const (
	// DefaultWindowSize bounds the rolling sample window.
	DefaultWindowSize = 1000

	// DefaultMaxAlerts bounds the alert history.
	DefaultMaxAlerts = 100

	// DedupWindow is how long an unresolved alert suppresses equal alerts.
	DedupWindow = 5 * time.Minute

	// RecentWindow is the trailing window used for error rate and health.
	RecentWindow = 5 * time.Minute

	// Retention is how long samples and alerts survive Cleanup.
	Retention = 24 * time.Hour

	topEndpoints = 10
)

// Store is the part of the cache layer the monitor persists through.
// *cache.Manager satisfies it.
type Store interface {
	CacheWithConfig(ctx context.Context, cfg cache.Config, id string, value any, ttl time.Duration) bool
	Stats() cache.Stats
}

// Options configures a Monitor.
type Options struct {
	WindowSize int
	MaxAlerts  int
	Thresholds *Thresholds
	SinkBuffer int

	// Now and ReadMemory are overridden in tests.
	Now        func() time.Time
	ReadMemory func() MemorySnapshot
}

// Monitor tracks request samples and raises threshold alerts.
// It is safe for concurrent use.
type Monitor struct {
	store Store
	sink  *sink

	now        func() time.Time
	readMemory func() MemorySnapshot
	started    time.Time

	windowSize int
	maxAlerts  int

	mu         sync.Mutex
	samples    []Sample
	alerts     []*Alert
	thresholds Thresholds
}

// New creates a Monitor. store may be nil, in which case nothing is persisted
// and the cache is reported healthy.
func New(store Store, opts Options) *Monitor {
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.MaxAlerts <= 0 {
		opts.MaxAlerts = DefaultMaxAlerts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReadMemory == nil {
		opts.ReadMemory = ReadMemory
	}
	thresholds := DefaultThresholds()
	if opts.Thresholds != nil {
		thresholds = *opts.Thresholds
	}

	return &Monitor{
		store:      store,
		sink:       newSink(store, opts.SinkBuffer),
		now:        opts.Now,
		readMemory: opts.ReadMemory,
		started:    opts.Now(),
		windowSize: opts.WindowSize,
		maxAlerts:  opts.MaxAlerts,
		samples:    make([]Sample, 0, opts.WindowSize),
		thresholds: thresholds,
	}
}

// ReadMemory samples the Go runtime. The heap total is the soft memory
// limit when one is set, otherwise the heap obtained from the OS.
func ReadMemory() MemorySnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	total := ms.HeapSys
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		total = uint64(limit)
	}
	return MemorySnapshot{HeapUsed: ms.HeapAlloc, HeapTotal: total, Sys: ms.Sys}
}

// TrackRequest records one finished request and evaluates thresholds.
func (m *Monitor) TrackRequest(ctx context.Context, info RequestInfo) {
	mem := m.readMemory()

	m.mu.Lock()
	// timestamp under the lock keeps the window in time order
	now := m.now()
	sample := Sample{
		Timestamp:      now,
		Endpoint:       info.Endpoint,
		Method:         info.Method,
		ResponseTimeMs: float64(now.Sub(info.Start)) / float64(time.Millisecond),
		StatusCode:     info.StatusCode,
		CacheHit:       info.CacheHit,
		Memory:         mem,
		UserAgent:      info.UserAgent,
		IP:             info.IP,
	}
	m.samples = append(m.samples, sample)
	if over := len(m.samples) - m.windowSize; over > 0 {
		n := copy(m.samples, m.samples[over:])
		m.samples = m.samples[:n]
	}
	m.checkThresholdsLocked(sample)
	m.mu.Unlock()

	requestDuration.WithLabelValues(info.Method, statusClass(info.StatusCode)).
		Observe(sample.ResponseTimeMs / 1000)

	m.sink.write(cache.PerformanceMetrics, "metric:"+strconv.FormatInt(now.UnixNano(), 10), sample)
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

func (m *Monitor) checkThresholdsLocked(s Sample) {
	t := m.thresholds

	if s.ResponseTimeMs > t.ResponseTimeMs {
		severity := SeverityHigh
		if s.ResponseTimeMs > t.ResponseTimeMs*2 {
			severity = SeverityCritical
		}
		m.raiseLocked(AlertResponseTime, severity,
			fmt.Sprintf("High response time: %.0fms for %s", s.ResponseTimeMs, s.Endpoint),
			t.ResponseTimeMs, s.ResponseTimeMs)
	}

	if ratio := s.Memory.Ratio(); ratio > t.MemoryUsage {
		severity := SeverityHigh
		if ratio > 0.9 {
			severity = SeverityCritical
		}
		m.raiseLocked(AlertMemoryUsage, severity,
			fmt.Sprintf("High memory usage: %.0f%%", ratio*100),
			t.MemoryUsage, ratio)
	}

	if s.IsError() {
		recent := m.recentLocked(RecentWindow)
		rate := errorRate(recent)
		if rate > t.ErrorRate {
			severity := SeverityHigh
			if rate > 0.1 {
				severity = SeverityCritical
			}
			m.raiseLocked(AlertErrorRate, severity,
				fmt.Sprintf("High error rate: %.0f%%", rate*100),
				t.ErrorRate, rate)
		}
	}
}

// raiseLocked adds an alert unless an unresolved alert of the same type and
// severity was raised within DedupWindow.
func (m *Monitor) raiseLocked(typ AlertType, severity Severity, msg string, threshold, current float64) {
	now := m.now()
	for _, a := range m.alerts {
		if a.Type == typ && a.Severity == severity && !a.Resolved && now.Sub(a.Timestamp) < DedupWindow {
			return
		}
	}

	alert := &Alert{
		ID:           uuid.NewString(),
		Type:         typ,
		Severity:     severity,
		Message:      msg,
		Threshold:    threshold,
		CurrentValue: current,
		Timestamp:    now,
	}
	m.alerts = append(m.alerts, alert)
	if over := len(m.alerts) - m.maxAlerts; over > 0 {
		m.alerts = append(m.alerts[:0:0], m.alerts[over:]...)
	}

	alertsRaised.WithLabelValues(string(typ), string(severity)).Inc()
	if severity == SeverityCritical {
		slog.Error("critical performance alert",
			"id", alert.ID, "type", typ, "message", msg,
			"threshold", threshold, "current", current)
	} else {
		slog.Warn("performance alert", "id", alert.ID, "type", typ, "severity", severity, "message", msg)
	}

	m.sink.write(cache.Alert, alert.ID, *alert)
}

func (m *Monitor) recentLocked(window time.Duration) []Sample {
	cutoff := m.now().Add(-window)
	// samples are appended in time order
	i := sort.Search(len(m.samples), func(i int) bool {
		return !m.samples[i].Timestamp.Before(cutoff)
	})
	return m.samples[i:]
}

func errorRate(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	errs := 0
	for _, s := range samples {
		if s.IsError() {
			errs++
		}
	}
	return float64(errs) / float64(len(samples))
}

func averageResponseTime(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var total float64
	for _, s := range samples {
		total += s.ResponseTimeMs
	}
	return total / float64(len(samples))
}

// SystemHealth classifies the trailing five minutes together with the
// cache tier's health and persists the snapshot.
func (m *Monitor) SystemHealth(ctx context.Context) SystemHealth {
	cacheStats := cache.Stats{Type: "none", Healthy: true}
	if m.store != nil {
		cacheStats = m.store.Stats()
	}

	m.mu.Lock()
	recent := m.recentLocked(RecentWindow)
	avg := averageResponseTime(recent)
	rate := errorRate(recent)
	count := len(recent)
	t := m.thresholds
	m.mu.Unlock()

	status := StatusHealthy
	switch {
	case avg > t.ResponseTimeMs*1.5 || rate > t.ErrorRate*1.5 || !cacheStats.Healthy:
		status = StatusUnhealthy
	case avg > t.ResponseTimeMs || rate > t.ErrorRate:
		status = StatusDegraded
	}

	now := m.now()
	health := SystemHealth{
		Timestamp:             now,
		Status:                status,
		UptimeSeconds:         now.Sub(m.started).Seconds(),
		Memory:                m.readMemory(),
		Cache:                 cacheStats,
		ActiveConnections:     count,
		ErrorRate:             rate,
		AverageResponseTimeMs: avg,
	}

	m.sink.write(cache.SystemHealth, "system_health", health)
	return health
}

// PerformanceStats aggregates the samples of the trailing window.
// A non-positive window means RecentWindow.
func (m *Monitor) PerformanceStats(window time.Duration) Stats {
	if window <= 0 {
		window = RecentWindow
	}

	m.mu.Lock()
	recent := append([]Sample(nil), m.recentLocked(window)...)
	m.mu.Unlock()

	stats := Stats{
		TopSlowEndpoints:  []EndpointLatency{},
		TopErrorEndpoints: []EndpointErrors{},
	}
	if len(recent) == 0 {
		return stats
	}

	type agg struct {
		total  float64
		count  int
		errors int
	}
	byEndpoint := make(map[string]*agg)
	hits := 0
	for _, s := range recent {
		a := byEndpoint[s.Endpoint]
		if a == nil {
			a = &agg{}
			byEndpoint[s.Endpoint] = a
		}
		a.total += s.ResponseTimeMs
		a.count++
		if s.IsError() {
			a.errors++
		}
		if s.CacheHit {
			hits++
		}
	}

	stats.TotalRequests = len(recent)
	stats.AverageResponseTimeMs = averageResponseTime(recent)
	stats.ErrorRate = errorRate(recent)
	stats.CacheHitRate = float64(hits) / float64(len(recent))

	for endpoint, a := range byEndpoint {
		stats.TopSlowEndpoints = append(stats.TopSlowEndpoints, EndpointLatency{
			Endpoint:          endpoint,
			AvgResponseTimeMs: a.total / float64(a.count),
			Count:             a.count,
		})
		if a.errors > 0 {
			stats.TopErrorEndpoints = append(stats.TopErrorEndpoints, EndpointErrors{
				Endpoint:   endpoint,
				ErrorCount: a.errors,
				ErrorRate:  float64(a.errors) / float64(a.count),
			})
		}
	}

	sort.Slice(stats.TopSlowEndpoints, func(i, j int) bool {
		a, b := stats.TopSlowEndpoints[i], stats.TopSlowEndpoints[j]
		if a.AvgResponseTimeMs != b.AvgResponseTimeMs {
			return a.AvgResponseTimeMs > b.AvgResponseTimeMs
		}
		return a.Endpoint < b.Endpoint
	})
	sort.Slice(stats.TopErrorEndpoints, func(i, j int) bool {
		a, b := stats.TopErrorEndpoints[i], stats.TopErrorEndpoints[j]
		if a.ErrorCount != b.ErrorCount {
			return a.ErrorCount > b.ErrorCount
		}
		return a.Endpoint < b.Endpoint
	})
	if len(stats.TopSlowEndpoints) > topEndpoints {
		stats.TopSlowEndpoints = stats.TopSlowEndpoints[:topEndpoints]
	}
	if len(stats.TopErrorEndpoints) > topEndpoints {
		stats.TopErrorEndpoints = stats.TopErrorEndpoints[:topEndpoints]
	}
	return stats
}

// ActiveAlerts returns copies of every unresolved alert, oldest first.
func (m *Monitor) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if !a.Resolved {
			out = append(out, *a)
		}
	}
	return out
}

// ResolveAlert marks the alert resolved and reports whether it exists.
func (m *Monitor) ResolveAlert(ctx context.Context, id string) bool {
	m.mu.Lock()
	var found *Alert
	for _, a := range m.alerts {
		if a.ID == id {
			a.Resolved = true
			found = a
			break
		}
	}
	var snapshot Alert
	if found != nil {
		snapshot = *found
	}
	m.mu.Unlock()

	if found == nil {
		return false
	}
	m.sink.write(cache.Alert, snapshot.ID, snapshot)
	return true
}

// Thresholds returns the current limits.
func (m *Monitor) Thresholds() Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

// UpdateThresholds merges patch into the current limits and returns the result.
func (m *Monitor) UpdateThresholds(patch ThresholdsPatch) Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = m.thresholds.apply(patch)
	slog.Info("performance thresholds updated",
		"response_time_ms", m.thresholds.ResponseTimeMs,
		"memory_usage", m.thresholds.MemoryUsage,
		"error_rate", m.thresholds.ErrorRate,
		"cache_miss_rate", m.thresholds.CacheMissRate)
	return m.thresholds
}

// Cleanup drops samples and alerts older than Retention.
func (m *Monitor) Cleanup() {
	cutoff := m.now().Add(-Retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	i := sort.Search(len(m.samples), func(i int) bool {
		return !m.samples[i].Timestamp.Before(cutoff)
	})
	droppedSamples := i
	if i > 0 {
		n := copy(m.samples, m.samples[i:])
		m.samples = m.samples[:n]
	}

	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if !a.Timestamp.Before(cutoff) {
			kept = append(kept, a)
		}
	}
	droppedAlerts := len(m.alerts) - len(kept)
	clear(m.alerts[len(kept):])
	m.alerts = kept

	if droppedSamples > 0 || droppedAlerts > 0 {
		slog.Debug("performance history cleaned up", "samples", droppedSamples, "alerts", droppedAlerts)
	}
}

// SampleCount returns the number of samples in the rolling window.
func (m *Monitor) SampleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

// Close drains pending persistence writes. It is idempotent.
func (m *Monitor) Close() error {
	m.sink.close()
	return nil
}
