// Package performance records per-request samples in a bounded rolling
// window, raises deduplicated threshold alerts and aggregates system health.
package performance

import (
	"time"

	"learnperf/internal/cache"
)

// AlertType identifies the threshold an alert was raised for.
type AlertType string

const (
	AlertResponseTime  AlertType = "response_time"
	AlertMemoryUsage   AlertType = "memory_usage"
	AlertErrorRate     AlertType = "error_rate"
	AlertCacheMissRate AlertType = "cache_miss_rate"
)

// Severity of an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// HealthStatus is the overall classification returned by SystemHealth.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// MemorySnapshot is a point-in-time view of the process heap.
type MemorySnapshot struct {
	HeapUsed  uint64 `json:"heap_used"`
	HeapTotal uint64 `json:"heap_total"`
	Sys       uint64 `json:"sys"`
}

// Ratio returns HeapUsed / HeapTotal, or 0 when HeapTotal is unknown.
func (s MemorySnapshot) Ratio() float64 {
	if s.HeapTotal == 0 {
		return 0
	}
	return float64(s.HeapUsed) / float64(s.HeapTotal)
}

// RequestInfo describes one finished request.
type RequestInfo struct {
	Endpoint   string
	Method     string
	Start      time.Time
	StatusCode int
	CacheHit   bool
	UserAgent  string
	IP         string
}

// Sample is one tracked request. Samples are never mutated after creation.
type Sample struct {
	Timestamp      time.Time      `json:"timestamp"`
	Endpoint       string         `json:"endpoint"`
	Method         string         `json:"method"`
	ResponseTimeMs float64        `json:"response_time_ms"`
	StatusCode     int            `json:"status_code"`
	CacheHit       bool           `json:"cache_hit"`
	Memory         MemorySnapshot `json:"memory"`
	UserAgent      string         `json:"user_agent,omitempty"`
	IP             string         `json:"ip,omitempty"`
}

// IsError reports whether the sample's status counts as an error.
func (s Sample) IsError() bool {
	return s.StatusCode >= 400
}

// Alert is a threshold breach. Only ResolveAlert mutates an alert.
type Alert struct {
	ID           string    `json:"id"`
	Type         AlertType `json:"type"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	Threshold    float64   `json:"threshold"`
	CurrentValue float64   `json:"current_value"`
	Timestamp    time.Time `json:"timestamp"`
	Resolved     bool      `json:"resolved"`
}

// Thresholds are the limits samples are evaluated against.
type Thresholds struct {
	ResponseTimeMs float64 `json:"response_time_ms" yaml:"response_time_ms"`
	MemoryUsage    float64 `json:"memory_usage" yaml:"memory_usage"`
	ErrorRate      float64 `json:"error_rate" yaml:"error_rate"`
	CacheMissRate  float64 `json:"cache_miss_rate" yaml:"cache_miss_rate"`
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ResponseTimeMs: 2000,
		MemoryUsage:    0.8,
		ErrorRate:      0.05,
		CacheMissRate:  0.3,
	}
}

// ThresholdsPatch is a partial update. Nil fields are left unchanged.
type ThresholdsPatch struct {
	ResponseTimeMs *float64 `json:"response_time_ms,omitempty"`
	MemoryUsage    *float64 `json:"memory_usage,omitempty"`
	ErrorRate      *float64 `json:"error_rate,omitempty"`
	CacheMissRate  *float64 `json:"cache_miss_rate,omitempty"`
}

func (t Thresholds) apply(p ThresholdsPatch) Thresholds {
	if p.ResponseTimeMs != nil {
		t.ResponseTimeMs = *p.ResponseTimeMs
	}
	if p.MemoryUsage != nil {
		t.MemoryUsage = *p.MemoryUsage
	}
	if p.ErrorRate != nil {
		t.ErrorRate = *p.ErrorRate
	}
	if p.CacheMissRate != nil {
		t.CacheMissRate = *p.CacheMissRate
	}
	return t
}

// SystemHealth aggregates the trailing window with the cache tier's state.
type SystemHealth struct {
	Timestamp             time.Time      `json:"timestamp"`
	Status                HealthStatus   `json:"status"`
	UptimeSeconds         float64        `json:"uptime_seconds"`
	Memory                MemorySnapshot `json:"memory"`
	Cache                 cache.Stats    `json:"cache"`
	ActiveConnections     int            `json:"active_connections"`
	ErrorRate             float64        `json:"error_rate"`
	AverageResponseTimeMs float64        `json:"average_response_time_ms"`
}

// EndpointLatency is one entry of Stats.TopSlowEndpoints.
type EndpointLatency struct {
	Endpoint          string  `json:"endpoint"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	Count             int     `json:"count"`
}

// EndpointErrors is one entry of Stats.TopErrorEndpoints.
type EndpointErrors struct {
	Endpoint   string  `json:"endpoint"`
	ErrorCount int     `json:"error_count"`
	ErrorRate  float64 `json:"error_rate"`
}

// Stats aggregates the samples of one time window.
type Stats struct {
	TotalRequests         int               `json:"total_requests"`
	AverageResponseTimeMs float64           `json:"average_response_time_ms"`
	ErrorRate             float64           `json:"error_rate"`
	CacheHitRate          float64           `json:"cache_hit_rate"`
	TopSlowEndpoints      []EndpointLatency `json:"top_slow_endpoints"`
	TopErrorEndpoints     []EndpointErrors  `json:"top_error_endpoints"`
}
