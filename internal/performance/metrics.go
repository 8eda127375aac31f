package performance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "learnperf_http_request_duration_seconds",
		Help:    "Latency of tracked requests",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
	}, []string{"method", "status"})

	alertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "learnperf_alerts_raised_total",
		Help: "Performance alerts raised, after deduplication",
	}, []string{"type", "severity"})
)
