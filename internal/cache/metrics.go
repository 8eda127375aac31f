package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tierGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "learnperf_cache_remote_active",
		Help: "1 when the cache manager serves from Redis, 0 when it serves from memory",
	})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "learnperf_cache_fallbacks_total",
		Help: "Remote cache failures that demoted the manager to the memory tier",
	}, []string{"op"})
)
