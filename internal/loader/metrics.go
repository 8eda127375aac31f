package loader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chunkLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "learnperf_chunk_loads_total",
		Help: "Settled chunk loads by kind and result (cached, loaded, failed)",
	}, []string{"kind", "result"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "learnperf_loader_queue_depth",
		Help: "Chunks waiting for a load slot",
	})

	activeLoads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "learnperf_loader_active_loads",
		Help: "Chunk loads currently in flight across all sessions",
	})
)
