package performance

import "learnperf/internal/cache"

// largeMemoryCache is the memory-tier size above which a remote tier is suggested.
const largeMemoryCache = 500

// Recommendations turns a health snapshot, window stats and the cache tier
// into operator hints. The result is never nil.
func (m *Monitor) Recommendations(health SystemHealth, stats Stats, cacheStats cache.Stats) []string {
	t := m.Thresholds()
	out := []string{}

	switch health.Status {
	case StatusUnhealthy:
		out = append(out, "System health is critical - immediate attention required")
	case StatusDegraded:
		out = append(out, "System performance is degraded - consider optimization")
	}

	if stats.AverageResponseTimeMs > t.ResponseTimeMs {
		out = append(out, "High response times detected - consider caching optimization")
	}
	if stats.ErrorRate > t.ErrorRate {
		out = append(out, "High error rate detected - investigate system stability")
	}
	if stats.TotalRequests > 0 && 1-stats.CacheHitRate > t.CacheMissRate {
		out = append(out, "Low cache hit rate - consider cache warming strategies")
	}
	if cacheStats.Type == "memory" && cacheStats.Size > largeMemoryCache {
		out = append(out, "Memory cache is large - consider configuring Redis")
	}
	return out
}
