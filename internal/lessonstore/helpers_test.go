package lessonstore

import (
	"context"
	"testing"

	"learnperf/internal/cache"
)

func newCache(t *testing.T) *cache.Manager {
	t.Helper()
	m := cache.NewManager(context.Background(), nil, nil, cache.ManagerOptions{})
	t.Cleanup(func() { _ = m.Close() })
	return m
}
