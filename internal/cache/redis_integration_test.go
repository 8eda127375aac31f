//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis runs a throwaway Redis server and returns its URL.
// Run with: go test -tags=integration ./internal/cache/...
func startRedis(t *testing.T) (testcontainers.Container, string) {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready to accept connections"),
				wait.ForListeningPort("6379/tcp"),
			).WithDeadline(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)
	return c, fmt.Sprintf("redis://%s/0", endpoint)
}

func TestRedisIntegration_Failover(t *testing.T) {
	container, url := startRedis(t)
	ctx := context.Background()

	remote := NewRedisCache(RedisConfig{URL: url, KeyPrefix: "it:"})
	require.True(t, remote.Configured())

	m := NewManager(ctx, remote, nil, ManagerOptions{ProbeTimeout: 5 * time.Second})
	t.Cleanup(func() { _ = m.Close() })
	require.Equal(t, StateRemoteOK, m.State())
	require.Equal(t, "redis", m.Stats().Type)

	require.True(t, m.Set(ctx, "lesson:1", map[string]string{"title": "Intro"}, time.Minute))
	require.True(t, m.Set(ctx, "lesson:2", "b", time.Minute))
	require.True(t, m.Set(ctx, "user:1", "c", time.Minute))

	var got map[string]string
	require.True(t, m.Get(ctx, "lesson:1", &got))
	require.Equal(t, "Intro", got["title"])
	require.Zero(t, m.Memory().Len(), "healthy remote tier leaves memory untouched")

	require.Equal(t, 2, m.InvalidatePattern(ctx, "lesson:*"))
	require.False(t, m.Exists(ctx, "lesson:2"))
	require.True(t, m.Exists(ctx, "user:1"))

	require.NoError(t, container.Terminate(ctx))

	require.True(t, m.Set(ctx, "after", "v", time.Minute), "writes fall back to memory")
	require.Equal(t, StateDegraded, m.State())
	require.Equal(t, "memory", m.Stats().Type)

	var v string
	require.True(t, m.Get(ctx, "after", &v))
	require.Equal(t, "v", v)
	require.False(t, m.ReconnectRemote(ctx))
}
