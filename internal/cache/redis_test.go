package cache

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache(t *testing.T) {
	ctx := context.Background()

	t.Run("GetSetRoundTrip", func(t *testing.T) {
		_, rc := newMiniredisCache(t)

		_, err := rc.Get(ctx, "lesson:1")
		require.ErrorIs(t, err, ErrMiss)

		require.NoError(t, rc.Set(ctx, "lesson:1", []byte(`{"title":"X"}`), 0))
		data, err := rc.Get(ctx, "lesson:1")
		require.NoError(t, err)
		require.JSONEq(t, `{"title":"X"}`, string(data))
	})

	t.Run("SetWithTTLExpires", func(t *testing.T) {
		mr, rc := newMiniredisCache(t)

		require.NoError(t, rc.Set(ctx, "k", []byte(`1`), 10*time.Second))
		require.Equal(t, 10*time.Second, mr.TTL("k"))

		mr.FastForward(11 * time.Second)
		_, err := rc.Get(ctx, "k")
		require.ErrorIs(t, err, ErrMiss)
	})

	t.Run("SetWithoutTTLHasNoExpiry", func(t *testing.T) {
		mr, rc := newMiniredisCache(t)

		require.NoError(t, rc.Set(ctx, "k", []byte(`1`), 0))
		require.Zero(t, mr.TTL("k"))
	})

	t.Run("InvalidJSONIsSerializationError", func(t *testing.T) {
		mr, rc := newMiniredisCache(t)
		require.NoError(t, mr.Set("bad", "not json"))

		_, err := rc.Get(ctx, "bad")
		require.Error(t, err)
		require.True(t, IsSerialization(err))
		require.False(t, IsTierFailure(err))
	})

	t.Run("DelAndExists", func(t *testing.T) {
		_, rc := newMiniredisCache(t)

		ok, err := rc.Exists(ctx, "k")
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, rc.Set(ctx, "k", []byte(`1`), time.Minute))
		ok, err = rc.Exists(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)

		deleted, err := rc.Del(ctx, "k")
		require.NoError(t, err)
		require.True(t, deleted)

		deleted, err = rc.Del(ctx, "k")
		require.NoError(t, err)
		require.False(t, deleted)
	})

	t.Run("MSetAppliesTTLAndMGet", func(t *testing.T) {
		mr, rc := newMiniredisCache(t)
		require.NoError(t, mr.Set("bad", "{"))

		err := rc.MSet(ctx, map[string][]byte{
			"a": []byte(`1`),
			"b": []byte(`"two"`),
		}, time.Minute)
		require.NoError(t, err)
		require.Equal(t, time.Minute, mr.TTL("a"))
		require.Equal(t, time.Minute, mr.TTL("b"))

		values, err := rc.MGet(ctx, []string{"a", "missing", "b", "bad"})
		require.NoError(t, err)
		require.Len(t, values, 4)
		assert.Equal(t, "1", string(values[0]))
		assert.Nil(t, values[1])
		assert.Equal(t, `"two"`, string(values[2]))
		assert.Nil(t, values[3], "invalid payloads are returned as nil")
	})

	t.Run("MSetWithoutTTLAndTransportFailure", func(t *testing.T) {
		mr, rc := newMiniredisCache(t)

		require.NoError(t, rc.MSet(ctx, map[string][]byte{"a": []byte(`1`)}, 0))
		assert.Zero(t, mr.TTL("a"))

		mr.Close()
		err := rc.MSet(ctx, map[string][]byte{"b": []byte(`2`)}, time.Minute)
		require.Error(t, err)
		assert.True(t, IsTierFailure(err))
	})

	t.Run("InvalidatePattern", func(t *testing.T) {
		_, rc := newMiniredisCache(t)

		for _, k := range []string{"lesson:1", "lesson:2", "user:1"} {
			require.NoError(t, rc.Set(ctx, k, []byte(`1`), 0))
		}

		n, err := rc.InvalidatePattern(ctx, "lesson:*")
		require.NoError(t, err)
		require.Equal(t, 2, n)

		n, err = rc.InvalidatePattern(ctx, "nothing:*")
		require.NoError(t, err)
		require.Zero(t, n)

		ok, _ := rc.Exists(ctx, "user:1")
		require.True(t, ok)
	})

	t.Run("KeyPrefix", func(t *testing.T) {
		mr, rc := newMiniredisCache(t)
		rc.prefix = "app:"

		require.NoError(t, rc.Set(ctx, "k", []byte(`1`), 0))
		require.True(t, mr.Exists("app:k"))

		n, err := rc.InvalidatePattern(ctx, "k*")
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	t.Run("HealthCheck", func(t *testing.T) {
		mr, rc := newMiniredisCache(t)

		health := rc.HealthCheck(ctx)
		require.True(t, health.Healthy())

		mr.SetError("ERR down")
		health = rc.HealthCheck(ctx)
		require.Equal(t, StatusUnhealthy, health.Status)
	})

	t.Run("TransportFailure", func(t *testing.T) {
		mr, rc := newMiniredisCache(t)
		mr.SetError("ERR down")

		_, err := rc.Get(ctx, "k")
		require.True(t, IsTierFailure(err))

		err = rc.Set(ctx, "k", []byte(`1`), 0)
		require.True(t, IsTierFailure(err))

		_, err = rc.InvalidatePattern(ctx, "*")
		require.True(t, IsTierFailure(err))

		require.Error(t, rc.Connect(ctx))
	})
}

func TestNewRedisCache(t *testing.T) {
	ctx := context.Background()

	t.Run("UnconfiguredIsNoOp", func(t *testing.T) {
		rc := NewRedisCache(RedisConfig{Environment: "production"})
		require.False(t, rc.Configured())

		health := rc.HealthCheck(ctx)
		require.Equal(t, StatusUnhealthy, health.Status)
		require.Zero(t, health.Latency)

		_, err := rc.Get(ctx, "k")
		require.True(t, errors.Is(err, ErrUnavailable))

		n, err := rc.InvalidatePattern(ctx, "*")
		require.Zero(t, n)
		require.Error(t, err)
		require.NoError(t, rc.Close())
	})

	t.Run("BuildModeSuppressesClient", func(t *testing.T) {
		rc := NewRedisCache(RedisConfig{URL: "redis://localhost:6379", BuildMode: true})
		require.False(t, rc.Configured())
	})

	t.Run("InvalidURLIsNoOp", func(t *testing.T) {
		rc := NewRedisCache(RedisConfig{URL: "http://not-redis"})
		require.False(t, rc.Configured())
	})

	t.Run("DevelopmentDefaultsToLocalhost", func(t *testing.T) {
		rc := NewRedisCache(RedisConfig{Environment: "development"})
		defer rc.Close()
		require.True(t, rc.Configured())
		require.Equal(t, "localhost:6379", rc.client.Options().Addr)
	})

	t.Run("HostAndPort", func(t *testing.T) {
		mr, _ := newMiniredisCache(t)
		rc := NewRedisCache(RedisConfig{Host: mr.Host(), Port: mustPort(t, mr.Port())})
		defer rc.Close()

		require.True(t, rc.HealthCheck(ctx).Healthy())
	})
}

func mustPort(t *testing.T, s string) int {
	t.Helper()
	p, err := strconv.Atoi(s)
	require.NoError(t, err)
	return p
}
