package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock shared by the cache tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// newMiniredisCache starts an in-process Redis and returns an adapter bound to it.
func newMiniredisCache(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	rc := NewRedisCacheFromClient(client, "")
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

// failingRemote is a remote tier that reports healthy but fails every operation.
type failingRemote struct {
	healthy  atomic.Bool
	gets     atomic.Int32
	sets     atomic.Int32
	dels     atomic.Int32
	exists   atomic.Int32
	mgets    atomic.Int32
	msets    atomic.Int32
	patterns atomic.Int32

	// msetErr replaces the transport error returned by MSet when set.
	msetErr error
}

func newFailingRemote() *failingRemote {
	r := &failingRemote{}
	r.healthy.Store(true)
	return r
}

func transportErr(op string) error {
	return &Error{Op: op, Kind: KindTransport, Err: context.DeadlineExceeded}
}

func (r *failingRemote) Get(context.Context, string) ([]byte, error) {
	r.gets.Add(1)
	return nil, transportErr("get")
}

func (r *failingRemote) Set(context.Context, string, []byte, time.Duration) error {
	r.sets.Add(1)
	return transportErr("set")
}

func (r *failingRemote) Del(context.Context, string) (bool, error) {
	r.dels.Add(1)
	return false, transportErr("del")
}

func (r *failingRemote) Exists(context.Context, string) (bool, error) {
	r.exists.Add(1)
	return false, transportErr("exists")
}

func (r *failingRemote) MGet(context.Context, []string) ([][]byte, error) {
	r.mgets.Add(1)
	return nil, transportErr("mget")
}

func (r *failingRemote) MSet(context.Context, map[string][]byte, time.Duration) error {
	r.msets.Add(1)
	if r.msetErr != nil {
		return r.msetErr
	}
	return transportErr("mset")
}

func (r *failingRemote) InvalidatePattern(context.Context, string) (int, error) {
	r.patterns.Add(1)
	return 0, transportErr("invalidate")
}

func (r *failingRemote) HealthCheck(context.Context) Health {
	if r.healthy.Load() {
		return newHealth(StatusHealthy, time.Millisecond)
	}
	return newHealth(StatusUnhealthy, time.Millisecond)
}

func (r *failingRemote) Connect(context.Context) error {
	if r.healthy.Load() {
		return nil
	}
	return transportErr("connect")
}

func (r *failingRemote) Close() error { return nil }

func TestIsTierFailure(t *testing.T) {
	require.False(t, IsTierFailure(nil))
	require.False(t, IsTierFailure(ErrMiss))
	require.False(t, IsTierFailure(&Error{Op: "get", Kind: KindSerialization, Err: ErrMiss}))
	require.True(t, IsTierFailure(&Error{Op: "get", Kind: KindTransport, Err: context.Canceled}))
	require.True(t, IsTierFailure(&Error{Op: "get", Kind: KindUnavailable, Err: ErrUnavailable}))
	require.False(t, IsTierFailure(&Error{Op: "mset", Kind: KindPartial, Err: errors.New("ERR")}))
	require.True(t, IsSerialization(&Error{Op: "get", Kind: KindSerialization, Err: ErrMiss}))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Op: "get", Key: "lesson:1", Kind: KindTransport, Err: context.DeadlineExceeded}
	require.Equal(t, `cache get "lesson:1": transport: context deadline exceeded`, err.Error())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
