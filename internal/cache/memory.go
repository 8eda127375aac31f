package cache

import (
	"bytes"
	"runtime"
	"sync"
	"time"
)

const (
	// DefaultMemoryMaxSize is the default capacity of the memory tier.
	DefaultMemoryMaxSize = 1000

	// DefaultMemoryTTL applies when Set is called without a TTL.
	DefaultMemoryTTL = time.Hour

	// DefaultSweepInterval is how often expired entries are purged.
	DefaultSweepInterval = 5 * time.Minute
)

// MemoryOptions configures a MemoryCache.
type MemoryOptions struct {
	MaxSize       int
	SweepInterval time.Duration
	// Now overrides the clock; used by tests.
	Now func() time.Time
}

type memoryEntry struct {
	value     []byte
	expires   time.Time
	createdAt time.Time
}

// MemoryStats is a point-in-time view of the memory tier.
type MemoryStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	HitRate float64 `json:"hit_rate"`
	// HeapUsed is the process heap, not the cache's own footprint.
	HeapUsed uint64 `json:"heap_used"`
}

// MemoryCache is a fixed-capacity in-process store with per-entry TTL.
// When full, the entry with the oldest creation time is evicted.
// It is safe for concurrent use.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	maxSize int
	now     func() time.Time

	hits   uint64
	misses uint64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryCache creates a memory tier and starts its background sweep.
// Close must be called to stop the sweep goroutine.
func NewMemoryCache(opts MemoryOptions) *MemoryCache {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMemoryMaxSize
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &MemoryCache{
		entries: make(map[string]*memoryEntry),
		maxSize: opts.MaxSize,
		now:     opts.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.sweepLoop(opts.SweepInterval)
	return c
}

// Get returns the value for key. Expired entries are deleted on access.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if !c.now().Before(entry.expires) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.hits++
	return bytes.Clone(entry.value), true
}

// Set stores a copy of value under key for ttl (DefaultMemoryTTL when
// ttl <= 0). Get also returns a copy, so callers never share the stored bytes.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultMemoryTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	now := c.now()
	c.entries[key] = &memoryEntry{
		value:     bytes.Clone(value),
		expires:   now.Add(ttl),
		createdAt: now,
	}
	return true
}

// evictOldestLocked removes the entry with the smallest creation time.
// Linear scan; capacity is small.
func (c *MemoryCache) evictOldestLocked() {
	var (
		oldestKey  string
		oldestTime time.Time
		found      bool
	)
	for key, entry := range c.entries {
		if !found || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
			found = true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

// Del removes key and reports whether it was present.
func (c *MemoryCache) Del(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Exists reports whether key holds an unexpired value.
func (c *MemoryCache) Exists(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	if !c.now().Before(entry.expires) {
		delete(c.entries, key)
		return false
	}
	return true
}

// Keys returns a snapshot of all stored keys, including not yet swept expired ones.
func (c *MemoryCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of stored entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// MaxSize returns the configured capacity.
func (c *MemoryCache) MaxSize() int {
	return c.maxSize
}

// Clear drops every entry.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*memoryEntry)
}

// Stats reports size, capacity, hit rate and process heap usage.
func (c *MemoryCache) Stats() MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	c.mu.Lock()
	defer c.mu.Unlock()

	var hitRate float64
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return MemoryStats{
		Size:     len(c.entries),
		MaxSize:  c.maxSize,
		HitRate:  hitRate,
		HeapUsed: ms.HeapAlloc,
	}
}

// Sweep deletes every expired entry and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expires) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *MemoryCache) sweepLoop(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// Close stops the sweep goroutine and clears all entries. It is idempotent.
func (c *MemoryCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
		c.Clear()
	})
}
