package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"learnperf/internal/cache"
)

const (
	// DefaultMaxConcurrentLoads is the process-wide bound on in-flight chunks.
	DefaultMaxConcurrentLoads = 5

	// DefaultRetention is how long finished sessions survive Cleanup.
	DefaultRetention = 24 * time.Hour

	// CleanupInterval is the default period of RunCleanupLoop.
	CleanupInterval = 1 * time.Hour
)

// ChunkStore is the part of the cache layer chunk payloads go through.
// *cache.Manager satisfies it.
type ChunkStore interface {
	Exists(ctx context.Context, key string) bool
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool
}

// ContentSource resolves a lesson to its content for PreloadContent.
type ContentSource interface {
	LessonContent(ctx context.Context, lessonID string) (Content, error)
}

// Options configures a Manager.
type Options struct {
	MaxConcurrent int
	Retention     time.Duration
	// ChunkTimeout replaces the default per-fetch timeout of sessions that
	// do not set one.
	ChunkTimeout time.Duration
	Source       ContentSource
	// Now is overridden in tests.
	Now func() time.Time
}

// Stats are process-wide loader counters.
type Stats struct {
	Sessions          int     `json:"sessions"`
	ActiveSessions    int     `json:"active_sessions"`
	TotalChunks       int     `json:"total_chunks"`
	LoadedChunks      int     `json:"loaded_chunks"`
	FailedChunks      int     `json:"failed_chunks"`
	ActiveLoads       int     `json:"active_loads"`
	QueueLength       int     `json:"queue_length"`
	AverageLoadTimeMs float64 `json:"average_load_time_ms"`
}

type activeLoad struct {
	sessionID string
	index     int
	cancel    context.CancelFunc
}

type loadResult struct {
	cached   bool
	attempts int
	err      error
}

// Manager schedules chunk loads for every session through one global
// priority queue and one global concurrency bound.
// It is safe for concurrent use.
type Manager struct {
	store         ChunkStore
	fetcher       Fetcher
	source        ContentSource
	now           func() time.Time
	maxConcurrent int
	retention     time.Duration
	chunkTimeout  time.Duration

	baseCtx context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
	queue    chunkQueue
	queued   map[string]struct{}
	active   map[string]*activeLoad
	seq      uint64
	closed   bool
}

// New creates a Manager. store may be nil to disable chunk caching.
func New(store ChunkStore, fetcher Fetcher, opts Options) *Manager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrentLoads
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if fetcher == nil {
		fetcher = NewHTTPFetcher(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:         store,
		fetcher:       fetcher,
		source:        opts.Source,
		now:           opts.Now,
		maxConcurrent: opts.MaxConcurrent,
		retention:     opts.Retention,
		chunkTimeout:  opts.ChunkTimeout,
		baseCtx:       ctx,
		stopAll:       cancel,
		sessions:      make(map[string]*session),
		queued:        make(map[string]struct{}),
		active:        make(map[string]*activeLoad),
	}
}

// ChunkCacheKey is the cache key of a chunk's payload. The URL hash keeps
// equal chunk ids of different lessons apart.
func ChunkCacheKey(chunkID, url string) string {
	return cache.Chunk.Key(chunkID + ":" + strconv.FormatUint(xxhash.Sum64String(url), 16))
}

// InitializeSession validates content, splits it into chunks and registers
// a pending session. A nil cfg means DefaultConfig. Non-lazy sessions start
// loading immediately.
func (m *Manager) InitializeSession(lessonID string, content Content, cfg *Config) (string, error) {
	if err := content.Validate(); err != nil {
		return "", err
	}
	c := DefaultConfig()
	if cfg != nil {
		c = cfg.withDefaults()
	}
	if m.chunkTimeout > 0 && (cfg == nil || cfg.Timeout <= 0) {
		c.Timeout = m.chunkTimeout
	}

	chunks := buildChunks(content, c)
	var total int64
	for _, ch := range chunks {
		total += ch.Size
	}

	s := &session{Session: Session{
		ID:        uuid.NewString(),
		LessonID:  lessonID,
		Chunks:    chunks,
		TotalSize: total,
		Status:    StatusPending,
		Config:    c,
		StartTime: m.now(),
	}}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	m.sessions[s.ID] = s

	slog.Debug("loading session initialized",
		"session_id", s.ID, "lesson_id", lessonID, "chunks", len(chunks), "total_size", total)

	if !c.Lazy {
		m.startLocked(s)
	}
	return s.ID, nil
}

// StartLoading queues every unloaded chunk of the session and resumes a
// paused one. On a loading session it is a no-op while loads are queued or
// in flight; once the session has settled with failed chunks it retries them.
func (m *Manager) StartLoading(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	switch s.Status {
	case StatusCompleted:
		return nil
	case StatusLoading:
		if m.pendingLocked(s) {
			return nil
		}
	case StatusFailed:
		return fmt.Errorf("%w: session %s", ErrInvalidState, s.Status)
	}
	m.startLocked(s)
	return nil
}

func (m *Manager) startLocked(s *session) {
	s.Status = StatusLoading
	for i := range s.Chunks {
		if !s.Chunks[i].Loaded {
			m.enqueueLocked(s, i)
		}
	}
	s.recompute(m.now())
	m.dispatchLocked()
}

func (m *Manager) enqueueLocked(s *session, idx int) {
	c := &s.Chunks[idx]
	key := loadKey(s.ID, c.ID)
	if _, ok := m.queued[key]; ok {
		return
	}
	if _, ok := m.active[key]; ok {
		return
	}
	c.Error = ""
	m.seq++
	m.queue.push(&queueItem{sessionID: s.ID, chunkID: c.ID, index: idx, priority: c.Priority, seq: m.seq})
	m.queued[key] = struct{}{}
}

// dispatchLocked starts queued loads, highest priority first, until the
// global bound is reached. Items whose session is at its own bound wait.
func (m *Manager) dispatchLocked() {
	var deferred []*queueItem
	for len(m.active) < m.maxConcurrent && m.queue.Len() > 0 {
		it := m.queue.pop()
		key := it.key()
		delete(m.queued, key)

		s := m.sessions[it.sessionID]
		if s == nil || s.Status != StatusLoading || s.Chunks[it.index].Loaded {
			continue
		}
		if _, busy := m.active[key]; busy {
			continue
		}
		if s.inFlight >= s.Config.MaxConcurrent {
			deferred = append(deferred, it)
			m.queued[key] = struct{}{}
			continue
		}
		m.startLoadLocked(s, it.index)
	}
	for _, it := range deferred {
		m.queue.push(it)
	}
	queueDepth.Set(float64(m.queue.Len()))
	activeLoads.Set(float64(len(m.active)))
}

func (m *Manager) startLoadLocked(s *session, idx int) {
	c := &s.Chunks[idx]
	now := m.now()
	c.StartTime = &now
	c.EndTime = nil
	c.Error = ""

	ctx, cancel := context.WithCancel(m.baseCtx)
	ld := &activeLoad{sessionID: s.ID, index: idx, cancel: cancel}
	m.active[loadKey(s.ID, c.ID)] = ld
	s.inFlight++

	req := FetchRequest{ID: c.ID, Kind: c.Kind, URL: c.URL}
	cfg := s.Config

	m.wg.Add(1)
	go m.run(ctx, ld, req, cfg)
}

func (m *Manager) run(ctx context.Context, ld *activeLoad, req FetchRequest, cfg Config) {
	defer m.wg.Done()
	defer ld.cancel()

	res := m.loadChunk(ctx, req, cfg)

	m.mu.Lock()
	defer m.mu.Unlock()

	key := loadKey(ld.sessionID, req.ID)
	// pause, cancel and close detach their loads; their results are dropped
	if m.active[key] != ld {
		return
	}
	delete(m.active, key)

	if s, ok := m.sessions[ld.sessionID]; ok {
		s.inFlight--
		m.settleLocked(s, ld.index, res)
	}
	m.dispatchLocked()
}

// loadChunk serves the chunk from the cache when present, otherwise fetches
// it with up to cfg.RetryAttempts retries and caches the payload.
func (m *Manager) loadChunk(ctx context.Context, req FetchRequest, cfg Config) loadResult {
	key := ChunkCacheKey(req.ID, req.URL)
	if m.store != nil && m.store.Exists(ctx, key) {
		return loadResult{cached: true}
	}

	var (
		err      error
		attempts int
	)
	for attempt := 0; attempt <= cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, cfg.RetryDelay) {
				break
			}
			slog.Debug("retrying chunk load", "chunk_id", req.ID, "attempt", attempt+1, "error", err)
		}
		attempts++

		var data []byte
		data, err = m.fetchOnce(ctx, req, cfg.Timeout)
		if err == nil {
			if m.store != nil && !m.store.Set(ctx, key, data, cache.Chunk.TTL) {
				slog.Debug("chunk payload not cached", "chunk_id", req.ID)
			}
			return loadResult{attempts: attempts}
		}
		if ctx.Err() != nil {
			break
		}
	}
	return loadResult{attempts: attempts, err: err}
}

func (m *Manager) fetchOnce(ctx context.Context, req FetchRequest, timeout time.Duration) ([]byte, error) {
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := m.fetcher.Fetch(fctx, req)
	if err != nil && ctx.Err() == nil && errors.Is(fctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("timed out after %s: %w", timeout, err)
	}
	return data, err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// settleLocked records a finished load and restores the session invariants.
// Failed chunks keep the session loading; only cancellation fails it.
func (m *Manager) settleLocked(s *session, idx int, res loadResult) {
	c := &s.Chunks[idx]
	now := m.now()
	c.EndTime = &now
	c.Attempts = res.attempts

	switch {
	case res.err != nil:
		c.Loaded = false
		c.Progress = 0
		c.Error = res.err.Error()
		chunkLoads.WithLabelValues(string(c.Kind), "failed").Inc()
		slog.Warn("failed to load chunk",
			"session_id", s.ID, "chunk_id", c.ID, "attempts", res.attempts, "error", res.err)
	case res.cached:
		c.Loaded = true
		c.Progress = 100
		chunkLoads.WithLabelValues(string(c.Kind), "cached").Inc()
	default:
		c.Loaded = true
		c.Progress = 100
		chunkLoads.WithLabelValues(string(c.Kind), "loaded").Inc()
	}

	s.recompute(now)
	if s.Status == StatusLoading && !m.pendingLocked(s) && s.hasErrors() {
		slog.Info("loading session stalled on failed chunks", "session_id", s.ID, "lesson_id", s.LessonID)
	} else if s.Status == StatusCompleted {
		slog.Debug("loading session completed", "session_id", s.ID, "lesson_id", s.LessonID)
	}
}

func (m *Manager) pendingLocked(s *session) bool {
	if s.inFlight > 0 {
		return true
	}
	for i := range s.Chunks {
		if _, ok := m.queued[loadKey(s.ID, s.Chunks[i].ID)]; ok {
			return true
		}
	}
	return false
}

// detachLocked aborts the session's in-flight loads and drops its queued chunks.
func (m *Manager) detachLocked(s *session) {
	for key, ld := range m.active {
		if ld.sessionID == s.ID {
			ld.cancel()
			delete(m.active, key)
		}
	}
	s.inFlight = 0
	for _, it := range m.queue.removeSession(s.ID) {
		delete(m.queued, it.key())
	}
}

// SessionStatus returns a copy of the session.
func (m *Manager) SessionStatus(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.snapshot(), true
}

// Sessions returns copies of every session, oldest first.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// PauseSession stops a loading session. In-flight fetches are cancelled and
// queued chunks are withdrawn.
func (m *Manager) PauseSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status != StatusLoading {
		return fmt.Errorf("%w: cannot pause %s session", ErrInvalidState, s.Status)
	}
	s.Status = StatusPaused
	m.detachLocked(s)
	m.dispatchLocked()
	return nil
}

// ResumeSession re-queues every unfinished chunk of a paused session,
// including chunks that failed before the pause.
func (m *Manager) ResumeSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status != StatusPaused {
		return fmt.Errorf("%w: cannot resume %s session", ErrInvalidState, s.Status)
	}
	m.startLocked(s)
	return nil
}

// CancelSession fails a session terminally and purges its chunks from the
// queue and the active set.
func (m *Manager) CancelSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status.Terminal() {
		return fmt.Errorf("%w: cannot cancel %s session", ErrInvalidState, s.Status)
	}
	s.Status = StatusFailed
	s.finish(m.now())
	m.detachLocked(s)
	m.dispatchLocked()

	slog.Info("loading session cancelled", "session_id", s.ID, "lesson_id", s.LessonID)
	return nil
}

// PreloadContent resolves the lesson through the configured ContentSource
// and starts loading it at the given priority.
func (m *Manager) PreloadContent(ctx context.Context, lessonID string, level PriorityLevel) (string, error) {
	if m.source == nil {
		return "", ErrNoContentSource
	}
	content, err := m.source.LessonContent(ctx, lessonID)
	if err != nil {
		return "", fmt.Errorf("resolve lesson %s: %w", lessonID, err)
	}

	cfg := DefaultConfig()
	cfg.Priority = level
	cfg.Lazy = false
	return m.InitializeSession(lessonID, content, &cfg)
}

// Stats reports process-wide counters. The average load time covers loaded
// chunks only.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{
		Sessions:    len(m.sessions),
		ActiveLoads: len(m.active),
		QueueLength: m.queue.Len(),
	}
	var total time.Duration
	for _, s := range m.sessions {
		if s.Status == StatusLoading {
			st.ActiveSessions++
		}
		for i := range s.Chunks {
			c := &s.Chunks[i]
			st.TotalChunks++
			if c.Error != "" {
				st.FailedChunks++
			}
			if !c.Loaded {
				continue
			}
			st.LoadedChunks++
			if c.StartTime != nil && c.EndTime != nil {
				total += c.EndTime.Sub(*c.StartTime)
			}
		}
	}
	if st.LoadedChunks > 0 {
		st.AverageLoadTimeMs = float64(total) / float64(time.Millisecond) / float64(st.LoadedChunks)
	}
	return st
}

// Cleanup drops sessions that finished more than the retention window ago
// and returns how many were removed.
func (m *Manager) Cleanup() int {
	cutoff := m.now().Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.EndTime != nil && s.EndTime.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("loading sessions cleaned up", "removed", removed)
	}
	return removed
}

// RunCleanupLoop runs Cleanup immediately and then every interval until stop
// is closed. A non-positive interval means CleanupInterval.
func (m *Manager) RunCleanupLoop(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = CleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Cleanup()

	for {
		select {
		case <-ticker.C:
			m.Cleanup()
		case <-stop:
			return
		}
	}
}

// Close cancels every in-flight load and waits for the load goroutines.
// Sessions stay readable. Close is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for key, ld := range m.active {
		ld.cancel()
		delete(m.active, key)
	}
	for _, s := range m.sessions {
		s.inFlight = 0
	}
	m.queue = nil
	clear(m.queued)
	queueDepth.Set(0)
	activeLoads.Set(0)
	m.mu.Unlock()

	m.stopAll()
	m.wg.Wait()
	return nil
}
