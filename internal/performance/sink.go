package performance

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"learnperf/internal/cache"
)

// DefaultSinkBuffer is the default capacity of the persistence queue.
const DefaultSinkBuffer = 1000

// record is one value queued for persistence.
type record struct {
	cfg   cache.Config
	id    string
	value any
}

// sink persists samples, alerts and health snapshots to the cache layer
// in the background. It never blocks the caller: when the buffer is full
// the record is dropped.
type sink struct {
	store   Store
	buffer  chan record
	done    chan struct{}
	wg      sync.WaitGroup
	writes  sync.WaitGroup // in-flight write calls
	closed  atomic.Bool
	dropped atomic.Uint64
}

func newSink(store Store, size int) *sink {
	if size <= 0 {
		size = DefaultSinkBuffer
	}
	s := &sink{
		store:  store,
		buffer: make(chan record, size),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return s
}

// write queues a record. It is a no-op without a store or after close.
func (s *sink) write(cfg cache.Config, id string, value any) {
	if s.store == nil || s.closed.Load() {
		return
	}

	s.writes.Add(1)
	defer s.writes.Done()

	// close may have started between the first check and Add
	if s.closed.Load() {
		return
	}

	select {
	case s.buffer <- record{cfg: cfg, id: id, value: value}:
	default:
		s.dropped.Add(1)
		slog.Warn("performance sink buffer full, dropping record", "key", cfg.Key(id))
	}
}

func (s *sink) flushLoop() {
	defer s.wg.Done()

	for {
		select {
		case r := <-s.buffer:
			s.persist(r)
		case <-s.done:
			close(s.buffer)
			for r := range s.buffer {
				s.persist(r)
			}
			return
		}
	}
}

func (s *sink) persist(r record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if !s.store.CacheWithConfig(ctx, r.cfg, r.id, r.value, r.cfg.TTL) {
		slog.Debug("performance record not persisted", "key", r.cfg.Key(r.id))
	}
}

// close stops accepting records and drains the queue. It is idempotent.
func (s *sink) close() {
	if s.closed.Swap(true) {
		return
	}
	s.writes.Wait()
	close(s.done)
	s.wg.Wait()
}
