package loader

import (
	"sort"
	"time"
)

// Status is the lifecycle state of a session.
//
//	pending -> loading -> completed | paused
//	paused  -> loading
//	any non-terminal state -> failed (cancel)
//
// A session whose chunks failed stays loading until they are retried.
type Status string

const (
	StatusPending   Status = "pending"
	StatusLoading   Status = "loading"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Chunk is one atomically loadable fragment of a session's content.
// Chunks stay in their session after loading or failing.
type Chunk struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	URL       string     `json:"url"`
	Size      int64      `json:"size"`
	Priority  int        `json:"priority"`
	Loaded    bool       `json:"loaded"`
	Progress  float64    `json:"progress"`
	Error     string     `json:"error,omitempty"`
	Attempts  int        `json:"attempts,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

func sortByPriority(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Priority > chunks[j].Priority
	})
}

// Session is one content-loading request.
type Session struct {
	ID         string     `json:"id"`
	LessonID   string     `json:"lesson_id"`
	Chunks     []Chunk    `json:"chunks"`
	TotalSize  int64      `json:"total_size"`
	LoadedSize int64      `json:"loaded_size"`
	Progress   float64    `json:"progress"`
	Status     Status     `json:"status"`
	Config     Config     `json:"config"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
}

// session is the manager's mutable record. inFlight counts active loads.
type session struct {
	Session
	inFlight int
}

// recompute restores the aggregate invariants: LoadedSize is the size of
// loaded chunks and Progress is LoadedSize/TotalSize*100. It also completes
// the session once every chunk is loaded.
func (s *session) recompute(now time.Time) {
	var loaded int64
	all := true
	for i := range s.Chunks {
		if s.Chunks[i].Loaded {
			loaded += s.Chunks[i].Size
		} else {
			all = false
		}
	}
	s.LoadedSize = loaded
	if s.TotalSize > 0 {
		s.Progress = float64(loaded) / float64(s.TotalSize) * 100
	} else {
		s.Progress = 0
	}
	if all && !s.Status.Terminal() {
		s.Status = StatusCompleted
		s.finish(now)
	}
}

func (s *session) finish(now time.Time) {
	t := now
	s.EndTime = &t
}

func (s *session) hasErrors() bool {
	for i := range s.Chunks {
		if s.Chunks[i].Error != "" {
			return true
		}
	}
	return false
}

// snapshot returns a copy that shares nothing mutable with s.
func (s *session) snapshot() Session {
	out := s.Session
	out.Chunks = make([]Chunk, len(s.Chunks))
	copy(out.Chunks, s.Chunks)
	return out
}
