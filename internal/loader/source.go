package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"learnperf/internal/cache"
)

// ErrLessonNotFound is returned when no content is stored for a lesson.
var ErrLessonNotFound = errors.New("lesson content not found")

// LessonStore is the durable home of lesson content. LoadLesson returns an
// error wrapping ErrLessonNotFound for unknown lessons.
type LessonStore interface {
	LoadLesson(ctx context.Context, lessonID string) (Content, error)
	SaveLesson(ctx context.Context, lessonID string, c Content) error
}

// CachedSource is a ContentSource reading through the lesson content
// namespace of the cache layer. With a LessonStore, misses are loaded from
// the store and cached; without one the cache is the only copy.
type CachedSource struct {
	cache *cache.Manager
	store LessonStore
}

// NewCachedSource creates a CachedSource over m. store may be nil.
func NewCachedSource(m *cache.Manager, store LessonStore) *CachedSource {
	return &CachedSource{cache: m, store: store}
}

// Lookup returns the content of a lesson and whether it was served from
// the cache.
func (s *CachedSource) Lookup(ctx context.Context, lessonID string) (Content, bool, error) {
	var c Content
	if cache.GetCachedLessonContent(ctx, s.cache, lessonID, &c) {
		return c, true, nil
	}
	if s.store == nil {
		return Content{}, false, fmt.Errorf("%w: %s", ErrLessonNotFound, lessonID)
	}

	c, err := s.store.LoadLesson(ctx, lessonID)
	if err != nil {
		return Content{}, false, err
	}
	if !cache.CacheLessonContent(ctx, s.cache, lessonID, c) {
		slog.Warn("failed to cache lesson content", "lesson_id", lessonID)
	}
	return c, false, nil
}

// LessonContent implements ContentSource.
func (s *CachedSource) LessonContent(ctx context.Context, lessonID string) (Content, error) {
	c, _, err := s.Lookup(ctx, lessonID)
	return c, err
}

// PutLessonContent validates the content, saves it to the store when one is
// configured and refreshes the cached copy.
func (s *CachedSource) PutLessonContent(ctx context.Context, lessonID string, c Content) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.SaveLesson(ctx, lessonID, c); err != nil {
			return fmt.Errorf("save lesson %s: %w", lessonID, err)
		}
	}
	if !cache.CacheLessonContent(ctx, s.cache, lessonID, c) {
		if s.store == nil {
			return fmt.Errorf("store lesson %s: cache write failed", lessonID)
		}
		slog.Warn("failed to cache lesson content", "lesson_id", lessonID)
	}
	return nil
}
