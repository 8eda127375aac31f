package lessonstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"learnperf/internal/loader"
)

// SQLiteStore keeps lessons in a SQLite table as JSON text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the lessons table if it doesn't exist.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS lessons (
			id TEXT PRIMARY KEY,
			content JSON NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create lessons table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// LoadLesson implements loader.LessonStore.
func (s *SQLiteStore) LoadLesson(ctx context.Context, lessonID string) (loader.Content, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM lessons WHERE id = ?`, lessonID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return loader.Content{}, notFound(lessonID)
	}
	if err != nil {
		return loader.Content{}, fmt.Errorf("query lesson %s: %w", lessonID, err)
	}
	return decodeContent(lessonID, []byte(data))
}

// SaveLesson implements loader.LessonStore. Existing lessons are replaced.
func (s *SQLiteStore) SaveLesson(ctx context.Context, lessonID string, c loader.Content) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode lesson %s: %w", lessonID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lessons (id, content, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
	`, lessonID, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save lesson %s: %w", lessonID, err)
	}
	return nil
}
