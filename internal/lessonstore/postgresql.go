package lessonstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"learnperf/internal/loader"
)

// PostgreSQLStore keeps lessons in a PostgreSQL table as JSONB.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates the lessons table if it doesn't exist.
func NewPostgreSQLStore(pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS lessons (
			id TEXT PRIMARY KEY,
			content JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create lessons table: %w", err)
	}
	return &PostgreSQLStore{pool: pool}, nil
}

// LoadLesson implements loader.LessonStore.
func (s *PostgreSQLStore) LoadLesson(ctx context.Context, lessonID string) (loader.Content, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT content FROM lessons WHERE id = $1`, lessonID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return loader.Content{}, notFound(lessonID)
	}
	if err != nil {
		return loader.Content{}, fmt.Errorf("query lesson %s: %w", lessonID, err)
	}
	return decodeContent(lessonID, data)
}

// SaveLesson implements loader.LessonStore. Existing lessons are replaced.
func (s *PostgreSQLStore) SaveLesson(ctx context.Context, lessonID string, c loader.Content) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode lesson %s: %w", lessonID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO lessons (id, content, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at
	`, lessonID, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save lesson %s: %w", lessonID, err)
	}
	return nil
}
