// Package lessonstore persists lesson content in the configured database.
// Every store implements loader.LessonStore.
package lessonstore

import (
	"encoding/json"
	"fmt"

	"learnperf/internal/loader"
	"learnperf/internal/storage"
)

// New creates the lesson store for the given storage backend and makes
// sure its table or collection exists.
func New(store storage.Storage) (loader.LessonStore, error) {
	var (
		s   loader.LessonStore
		err error
	)
	switch store.Type() {
	case storage.TypeSQLite:
		s, err = NewSQLiteStore(store.SQLiteDB())
	case storage.TypePostgreSQL:
		s, err = NewPostgreSQLStore(store.PostgreSQLPool())
	case storage.TypeMongoDB:
		s, err = NewMongoDBStore(store.MongoDatabase())
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func notFound(lessonID string) error {
	return fmt.Errorf("%w: %s", loader.ErrLessonNotFound, lessonID)
}

func decodeContent(lessonID string, data []byte) (loader.Content, error) {
	var c loader.Content
	if err := json.Unmarshal(data, &c); err != nil {
		return loader.Content{}, fmt.Errorf("decode lesson %s: %w", lessonID, err)
	}
	return c, nil
}
