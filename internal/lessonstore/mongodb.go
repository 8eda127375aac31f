package lessonstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"learnperf/internal/loader"
)

type lessonDocument struct {
	ID        string         `bson:"_id"`
	Blocks    []loader.Block `bson:"blocks"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

// MongoDBStore keeps one document per lesson, keyed by lesson ID.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore uses the "lessons" collection of database.
func NewMongoDBStore(database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &MongoDBStore{collection: database.Collection("lessons")}, nil
}

// LoadLesson implements loader.LessonStore.
func (s *MongoDBStore) LoadLesson(ctx context.Context, lessonID string) (loader.Content, error) {
	var doc lessonDocument
	err := s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: lessonID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return loader.Content{}, notFound(lessonID)
	}
	if err != nil {
		return loader.Content{}, fmt.Errorf("query lesson %s: %w", lessonID, err)
	}
	return loader.Content{Blocks: doc.Blocks}, nil
}

// SaveLesson implements loader.LessonStore. Existing lessons are replaced.
func (s *MongoDBStore) SaveLesson(ctx context.Context, lessonID string, c loader.Content) error {
	doc := lessonDocument{ID: lessonID, Blocks: c.Blocks, UpdatedAt: time.Now().UTC()}
	_, err := s.collection.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: lessonID}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save lesson %s: %w", lessonID, err)
	}
	return nil
}
