package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tts-batch/internal/batch"
	"tts-batch/internal/config"
	"tts-batch/internal/domain"
)

var _ batch.SnapshotStore = (*Mongo)(nil)

const mongoTimeout = 5 * time.Second

// document is the single MongoDB record holding the current batch.
type document struct {
	ID        string        `bson:"_id"`
	Tasks     []domain.Task `bson:"tasks"`
	UpdatedAt time.Time     `bson:"updatedAt"`
}

// Mongo persists the batch as one upserted document.
type Mongo struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongo connects to MongoDB and verifies the connection.
func NewMongo(cfg config.MongoDBConfig) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Printf("[SNAPSHOT] Connecting to MongoDB database=%s collection=%s", cfg.Database, cfg.Collection)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Mongo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

// Load returns the stored tasks or none when no document exists.
func (m *Mongo) Load() ([]domain.Task, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	var doc document
	err := m.collection.FindOne(ctx, bson.M{"_id": batch.SnapshotName}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return []domain.Task{}, nil
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if doc.Tasks == nil {
		doc.Tasks = []domain.Task{}
	}
	return doc.Tasks, nil
}

// Save upserts the snapshot document.
func (m *Mongo) Save(tasks []domain.Task) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	doc := newDocument(tasks, time.Now())
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Clear deletes the snapshot document.
func (m *Mongo) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": batch.SnapshotName}); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func newDocument(tasks []domain.Task, at time.Time) document {
	return document{
		ID:        batch.SnapshotName,
		Tasks:     copyTasks(tasks),
		UpdatedAt: at.UTC(),
	}
}
