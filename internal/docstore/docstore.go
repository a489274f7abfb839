// Package docstore implements the repository interfaces on MongoDB. Every
// counter update is a single-document update pipeline, so a count and its
// backing set always change together.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"projecthub/internal/middleware"
	"projecthub/internal/models"
	"projecthub/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection    = "users"
	projectsCollection = "projects"
	commentsCollection = "comments"
)

// Connect opens a pooled client and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(100).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(60 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	middleware.Logger.Info("MongoDB connected")
	return client, nil
}

// NewStore returns the Mongo-backed store.
func NewStore(db *mongo.Database) *repository.Store {
	return &repository.Store{
		Users:    NewUserStore(db),
		Projects: NewProjectStore(db),
		Comments: NewCommentStore(db),
		Backend:  "mongo",
	}
}

// EnsureIndexes creates the indexes every store operation relies on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		usersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_email")},
			{Keys: bson.D{{Key: "type", Value: 1}, {Key: "fullName", Value: 1}}, Options: options.Index().SetName("type_name")},
		},
		projectsCollection: {
			{Keys: bson.D{{Key: "author.id", Value: 1}}, Options: options.Index().SetName("author_id")},
			{Keys: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}, Options: options.Index().SetName("feed_order")},
		},
		commentsCollection: {
			{Keys: bson.D{{Key: "projectId", Value: 1}, {Key: "createdAt", Value: 1}}, Options: options.Index().SetName("project_order")},
		},
	}
	for coll, idx := range specs {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

func objectID(id string) (primitive.ObjectID, bool) {
	if !models.IsNativeID(id) {
		return primitive.NilObjectID, false
	}
	oid, err := primitive.ObjectIDFromHex(id)
	return oid, err == nil
}

func objectIDs(ids []models.UserID) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, ok := objectID(id.String()); ok {
			out = append(out, oid)
		}
	}
	return out
}

func userIDs(oids []primitive.ObjectID) []models.UserID {
	out := make([]models.UserID, 0, len(oids))
	for _, oid := range oids {
		out = append(out, models.UserID(oid.Hex()))
	}
	return out
}

func notFoundOr(err error, resource string, id any) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.NewNotFoundError(resource, id)
	}
	return fmt.Errorf("%s %v: %w", resource, id, err)
}

func clampLimit(limit int) int64 {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return int64(limit)
}

// sizeOf is the $size of an array field that may be missing.
func sizeOf(field string) bson.M {
	return bson.M{"$size": bson.M{"$ifNull": bson.A{"$" + field, bson.A{}}}}
}

func arrayOf(field string) bson.M {
	return bson.M{"$ifNull": bson.A{"$" + field, bson.A{}}}
}
