package docstore

import (
	"context"
	"time"

	"projecthub/internal/models"
	"projecthub/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type commentDoc struct {
	ID         primitive.ObjectID `bson:"_id"`
	ProjectID  primitive.ObjectID `bson:"projectId"`
	UserID     string             `bson:"userId"`
	UserName   string             `bson:"userName"`
	UserAvatar string             `bson:"userAvatar"`
	Text       string             `bson:"text"`
	CreatedAt  time.Time          `bson:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt"`
}

func (d *commentDoc) model() *models.Comment {
	return &models.Comment{
		ID:         d.ID.Hex(),
		ProjectID:  d.ProjectID.Hex(),
		UserID:     models.UserID(d.UserID),
		UserName:   d.UserName,
		UserAvatar: d.UserAvatar,
		Text:       d.Text,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// CommentStore is the Mongo comment repository.
type CommentStore struct {
	c *mongo.Collection
}

// NewCommentStore returns a CommentStore over db.comments.
func NewCommentStore(db *mongo.Database) *CommentStore {
	return &CommentStore{c: db.Collection(commentsCollection)}
}

var _ repository.CommentRepository = (*CommentStore)(nil)

func (s *CommentStore) Create(ctx context.Context, comment *models.Comment) error {
	pid, ok := objectID(comment.ProjectID)
	if !ok {
		return models.NewNotFoundError("Project", comment.ProjectID)
	}
	if comment.ID == "" {
		comment.ID = models.NewID()
	}
	oid, _ := objectID(comment.ID)
	now := time.Now().UTC()
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = now
	}
	comment.UpdatedAt = now

	_, err := s.c.InsertOne(ctx, commentDoc{
		ID:         oid,
		ProjectID:  pid,
		UserID:     comment.UserID.String(),
		UserName:   comment.UserName,
		UserAvatar: comment.UserAvatar,
		Text:       comment.Text,
		CreatedAt:  comment.CreatedAt,
		UpdatedAt:  comment.UpdatedAt,
	})
	return err
}

func (s *CommentStore) GetByID(ctx context.Context, id string) (*models.Comment, error) {
	oid, ok := objectID(id)
	if !ok {
		return nil, models.NewNotFoundError("Comment", id)
	}
	var d commentDoc
	if err := s.c.FindOne(ctx, bson.M{"_id": oid}).Decode(&d); err != nil {
		return nil, notFoundOr(err, "Comment", id)
	}
	return d.model(), nil
}

func (s *CommentStore) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]*models.Comment, error) {
	pid, ok := objectID(projectID)
	if !ok {
		return []*models.Comment{}, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(clampLimit(limit))
	cur, err := s.c.Find(ctx, bson.M{"projectId": pid}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []commentDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*models.Comment, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].model())
	}
	return out, nil
}

func (s *CommentStore) Update(ctx context.Context, comment *models.Comment) error {
	oid, ok := objectID(comment.ID)
	if !ok {
		return models.NewNotFoundError("Comment", comment.ID)
	}
	comment.UpdatedAt = time.Now().UTC()
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{
		"text":      comment.Text,
		"updatedAt": comment.UpdatedAt,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.NewNotFoundError("Comment", comment.ID)
	}
	return nil
}

func (s *CommentStore) Delete(ctx context.Context, id string) error {
	oid, ok := objectID(id)
	if !ok {
		return models.NewNotFoundError("Comment", id)
	}
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return models.NewNotFoundError("Comment", id)
	}
	return nil
}
