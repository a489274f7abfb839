package docstore

import (
	"context"
	"log/slog"
	"time"

	"projecthub/internal/middleware"
	"projecthub/internal/models"
	"projecthub/internal/observability"
	"projecthub/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type authorDoc struct {
	// ID is a native id in hex form, or an email on legacy documents.
	ID    string `bson:"id"`
	Name  string `bson:"name"`
	Image string `bson:"image"`
}

type shareDoc struct {
	UserID   primitive.ObjectID `bson:"userId"`
	ClickID  string             `bson:"clickId"`
	SharedAt time.Time          `bson:"sharedAt"`
}

type projectDoc struct {
	ID          primitive.ObjectID   `bson:"_id"`
	Title       string               `bson:"title"`
	Description string               `bson:"description"`
	Tags        []string             `bson:"tags"`
	Images      []string             `bson:"images"`
	GithubURL   string               `bson:"githubUrl"`
	LiveURL     string               `bson:"liveUrl"`
	Author      authorDoc            `bson:"author"`
	Likes       []primitive.ObjectID `bson:"likes"`
	LikeCount   int                  `bson:"likeCount"`
	Shares      []shareDoc           `bson:"shares"`
	ShareCount  int                  `bson:"shareCount"`
	CreatedAt   time.Time            `bson:"createdAt"`
	UpdatedAt   time.Time            `bson:"updatedAt"`
}

func (d *projectDoc) model() *models.Project {
	p := &models.Project{
		ID:          d.ID.Hex(),
		Title:       d.Title,
		Description: d.Description,
		Tags:        d.Tags,
		Images:      d.Images,
		GithubURL:   d.GithubURL,
		LiveURL:     d.LiveURL,
		Author: models.Author{
			ID:    models.UserID(d.Author.ID),
			Name:  d.Author.Name,
			Image: d.Author.Image,
		},
		Likes:      userIDs(d.Likes),
		LikeCount:  d.LikeCount,
		Shares:     make([]models.Share, 0, len(d.Shares)),
		ShareCount: d.ShareCount,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
	for _, s := range d.Shares {
		p.Shares = append(p.Shares, models.Share{
			ProjectID: p.ID,
			ClickID:   s.ClickID,
			UserID:    models.UserID(s.UserID.Hex()),
			SharedAt:  s.SharedAt,
		})
	}
	return p
}

// ProjectStore is the Mongo project repository. Likes and shares live inside
// the project document.
type ProjectStore struct {
	c        *mongo.Collection
	comments *mongo.Collection
	log      *observability.RepoLogger
}

// NewProjectStore returns a ProjectStore over db.projects.
func NewProjectStore(db *mongo.Database) *ProjectStore {
	return &ProjectStore{
		c:        db.Collection(projectsCollection),
		comments: db.Collection(commentsCollection),
		log:      observability.NewRepoLogger(middleware.Logger, "mongo", projectsCollection),
	}
}

var _ repository.ProjectRepository = (*ProjectStore)(nil)

func (s *ProjectStore) Create(ctx context.Context, project *models.Project) error {
	if project.ID == "" {
		project.ID = models.NewID()
	}
	oid, ok := objectID(project.ID)
	if !ok {
		return models.NewValidationError("project id must be a native id")
	}
	now := time.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now
	project.Likes = []models.UserID{}
	project.Shares = []models.Share{}
	project.LikeCount = 0
	project.ShareCount = 0

	_, err := s.c.InsertOne(ctx, projectDoc{
		ID:          oid,
		Title:       project.Title,
		Description: project.Description,
		Tags:        project.Tags,
		Images:      project.Images,
		GithubURL:   project.GithubURL,
		LiveURL:     project.LiveURL,
		Author:      authorDoc{ID: project.Author.ID.String(), Name: project.Author.Name, Image: project.Author.Image},
		Likes:       []primitive.ObjectID{},
		Shares:      []shareDoc{},
		CreatedAt:   project.CreatedAt,
		UpdatedAt:   project.UpdatedAt,
	})
	return err
}

func (s *ProjectStore) GetByID(ctx context.Context, id string) (*models.Project, error) {
	oid, ok := objectID(id)
	if !ok {
		return nil, models.NewNotFoundError("Project", id)
	}
	defer observability.TrackQuery("mongo", "project_get")()

	var d projectDoc
	if err := s.c.FindOne(ctx, bson.M{"_id": oid}).Decode(&d); err != nil {
		return nil, notFoundOr(err, "Project", id)
	}
	p := d.model()
	if err := s.fillCommentCounts(ctx, []*models.Project{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ProjectStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Project, error) {
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []projectDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*models.Project, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].model())
	}
	if err := s.fillCommentCounts(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ProjectStore) List(ctx context.Context, filter repository.ProjectFilter) ([]*models.Project, error) {
	q := bson.M{}
	if len(filter.AuthorIDs) > 0 {
		refs := make([]string, 0, len(filter.AuthorIDs))
		for _, id := range filter.AuthorIDs {
			refs = append(refs, id.String())
		}
		q["author.id"] = bson.M{"$in": refs}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(filter.Offset)).
		SetLimit(clampLimit(filter.Limit))
	return s.find(ctx, q, opts)
}

func (s *ProjectStore) ListAfter(ctx context.Context, after string, limit int) ([]*models.Project, error) {
	q := bson.M{}
	if oid, ok := objectID(after); ok {
		q["_id"] = bson.M{"$gt": oid}
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit))
	return s.find(ctx, q, opts)
}

func (s *ProjectStore) fillCommentCounts(ctx context.Context, projects []*models.Project) error {
	if len(projects) == 0 {
		return nil
	}
	oids := make([]primitive.ObjectID, 0, len(projects))
	byID := make(map[primitive.ObjectID]*models.Project, len(projects))
	for _, p := range projects {
		oid, _ := objectID(p.ID)
		oids = append(oids, oid)
		byID[oid] = p
	}

	cur, err := s.comments.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"projectId": bson.M{"$in": oids}}}},
		{{Key: "$group", Value: bson.M{"_id": "$projectId", "n": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	var rows []struct {
		ID primitive.ObjectID `bson:"_id"`
		N  int                `bson:"n"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return err
	}
	for _, r := range rows {
		if p := byID[r.ID]; p != nil {
			p.CommentCount = r.N
		}
	}
	return nil
}

func (s *ProjectStore) Update(ctx context.Context, project *models.Project) error {
	oid, ok := objectID(project.ID)
	if !ok {
		return models.NewNotFoundError("Project", project.ID)
	}
	project.UpdatedAt = time.Now().UTC()
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{
		"title":       project.Title,
		"description": project.Description,
		"tags":        project.Tags,
		"images":      project.Images,
		"githubUrl":   project.GithubURL,
		"liveUrl":     project.LiveURL,
		"updatedAt":   project.UpdatedAt,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.NewNotFoundError("Project", project.ID)
	}
	return nil
}

func (s *ProjectStore) Delete(ctx context.Context, id string) error {
	oid, ok := objectID(id)
	if !ok {
		return models.NewNotFoundError("Project", id)
	}
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return models.NewNotFoundError("Project", id)
	}
	_, err = s.comments.DeleteMany(ctx, bson.M{"projectId": oid})
	return err
}

func (s *ProjectStore) UpdateAuthorSnapshots(ctx context.Context, match models.UserID, author models.Author) (int64, error) {
	res, err := s.c.UpdateMany(ctx, bson.M{"author.id": match.String()}, bson.M{"$set": bson.M{
		"author.id":    author.ID.String(),
		"author.name":  author.Name,
		"author.image": author.Image,
	}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// mutate applies a set pipeline atomically and reports the resulting count.
// The pre-image and the pipeline together determine the post-image.
func (s *ProjectStore) mutate(ctx context.Context, op, id string, pipeline mongo.Pipeline, outcome func(before *projectDoc) postImage) (repository.InteractionResult, error) {
	oid, ok := objectID(id)
	if !ok {
		return repository.InteractionResult{}, models.NewNotFoundError("Project", id)
	}
	defer observability.TrackQuery("mongo", op)()

	var before projectDoc
	err := s.c.FindOneAndUpdate(ctx, bson.M{"_id": oid}, pipeline,
		options.FindOneAndUpdate().
			SetReturnDocument(options.Before).
			SetProjection(bson.M{"likes": 1, "shares": 1})).Decode(&before)
	if err != nil {
		err = notFoundOr(err, "Project", id)
		if !models.IsNotFound(err) {
			s.log.LogError(ctx, op, err)
		}
		return repository.InteractionResult{}, err
	}
	o := outcome(&before)
	return repository.InteractionResult{Count: o.Count, Changed: o.Changed}, nil
}

// postImage is what a set mutation left behind.
type postImage struct {
	Count   int
	Changed bool
}

func (s *ProjectStore) Like(ctx context.Context, projectID string, userID models.UserID) (repository.InteractionResult, error) {
	uid, ok := objectID(userID.String())
	if !ok {
		return repository.InteractionResult{}, models.NewNotFoundError("User", userID)
	}
	return s.mutate(ctx, "like", projectID, addToSetPipeline("likes", "likeCount", uid), func(b *projectDoc) postImage {
		if containsOID(b.Likes, uid) {
			return postImage{Count: len(b.Likes)}
		}
		return postImage{Count: len(b.Likes) + 1, Changed: true}
	})
}

func (s *ProjectStore) Unlike(ctx context.Context, projectID string, userID models.UserID) (repository.InteractionResult, error) {
	uid, ok := objectID(userID.String())
	if !ok {
		return repository.InteractionResult{}, models.NewNotFoundError("User", userID)
	}
	pipeline := removeFromSetPipeline("likes", "likeCount", bson.M{"$ne": bson.A{"$$m", uid}})
	return s.mutate(ctx, "unlike", projectID, pipeline, func(b *projectDoc) postImage {
		if containsOID(b.Likes, uid) {
			return postImage{Count: len(b.Likes) - 1, Changed: true}
		}
		return postImage{Count: len(b.Likes)}
	})
}

func (s *ProjectStore) AddShare(ctx context.Context, projectID string, userID models.UserID, clickID string) (repository.InteractionResult, error) {
	uid, ok := objectID(userID.String())
	if !ok {
		return repository.InteractionResult{}, models.NewNotFoundError("User", userID)
	}
	entry := bson.M{"userId": uid, "clickId": clickID, "sharedAt": time.Now().UTC()}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"shares": bson.M{"$cond": bson.A{
			bson.M{"$in": bson.A{clickID, bson.M{"$ifNull": bson.A{"$shares.clickId", bson.A{}}}}},
			arrayOf("shares"),
			bson.M{"$concatArrays": bson.A{arrayOf("shares"), bson.A{entry}}},
		}}}}},
		{{Key: "$set", Value: bson.M{"shareCount": sizeOf("shares")}}},
	}
	return s.mutate(ctx, "share", projectID, pipeline, func(b *projectDoc) postImage {
		for _, sh := range b.Shares {
			if sh.ClickID == clickID {
				return postImage{Count: len(b.Shares)}
			}
		}
		return postImage{Count: len(b.Shares) + 1, Changed: true}
	})
}

func (s *ProjectStore) RemoveShares(ctx context.Context, projectID string, userID models.UserID) (repository.InteractionResult, error) {
	uid, ok := objectID(userID.String())
	if !ok {
		return repository.InteractionResult{}, models.NewNotFoundError("User", userID)
	}
	pipeline := removeFromSetPipeline("shares", "shareCount", bson.M{"$ne": bson.A{"$$m.userId", uid}})
	return s.mutate(ctx, "unshare", projectID, pipeline, func(b *projectDoc) postImage {
		kept := 0
		for _, sh := range b.Shares {
			if sh.UserID != uid {
				kept++
			}
		}
		return postImage{Count: kept, Changed: kept != len(b.Shares)}
	})
}

func (s *ProjectStore) RepairCounters(ctx context.Context, id string, dryRun bool) ([]models.CounterRepair, error) {
	oid, ok := objectID(id)
	if !ok {
		return nil, models.NewNotFoundError("Project", id)
	}
	var d projectDoc
	if err := s.c.FindOne(ctx, bson.M{"_id": oid}).Decode(&d); err != nil {
		return nil, notFoundOr(err, "Project", id)
	}

	var repairs []models.CounterRepair
	if d.LikeCount != len(d.Likes) {
		repairs = append(repairs, models.CounterRepair{ID: id, Kind: "likes", Stored: d.LikeCount, Actual: len(d.Likes)})
	}
	if d.ShareCount != len(d.Shares) {
		repairs = append(repairs, models.CounterRepair{ID: id, Kind: "shares", Stored: d.ShareCount, Actual: len(d.Shares)})
	}
	if len(repairs) == 0 || dryRun {
		return repairs, nil
	}

	_, err := s.c.UpdateOne(ctx, bson.M{"_id": oid}, mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"likeCount":  sizeOf("likes"),
			"shareCount": sizeOf("shares"),
		}}},
	})
	if err != nil {
		return nil, err
	}
	s.log.LogRepair(ctx, "repair_counters", slog.String("project_id", id), slog.Int("repairs", len(repairs)))
	return repairs, nil
}
