package docstore

import (
	"context"
	"log/slog"
	"strings"
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

type profileDoc struct {
	Type       models.ProfileType `bson:"type"`
	JoinedDate time.Time          `bson:"joinedDate"`
	Bio        string             `bson:"bio,omitempty"`
	Department string             `bson:"department,omitempty"`
	Position   string             `bson:"position,omitempty"`
	Skills     []string           `bson:"skills,omitempty"`
}

type userDoc struct {
	ID             primitive.ObjectID   `bson:"_id"`
	Email          string               `bson:"email"`
	PasswordHash   string               `bson:"passwordHash"`
	FullName       string               `bson:"fullName"`
	Photo          string               `bson:"photo"`
	Type           models.Role          `bson:"type"`
	Profile        profileDoc           `bson:"profile"`
	Followers      []primitive.ObjectID `bson:"followers"`
	Following      []primitive.ObjectID `bson:"following"`
	FollowerCount  int                  `bson:"followerCount"`
	FollowingCount int                  `bson:"followingCount"`
	IsActive       bool                 `bson:"isActive"`
	IsBlocked      bool                 `bson:"isBlocked"`
	CreatedAt      time.Time            `bson:"createdAt"`
	UpdatedAt      time.Time            `bson:"updatedAt"`
}

func toUserDoc(u *models.User, oid primitive.ObjectID) userDoc {
	return userDoc{
		ID:           oid,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		FullName:     u.FullName,
		Photo:        u.Photo,
		Type:         u.Type,
		Profile: profileDoc{
			Type:       u.Profile.Type,
			JoinedDate: u.Profile.JoinedDate,
			Bio:        u.Profile.Bio,
			Department: u.Profile.Department,
			Position:   u.Profile.Position,
			Skills:     u.Profile.Skills,
		},
		Followers: []primitive.ObjectID{},
		Following: []primitive.ObjectID{},
		IsActive:  u.IsActive,
		IsBlocked: u.IsBlocked,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (d *userDoc) model() *models.User {
	return &models.User{
		ID:           models.UserID(d.ID.Hex()),
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		FullName:     d.FullName,
		Photo:        d.Photo,
		Type:         d.Type,
		Profile: models.Profile{
			Type:       d.Profile.Type,
			JoinedDate: d.Profile.JoinedDate,
			Bio:        d.Profile.Bio,
			Department: d.Profile.Department,
			Position:   d.Profile.Position,
			Skills:     d.Profile.Skills,
		},
		FollowerCount:  d.FollowerCount,
		FollowingCount: d.FollowingCount,
		IsActive:       d.IsActive,
		IsBlocked:      d.IsBlocked,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		Followers:      userIDs(d.Followers),
		Following:      userIDs(d.Following),
	}
}

// UserStore is the Mongo user repository.
type UserStore struct {
	c   *mongo.Collection
	log *observability.RepoLogger
}

// NewUserStore returns a UserStore over db.users.
func NewUserStore(db *mongo.Database) *UserStore {
	return &UserStore{
		c:   db.Collection(usersCollection),
		log: observability.NewRepoLogger(middleware.Logger, "mongo", usersCollection),
	}
}

var _ repository.UserRepository = (*UserStore)(nil)

func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	user.ApplyDefaults(time.Now().UTC())
	oid, ok := objectID(user.ID.String())
	if !ok {
		return models.NewValidationError("user id must be a native id")
	}
	if _, err := s.c.InsertOne(ctx, toUserDoc(user, oid)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.NewConflictError("An account with this email already exists")
		}
		return err
	}
	user.Followers = []models.UserID{}
	user.Following = []models.UserID{}
	return nil
}

func (s *UserStore) findOne(ctx context.Context, filter bson.M, ref any) (*models.User, error) {
	var d userDoc
	if err := s.c.FindOne(ctx, filter).Decode(&d); err != nil {
		return nil, notFoundOr(err, "User", ref)
	}
	return d.model(), nil
}

func (s *UserStore) GetByID(ctx context.Context, id models.UserID) (*models.User, error) {
	oid, ok := objectID(id.String())
	if !ok {
		return nil, models.NewNotFoundError("User", id)
	}
	defer observability.TrackQuery("mongo", "user_get")()
	return s.findOne(ctx, bson.M{"_id": oid}, id)
}

func (s *UserStore) GetByIDs(ctx context.Context, ids []models.UserID) ([]*models.User, error) {
	oids := objectIDs(ids)
	if len(oids) == 0 {
		return nil, nil
	}
	return s.find(ctx, bson.M{"_id": bson.M{"$in": oids}}, nil)
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, models.NewNotFoundError("User", email)
	}
	return s.findOne(ctx, bson.M{"email": email}, email)
}

func (s *UserStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.User, error) {
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*models.User, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].model())
	}
	return out, nil
}

func (s *UserStore) UpdateProfile(ctx context.Context, user *models.User) error {
	oid, ok := objectID(user.ID.String())
	if !ok {
		return models.NewNotFoundError("User", user.ID)
	}
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{
		"fullName":           user.FullName,
		"photo":              user.Photo,
		"profile.bio":        user.Profile.Bio,
		"profile.department": user.Profile.Department,
		"profile.position":   user.Profile.Position,
		"profile.skills":     user.Profile.Skills,
		"updatedAt":          time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.NewNotFoundError("User", user.ID)
	}
	return nil
}

func (s *UserStore) SetRole(ctx context.Context, id models.UserID, role models.Role, profileType models.ProfileType) (*models.User, error) {
	return s.setFields(ctx, id, bson.M{"type": role, "profile.type": profileType})
}

func (s *UserStore) SetStatus(ctx context.Context, id models.UserID, active, blocked bool) (*models.User, error) {
	return s.setFields(ctx, id, bson.M{"isActive": active, "isBlocked": blocked})
}

func (s *UserStore) setFields(ctx context.Context, id models.UserID, fields bson.M) (*models.User, error) {
	oid, ok := objectID(id.String())
	if !ok {
		return nil, models.NewNotFoundError("User", id)
	}
	fields["updatedAt"] = time.Now().UTC()

	var d userDoc
	err := s.c.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": fields},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&d)
	if err != nil {
		return nil, notFoundOr(err, "User", id)
	}
	return d.model(), nil
}

func (s *UserStore) List(ctx context.Context, filter repository.UserFilter) ([]*models.User, error) {
	q := bson.M{}
	if len(filter.Roles) > 0 {
		q["type"] = bson.M{"$in": filter.Roles}
	}
	if filter.InteractiveOnly {
		q["isActive"] = true
		q["isBlocked"] = false
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "fullName", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(filter.Offset)).
		SetLimit(clampLimit(filter.Limit))
	return s.find(ctx, q, opts)
}

func (s *UserStore) ListIDsAfter(ctx context.Context, after models.UserID, limit int) ([]models.UserID, error) {
	q := bson.M{}
	if oid, ok := objectID(after.String()); ok {
		q["_id"] = bson.M{"$gt": oid}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"_id": 1})

	cur, err := s.c.Find(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := make([]models.UserID, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.UserID(r.ID.Hex()))
	}
	return out, nil
}

// addToSetPipeline appends member to field when absent and rewrites countField
// from the resulting array in the same update.
func addToSetPipeline(field, countField string, member any) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{field: bson.M{"$cond": bson.A{
			bson.M{"$in": bson.A{member, arrayOf(field)}},
			arrayOf(field),
			bson.M{"$concatArrays": bson.A{arrayOf(field), bson.A{member}}},
		}}}}},
		{{Key: "$set", Value: bson.M{countField: sizeOf(field)}}},
	}
}

// removeFromSetPipeline drops every element matching keep=false and rewrites
// countField from the resulting array.
func removeFromSetPipeline(field, countField string, keep bson.M) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{field: bson.M{"$filter": bson.M{
			"input": arrayOf(field),
			"as":    "m",
			"cond":  keep,
		}}}}},
		{{Key: "$set", Value: bson.M{countField: sizeOf(field)}}},
	}
}

func (s *UserStore) requireUsers(ctx context.Context, oids ...primitive.ObjectID) error {
	n, err := s.c.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return err
	}
	if int(n) != len(oids) {
		return models.NewNotFoundError("User", oids[len(oids)-1].Hex())
	}
	return nil
}

// Follow updates the follower's following set and the followee's follower
// set. Each document's count is rewritten with its own set.
func (s *UserStore) Follow(ctx context.Context, follower, followee models.UserID) (bool, error) {
	a, okA := objectID(follower.String())
	b, okB := objectID(followee.String())
	if !okA || !okB {
		return false, models.NewNotFoundError("User", followee)
	}
	defer observability.TrackQuery("mongo", "follow")()
	if err := s.requireUsers(ctx, a, b); err != nil {
		return false, err
	}

	var before userDoc
	err := s.c.FindOneAndUpdate(ctx, bson.M{"_id": a}, addToSetPipeline("following", "followingCount", b),
		options.FindOneAndUpdate().SetReturnDocument(options.Before).SetProjection(bson.M{"following": 1})).Decode(&before)
	if err != nil {
		return false, notFoundOr(err, "User", follower)
	}
	if _, err := s.c.UpdateOne(ctx, bson.M{"_id": b}, addToSetPipeline("followers", "followerCount", a)); err != nil {
		return false, err
	}

	added := !containsOID(before.Following, b)
	s.log.LogWrite(ctx, "follow", slog.String("follower", follower.String()), slog.String("followee", followee.String()))
	return added, nil
}

func (s *UserStore) Unfollow(ctx context.Context, follower, followee models.UserID) (bool, error) {
	a, okA := objectID(follower.String())
	b, okB := objectID(followee.String())
	if !okA || !okB {
		return false, models.NewNotFoundError("User", followee)
	}
	defer observability.TrackQuery("mongo", "unfollow")()
	if err := s.requireUsers(ctx, a, b); err != nil {
		return false, err
	}

	var before userDoc
	err := s.c.FindOneAndUpdate(ctx, bson.M{"_id": a},
		removeFromSetPipeline("following", "followingCount", bson.M{"$ne": bson.A{"$$m", b}}),
		options.FindOneAndUpdate().SetReturnDocument(options.Before).SetProjection(bson.M{"following": 1})).Decode(&before)
	if err != nil {
		return false, notFoundOr(err, "User", follower)
	}
	if _, err := s.c.UpdateOne(ctx, bson.M{"_id": b},
		removeFromSetPipeline("followers", "followerCount", bson.M{"$ne": bson.A{"$$m", a}})); err != nil {
		return false, err
	}
	return containsOID(before.Following, b), nil
}

func (s *UserStore) FollowSets(ctx context.Context, id models.UserID) ([]models.UserID, []models.UserID, error) {
	u, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return u.Followers, u.Following, nil
}

func (s *UserStore) RepairFollowCounts(ctx context.Context, id models.UserID, dryRun bool) ([]models.CounterRepair, error) {
	oid, ok := objectID(id.String())
	if !ok {
		return nil, models.NewNotFoundError("User", id)
	}
	var d userDoc
	if err := s.c.FindOne(ctx, bson.M{"_id": oid}).Decode(&d); err != nil {
		return nil, notFoundOr(err, "User", id)
	}

	var repairs []models.CounterRepair
	if d.FollowerCount != len(d.Followers) {
		repairs = append(repairs, models.CounterRepair{ID: id.String(), Kind: "followers", Stored: d.FollowerCount, Actual: len(d.Followers)})
	}
	if d.FollowingCount != len(d.Following) {
		repairs = append(repairs, models.CounterRepair{ID: id.String(), Kind: "following", Stored: d.FollowingCount, Actual: len(d.Following)})
	}
	if len(repairs) == 0 || dryRun {
		return repairs, nil
	}

	_, err := s.c.UpdateOne(ctx, bson.M{"_id": oid}, mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"followerCount":  sizeOf("followers"),
			"followingCount": sizeOf("following"),
		}}},
	})
	if err != nil {
		return nil, err
	}
	s.log.LogRepair(ctx, "repair_follow_counts", slog.String("user_id", id.String()), slog.Int("repairs", len(repairs)))
	return repairs, nil
}

func containsOID(set []primitive.ObjectID, oid primitive.ObjectID) bool {
	for _, m := range set {
		if m == oid {
			return true
		}
	}
	return false
}
