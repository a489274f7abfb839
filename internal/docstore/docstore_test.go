package docstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"projecthub/internal/models"
	"projecthub/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// setupTestDB returns a fresh database named after the test, or skips when
// MONGO_TEST_URI is unset.
func setupTestDB(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := Connect(ctx, uri)
	require.NoError(t, err)

	name := "projecthub_test_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	if len(name) > 60 {
		name = name[:60]
	}
	db := client.Database(name)
	require.NoError(t, db.Drop(ctx))
	require.NoError(t, EnsureIndexes(ctx, db))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return db
}

func newUser(t *testing.T, store *repository.Store, name string) *models.User {
	t.Helper()
	u := &models.User{
		Email:        strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		PasswordHash: "x",
		FullName:     name,
		IsActive:     true,
	}
	require.NoError(t, store.Users.Create(context.Background(), u))
	return u
}

func TestObjectIDHelpers(t *testing.T) {
	native := models.NewID()
	oid, ok := objectID(native)
	require.True(t, ok)
	assert.Equal(t, native, oid.Hex())

	_, ok = objectID("someone@example.com")
	assert.False(t, ok)

	ids := objectIDs([]models.UserID{models.UserID(native), "legacy@example.com"})
	assert.Len(t, ids, 1)
	assert.Equal(t, []models.UserID{models.UserID(native)}, userIDs(ids))

	assert.True(t, containsOID([]primitive.ObjectID{oid}, oid))
	assert.Equal(t, int64(20), clampLimit(0))
	assert.Equal(t, int64(100), clampLimit(1000))
}

func TestUserStore_CreateConflict(t *testing.T) {
	store := NewStore(setupTestDB(t))
	u := newUser(t, store, "Mongo Person")

	err := store.Users.Create(context.Background(), &models.User{Email: u.Email, FullName: "Dup", PasswordHash: "x"})
	assert.True(t, models.HasCode(err, models.CodeConflict))

	got, err := store.Users.GetByEmail(context.Background(), strings.ToUpper(u.Email))
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestProjectStore_CountersFollowSets(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	author := newUser(t, store, "Doc Author")
	fan := newUser(t, store, "Doc Fan")
	p := &models.Project{Title: "doc", Author: models.SnapshotOf(author)}
	require.NoError(t, store.Projects.Create(ctx, p))

	res, err := store.Projects.Like(ctx, p.ID, fan.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.InteractionResult{Count: 1, Changed: true}, res)
	res, err = store.Projects.Like(ctx, p.ID, fan.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.InteractionResult{Count: 1, Changed: false}, res)

	res, err = store.Projects.AddShare(ctx, p.ID, fan.ID, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	res, err = store.Projects.AddShare(ctx, p.ID, fan.ID, "c1")
	require.NoError(t, err)
	assert.False(t, res.Changed)

	got, err := store.Projects.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, len(got.Likes), got.LikeCount)
	assert.Equal(t, len(got.Shares), got.ShareCount)

	res, err = store.Projects.Unlike(ctx, p.ID, fan.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.InteractionResult{Count: 0, Changed: true}, res)
}

func TestProjectStore_ConcurrentLikes(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	author := newUser(t, store, "Busy Author")
	p := &models.Project{Title: "busy", Author: models.SnapshotOf(author)}
	require.NoError(t, store.Projects.Create(ctx, p))

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		u := newUser(t, store, fmt.Sprintf("Busy Liker %d", i))
		wg.Add(2)
		for range 2 {
			go func() {
				defer wg.Done()
				_, err := store.Projects.Like(ctx, p.ID, u.ID)
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	got, err := store.Projects.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, got.Likes, n)
	assert.Equal(t, n, got.LikeCount)
}

func TestProjectStore_RepairCounters(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	author := newUser(t, store, "Repair Author")
	p := &models.Project{Title: "repair", Author: models.SnapshotOf(author)}
	require.NoError(t, store.Projects.Create(ctx, p))

	oid, _ := objectID(p.ID)
	_, err := db.Collection(projectsCollection).UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"likeCount": 4}})
	require.NoError(t, err)

	repairs, err := store.Projects.RepairCounters(ctx, p.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []models.CounterRepair{{ID: p.ID, Kind: "likes", Stored: 4, Actual: 0}}, repairs)

	got, err := store.Projects.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.LikeCount)
}

func TestUserStore_Follow(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	a := newUser(t, store, "Doc Follower")
	b := newUser(t, store, "Doc Followee")

	added, err := store.Users.Follow(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = store.Users.Follow(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, added)

	gotB, err := store.Users.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotB.FollowerCount)
	assert.Equal(t, []models.UserID{a.ID}, gotB.Followers)

	_, err = store.Users.Follow(ctx, a.ID, models.NewUserID())
	assert.True(t, models.IsNotFound(err))
}
