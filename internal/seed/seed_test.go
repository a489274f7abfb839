package seed

import (
	"context"
	"strings"
	"testing"
	"time"

	"projecthub/internal/classify"
	"projecthub/internal/database"
	"projecthub/internal/models"
	"projecthub/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newStore(t *testing.T) (*gorm.DB, *repository.Store) {
	t.Helper()
	dsn := "file:seed_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))
	return db, repository.NewStore(db)
}

func smallOptions() Options {
	return Options{
		Students:       4,
		Mentors:        2,
		RealProjects:   3,
		SampleProjects: 2,
		MaxLikes:       3,
		Comments:       1,
		MaxDays:        30,
		SkipBcrypt:     true,
		RandSeed:       7,
	}
}

func TestSeed_ClassifiesAndKeepsCountersExact(t *testing.T) {
	db, store := newStore(t)
	ctx := context.Background()

	res, err := Seed(ctx, store, smallOptions())
	require.NoError(t, err)
	assert.Len(t, res.Users, 6)
	assert.Len(t, res.Projects, 3)
	assert.Len(t, res.Samples, 2)
	assert.Equal(t, 3, res.Comments)

	c := classify.New("")
	for _, p := range res.Samples {
		assert.True(t, c.IsSample(p), p.Title)
	}
	for _, p := range res.Projects {
		assert.False(t, c.IsSample(p), p.Title)
		stored, err := store.Projects.GetByID(ctx, p.ID)
		require.NoError(t, err)
		likes, shares := stored.Drift()
		assert.False(t, likes || shares, "seeded counters drift on %s", p.ID)
		assert.NotContains(t, stored.Likes, p.Author.ID)
	}

	mentors, err := store.Users.List(ctx, repository.UserFilter{Roles: []models.Role{models.RoleMentor}})
	require.NoError(t, err)
	assert.Len(t, mentors, 2)
	for _, m := range mentors {
		assert.Equal(t, models.ProfileMentor, m.Profile.Type)
	}

	require.NoError(t, Clean(db))
	var n int64
	require.NoError(t, db.Model(&models.User{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestSeed_DryRunWritesNothing(t *testing.T) {
	db, store := newStore(t)
	opts := smallOptions()
	opts.DryRun = true

	res, err := Seed(context.Background(), store, opts)
	require.NoError(t, err)
	assert.Len(t, res.Users, 6)
	for _, u := range res.Users {
		assert.True(t, u.ID.IsNative())
	}

	var n int64
	require.NoError(t, db.Model(&models.Project{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestFactory_BuildProjectSpreadsTimestamps(t *testing.T) {
	f := NewFactory(nil, Options{MaxDays: 5, RandSeed: 1})
	author := f.BuildUser(models.RoleStudent)
	author.ApplyDefaults(time.Now().UTC())

	p := f.BuildProject(author)
	assert.True(t, strings.HasPrefix(p.GithubURL, "https://github.com/"))
	assert.WithinDuration(t, time.Now(), p.CreatedAt, 5*24*time.Hour+time.Minute)
	assert.Equal(t, author.ID, p.Author.ID)
}
