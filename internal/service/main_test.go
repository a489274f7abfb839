package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"projecthub/internal/classify"
	"projecthub/internal/config"
	"projecthub/internal/database"
	"projecthub/internal/featureflags"
	"projecthub/internal/models"
	"projecthub/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	os.Setenv("APP_ENV", "test")
	goleak.VerifyTestMain(m,
		// database/sql keeps one opener goroutine per open pool.
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

// testEnv is a sqlite-backed store with services wired the way the server wires them.
type testEnv struct {
	db        *gorm.DB
	store     *repository.Store
	resolver  *IdentityResolver
	projects  *ProjectService
	comments  *CommentService
	users     *UserService
	provision *ProvisioningService
	reconcile *ReconcileService
}

type envOption func(*ProjectServiceConfig)

func withSharePolicy(policy string) envOption {
	return func(c *ProjectServiceConfig) { c.SharePolicy = policy }
}

func withFlags(raw string) envOption {
	return func(c *ProjectServiceConfig) { c.Flags = featureflags.NewManager(raw) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))

	cfg := ProjectServiceConfig{
		SharePolicy: config.ShareIncrement,
		Classifier:  classify.New(""),
		Flags:       featureflags.NewManager(""),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := repository.NewStore(db)
	resolver := NewIdentityResolver(store.Users)
	projects := NewProjectService(store, resolver, cfg)
	return &testEnv{
		db:        db,
		store:     store,
		resolver:  resolver,
		projects:  projects,
		comments:  NewCommentService(store.Comments, projects, nil),
		users:     NewUserService(store, UserServiceConfig{JWTSecret: "test-secret-test-secret-test-secret"}),
		provision: NewProvisioningService(store.Users, nil, nil),
		reconcile: NewReconcileService(store, resolver, cfg.Classifier),
	}
}

func (e *testEnv) user(t *testing.T, name string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{
		Email:        strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		PasswordHash: "x",
		FullName:     name,
		Type:         role,
		IsActive:     true,
	}
	require.NoError(t, e.store.Users.Create(context.Background(), u))
	return u
}

// project stores a genuine project: it has a real repository link and an uploaded image.
func (e *testEnv) project(t *testing.T, author *models.User, title string) *models.Project {
	t.Helper()
	p := &models.Project{
		Title:     title,
		Images:    []string{"/uploads/" + strings.Repeat("a", 64) + "/master.jpg"},
		GithubURL: "https://github.com/example/" + strings.ReplaceAll(title, " ", "-"),
		Author:    models.SnapshotOf(author),
	}
	require.NoError(t, e.store.Projects.Create(context.Background(), p))
	return p
}

// sample stores a project with placeholder links and a stock image.
func (e *testEnv) sample(t *testing.T, author *models.User, title string) *models.Project {
	t.Helper()
	p := &models.Project{
		Title:     title,
		Images:    []string{"https://images.example.com/stock.jpg"},
		GithubURL: "#",
		LiveURL:   "https://example.com",
		Author:    models.SnapshotOf(author),
	}
	require.NoError(t, e.store.Projects.Create(context.Background(), p))
	return p
}

func assertAppCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	require.Equal(t, code, appErr.Code, appErr.Message)
}
