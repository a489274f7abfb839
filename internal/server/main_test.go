package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"projecthub/internal/cache"
	"projecthub/internal/config"
	"projecthub/internal/database"
	"projecthub/internal/middleware"
	"projecthub/internal/models"
	"projecthub/internal/repository"
	"projecthub/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func TestMain(m *testing.M) {
	os.Setenv("APP_ENV", "test")
	os.Exit(m.Run())
}

// testServer is a full app over an in-memory sqlite store and local uploads.
type testServer struct {
	srv   *Server
	app   *fiber.App
	db    *gorm.DB
	store *repository.Store
	mr    *miniredis.Miniredis
}

type serverOption func(*config.Config)

func withShareToggle() serverOption {
	return func(c *config.Config) { c.SharePolicy = config.ShareToggle }
}

func withFeatureFlags(raw string) serverOption {
	return func(c *config.Config) { c.FeatureFlags = raw }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:srv_%s?mode=memory&cache=shared", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache.SetClient(rdb)
	t.Cleanup(func() {
		cache.SetClient(nil)
		_ = rdb.Close()
	})

	uploads, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		JWTSecret:       testSecret,
		Env:             "test",
		StoreBackend:    config.StorePostgres,
		SharePolicy:     config.ShareIncrement,
		UploadsPrefix:   "/uploads/",
		UploadMaxSizeMB: 1,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := repository.NewStore(db)
	srv, err := NewServerWithDeps(cfg, store, rdb, uploads)
	require.NoError(t, err)
	srv.pingStore = func(ctx context.Context) error { return sqlDB.PingContext(ctx) }

	return &testServer{srv: srv, app: srv.App(), db: db, store: store, mr: mr}
}

func (ts *testServer) user(t *testing.T, name string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{
		Email:        strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		PasswordHash: "x",
		FullName:     name,
		Type:         role,
		IsActive:     true,
	}
	if role == models.RoleMentor {
		u.Profile.Type = models.ProfileMentor
	}
	require.NoError(t, ts.store.Users.Create(context.Background(), u))
	return u
}

func (ts *testServer) token(t *testing.T, u *models.User) string {
	t.Helper()
	tok, _, err := middleware.IssueAccessToken(testSecret, u.ID, time.Hour)
	require.NoError(t, err)
	return tok
}

// project stores a genuine project: it has a real repository link and an uploaded image.
func (ts *testServer) project(t *testing.T, author *models.User, title string) *models.Project {
	t.Helper()
	p := &models.Project{
		Title:     title,
		Images:    []string{"/uploads/" + strings.Repeat("b", 64) + "/master.jpg"},
		GithubURL: "https://github.com/example/" + strings.ReplaceAll(title, " ", "-"),
		Author:    models.SnapshotOf(author),
	}
	require.NoError(t, ts.store.Projects.Create(context.Background(), p))
	return p
}

// sample stores a project with placeholder links and a stock image.
func (ts *testServer) sample(t *testing.T, author *models.User, title string) *models.Project {
	t.Helper()
	p := &models.Project{
		Title:     title,
		Images:    []string{"https://images.example.com/stock.jpg"},
		GithubURL: "#",
		LiveURL:   "https://example.com",
		Author:    models.SnapshotOf(author),
	}
	require.NoError(t, ts.store.Projects.Create(context.Background(), p))
	return p
}

// do sends a request. body is JSON encoded unless it is already an io.Reader.
func (ts *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	return ts.doWithHeaders(t, method, path, token, body, nil)
}

func (ts *testServer) doWithHeaders(t *testing.T, method, path, token string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// errorBody decodes the standard error response.
func errorBody(t *testing.T, resp *http.Response) models.ErrorResponse {
	t.Helper()
	return decode[models.ErrorResponse](t, resp)
}
