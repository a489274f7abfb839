package repository

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"projecthub/internal/database"
	"projecthub/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	os.Setenv("APP_ENV", "test")
	os.Exit(m.Run())
}

// newTestDB opens a private shared-cache in-memory sqlite database with the
// full schema. One connection keeps writers serialized the way row locks do
// on Postgres.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	return gormDB, mock
}

func createUser(t *testing.T, repo UserRepository, name string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{
		Email:        strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		PasswordHash: "x",
		FullName:     name,
		Type:         role,
		IsActive:     true,
	}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

func createProject(t *testing.T, repo ProjectRepository, author *models.User, title string) *models.Project {
	t.Helper()
	p := &models.Project{
		Title:       title,
		Description: "A project about " + title,
		Images:      []string{"/uploads/abc/master.jpg"},
		GithubURL:   "https://github.com/example/" + strings.ReplaceAll(title, " ", "-"),
		Author:      models.SnapshotOf(author),
	}
	require.NoError(t, repo.Create(context.Background(), p))
	return p
}
