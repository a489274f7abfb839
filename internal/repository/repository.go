// Package repository provides the relational (gorm) store and the store
// interfaces shared with the document backend.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"projecthub/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// UserFilter selects users for directory and admin listings.
type UserFilter struct {
	Roles []models.Role
	// InteractiveOnly restricts the result to active, unblocked accounts.
	InteractiveOnly bool
	Limit           int
	Offset          int
}

// UserRepository defines persistence operations for users and the follow graph.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id models.UserID) (*models.User, error)
	GetByIDs(ctx context.Context, ids []models.UserID) ([]*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateProfile(ctx context.Context, user *models.User) error
	SetRole(ctx context.Context, id models.UserID, role models.Role, profileType models.ProfileType) (*models.User, error)
	SetStatus(ctx context.Context, id models.UserID, active, blocked bool) (*models.User, error)
	List(ctx context.Context, filter UserFilter) ([]*models.User, error)
	ListIDsAfter(ctx context.Context, after models.UserID, limit int) ([]models.UserID, error)

	// Follow adds follower→followee and recomputes both users' counts from the set.
	Follow(ctx context.Context, follower, followee models.UserID) (bool, error)
	Unfollow(ctx context.Context, follower, followee models.UserID) (bool, error)
	FollowSets(ctx context.Context, id models.UserID) (followers, following []models.UserID, err error)
	RepairFollowCounts(ctx context.Context, id models.UserID, dryRun bool) ([]models.CounterRepair, error)
}

// ProjectFilter selects projects for feeds.
type ProjectFilter struct {
	// AuthorIDs matches author snapshot ids. Legacy snapshots may carry an email.
	AuthorIDs []models.UserID
	Limit     int
	Offset    int
}

// InteractionResult is the outcome of a like or share mutation. Count is
// recomputed from the backing set in the same atomic operation.
type InteractionResult struct {
	Count   int
	Changed bool
}

// ProjectRepository defines persistence operations for projects and their
// like and share sets.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	GetByID(ctx context.Context, id string) (*models.Project, error)
	List(ctx context.Context, filter ProjectFilter) ([]*models.Project, error)
	ListAfter(ctx context.Context, after string, limit int) ([]*models.Project, error)
	Update(ctx context.Context, project *models.Project) error
	Delete(ctx context.Context, id string) error
	UpdateAuthorSnapshots(ctx context.Context, match models.UserID, author models.Author) (int64, error)

	Like(ctx context.Context, projectID string, userID models.UserID) (InteractionResult, error)
	Unlike(ctx context.Context, projectID string, userID models.UserID) (InteractionResult, error)
	// AddShare records one share click; a repeated clickID is a no-op.
	AddShare(ctx context.Context, projectID string, userID models.UserID, clickID string) (InteractionResult, error)
	RemoveShares(ctx context.Context, projectID string, userID models.UserID) (InteractionResult, error)
	// RepairCounters rewrites like_count and share_count from their sets.
	RepairCounters(ctx context.Context, id string, dryRun bool) ([]models.CounterRepair, error)
}

// CommentRepository defines persistence operations for project comments.
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id string) (*models.Comment, error)
	ListByProject(ctx context.Context, projectID string, limit, offset int) ([]*models.Comment, error)
	Update(ctx context.Context, comment *models.Comment) error
	Delete(ctx context.Context, id string) error
}

// Store bundles one backend's repositories.
type Store struct {
	Users    UserRepository
	Projects ProjectRepository
	Comments CommentRepository
	Backend  string
}

// NewStore returns the gorm-backed store.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		Users:    NewUserRepository(db),
		Projects: NewProjectRepository(db),
		Comments: NewCommentRepository(db),
		Backend:  "postgres",
	}
}

// IsUniqueViolation reports whether err is a unique-constraint failure from
// Postgres or sqlite.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFoundOr(err error, resource string, id any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	return fmt.Errorf("%s %v: %w", strings.ToLower(resource), id, err)
}

func nativeUserIDs(ids []models.UserID) []models.UserID {
	out := make([]models.UserID, 0, len(ids))
	seen := make(map[models.UserID]struct{}, len(ids))
	for _, id := range ids {
		id = models.NormalizeUserID(id.String())
		if !id.IsNative() {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
