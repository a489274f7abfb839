package repository

import (
	"context"
	"testing"

	"projecthub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	u := createUser(t, repo, "Ada Lovelace", models.RoleStudent)
	assert.True(t, u.ID.IsNative())
	assert.Equal(t, models.DefaultPhoto, u.Photo)
	assert.Equal(t, models.ProfileStudent, u.Profile.Type)

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada.lovelace@example.com", got.Email)

	byEmail, err := repo.GetByEmail(ctx, "  ADA.lovelace@example.com ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)
}

func TestUserRepository_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)

	createUser(t, repo, "Grace Hopper", models.RoleStudent)
	err := repo.Create(context.Background(), &models.User{
		Email:        "grace.hopper@example.com",
		PasswordHash: "x",
		FullName:     "Impostor",
	})
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeConflict))
}

func TestUserRepository_GetByID_NotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	tests := []struct {
		name string
		id   models.UserID
	}{
		{"malformed", "not-an-id"},
		{"email", "someone@example.com"},
		{"missing", models.NewUserID()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.GetByID(ctx, tt.id)
			assert.True(t, models.IsNotFound(err), "got %v", err)
		})
	}
}

func TestUserRepository_GetByIDs_SkipsForeignRefs(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)

	a := createUser(t, repo, "Alan Turing", models.RoleStudent)
	b := createUser(t, repo, "Barbara Liskov", models.RoleMentor)

	users, err := repo.GetByIDs(context.Background(), []models.UserID{a.ID, "alan@example.com", b.ID, a.ID})
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestUserRepository_ListByRoleSet(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	createUser(t, repo, "Student One", models.RoleStudent)
	mentor := createUser(t, repo, "Mentor One", models.RoleMentor)
	admin := createUser(t, repo, "Admin One", models.RoleAdmin)
	blocked := createUser(t, repo, "Blocked Mentor", models.RoleMentor)
	_, err := repo.SetStatus(ctx, blocked.ID, true, true)
	require.NoError(t, err)

	users, err := repo.List(ctx, UserFilter{Roles: models.DefaultDirectoryRoles, InteractiveOnly: true})
	require.NoError(t, err)

	var ids []models.UserID
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	assert.ElementsMatch(t, []models.UserID{mentor.ID, admin.ID}, ids)
}

func TestUserRepository_SetRoleKeepsProfile(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	u := createUser(t, repo, "Linus Student", models.RoleStudent)
	got, err := repo.SetRole(ctx, u.ID, models.RoleAdmin, models.ProfileStudent)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, got.Type)
	assert.Equal(t, models.ProfileStudent, got.Profile.Type)

	_, err = repo.SetRole(ctx, models.NewUserID(), models.RoleAdmin, models.ProfileStudent)
	assert.True(t, models.IsNotFound(err))
}

func TestUserRepository_UpdateProfileIgnoresCounters(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	u := createUser(t, repo, "Margaret Hamilton", models.RoleStudent)
	u.FullName = "Margaret H."
	u.Profile.Bio = "Apollo"
	u.FollowerCount = 99
	u.Type = models.RoleSuperAdmin
	require.NoError(t, repo.UpdateProfile(ctx, u))

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Margaret H.", got.FullName)
	assert.Equal(t, "Apollo", got.Profile.Bio)
	assert.Equal(t, 0, got.FollowerCount)
	assert.Equal(t, models.RoleStudent, got.Type)
}

func TestUserRepository_FollowRecomputesCounts(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	a := createUser(t, repo, "Follower A", models.RoleStudent)
	b := createUser(t, repo, "Followee B", models.RoleMentor)

	added, err := repo.Follow(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = repo.Follow(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, added, "second follow is a no-op")

	gotA, _ := repo.GetByID(ctx, a.ID)
	gotB, _ := repo.GetByID(ctx, b.ID)
	assert.Equal(t, 1, gotA.FollowingCount)
	assert.Equal(t, 1, gotB.FollowerCount)

	followers, following, err := repo.FollowSets(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.UserID{a.ID}, followers)
	assert.Empty(t, following)

	removed, err := repo.Unfollow(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	gotB, _ = repo.GetByID(ctx, b.ID)
	assert.Equal(t, 0, gotB.FollowerCount)

	_, err = repo.Follow(ctx, a.ID, models.NewUserID())
	assert.True(t, models.IsNotFound(err))
}

func TestUserRepository_RepairFollowCounts(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	a := createUser(t, repo, "Drifted User", models.RoleStudent)
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", a.ID).
		Updates(map[string]any{"follower_count": 7, "following_count": 3}).Error)

	repairs, err := repo.RepairFollowCounts(ctx, a.ID, true)
	require.NoError(t, err)
	assert.Len(t, repairs, 2)
	got, _ := repo.GetByID(ctx, a.ID)
	assert.Equal(t, 7, got.FollowerCount, "dry run leaves data untouched")

	repairs, err = repo.RepairFollowCounts(ctx, a.ID, false)
	require.NoError(t, err)
	assert.Len(t, repairs, 2)
	got, _ = repo.GetByID(ctx, a.ID)
	assert.Equal(t, 0, got.FollowerCount)
	assert.Equal(t, 0, got.FollowingCount)
}

func TestUserRepository_ListIDsAfter(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	for _, n := range []string{"K One", "K Two", "K Three"} {
		createUser(t, repo, n, models.RoleStudent)
	}

	first, err := repo.ListIDsAfter(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	rest, err := repo.ListIDsAfter(ctx, first[1], 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Greater(t, rest[0], first[1])
}
