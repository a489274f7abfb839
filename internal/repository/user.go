package repository

import (
	"context"
	"log/slog"
	"strings"

	"projecthub/internal/middleware"
	"projecthub/internal/models"
	"projecthub/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const recountFollowsSQL = `UPDATE users SET
	follower_count = (SELECT COUNT(*) FROM user_follows WHERE user_follows.followee_id = users.id),
	following_count = (SELECT COUNT(*) FROM user_follows WHERE user_follows.follower_id = users.id)
WHERE id IN ?`

type userRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db, log: observability.NewRepoLogger(middleware.Logger, "postgres", "users")}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if IsUniqueViolation(err) {
			return models.NewConflictError("An account with this email already exists")
		}
		return err
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id models.UserID) (*models.User, error) {
	if !id.IsNative() {
		return nil, models.NewNotFoundError("User", id)
	}
	defer observability.TrackQuery("postgres", "user_get")()

	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "User", id)
	}
	return &user, nil
}

func (r *userRepository) GetByIDs(ctx context.Context, ids []models.UserID) ([]*models.User, error) {
	ids = nativeUserIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	var users []*models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, models.NewNotFoundError("User", email)
	}
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, notFoundOr(err, "User", email)
	}
	return &user, nil
}

// UpdateProfile writes the self-editable fields only. Counters, role and
// moderation flags have dedicated operations.
func (r *userRepository) UpdateProfile(ctx context.Context, user *models.User) error {
	res := r.db.WithContext(ctx).Model(user).
		Select("full_name", "photo", "profile_bio", "profile_department", "profile_position", "profile_skills", "updated_at").
		Updates(user)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", user.ID)
	}
	return nil
}

func (r *userRepository) SetRole(ctx context.Context, id models.UserID, role models.Role, profileType models.ProfileType) (*models.User, error) {
	return r.updateColumns(ctx, id, map[string]any{"type": role, "profile_type": profileType})
}

func (r *userRepository) SetStatus(ctx context.Context, id models.UserID, active, blocked bool) (*models.User, error) {
	return r.updateColumns(ctx, id, map[string]any{"is_active": active, "is_blocked": blocked})
}

func (r *userRepository) updateColumns(ctx context.Context, id models.UserID, cols map[string]any) (*models.User, error) {
	if !id.IsNative() {
		return nil, models.NewNotFoundError("User", id)
	}
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, models.NewNotFoundError("User", id)
	}
	return r.GetByID(ctx, id)
}

func (r *userRepository) List(ctx context.Context, filter UserFilter) ([]*models.User, error) {
	q := r.db.WithContext(ctx).Model(&models.User{})
	if len(filter.Roles) > 0 {
		q = q.Where("type IN ?", filter.Roles)
	}
	if filter.InteractiveOnly {
		q = q.Where("is_active = ? AND is_blocked = ?", true, false)
	}

	var users []*models.User
	err := q.Order("full_name ASC, id ASC").
		Limit(clampLimit(filter.Limit)).
		Offset(filter.Offset).
		Find(&users).Error
	return users, err
}

func (r *userRepository) ListIDsAfter(ctx context.Context, after models.UserID, limit int) ([]models.UserID, error) {
	var ids []models.UserID
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id > ?", after).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// lockUsers takes row locks on every id in a stable order and fails with
// NOT_FOUND when any of them is missing.
func lockUsers(tx *gorm.DB, ids ...models.UserID) error {
	var found []models.UserID
	err := tx.Model(&models.User{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Pluck("id", &found).Error
	if err != nil {
		return err
	}
	have := make(map[models.UserID]bool, len(found))
	for _, id := range found {
		have[id] = true
	}
	for _, id := range ids {
		if !have[id] {
			return models.NewNotFoundError("User", id)
		}
	}
	return nil
}

func (r *userRepository) Follow(ctx context.Context, follower, followee models.UserID) (bool, error) {
	if !follower.IsNative() || !followee.IsNative() {
		return false, models.NewNotFoundError("User", followee)
	}
	defer observability.TrackQuery("postgres", "follow")()

	var added bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUsers(tx, follower, followee); err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Follow{FollowerID: follower, FolloweeID: followee})
		if res.Error != nil {
			return res.Error
		}
		added = res.RowsAffected > 0
		return tx.Exec(recountFollowsSQL, []models.UserID{follower, followee}).Error
	})
	if err != nil {
		return false, err
	}
	r.log.LogWrite(ctx, "follow", slog.String("follower", follower.String()), slog.String("followee", followee.String()))
	return added, nil
}

func (r *userRepository) Unfollow(ctx context.Context, follower, followee models.UserID) (bool, error) {
	if !follower.IsNative() || !followee.IsNative() {
		return false, models.NewNotFoundError("User", followee)
	}
	defer observability.TrackQuery("postgres", "unfollow")()

	var removed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUsers(tx, follower, followee); err != nil {
			return err
		}
		res := tx.Where("follower_id = ? AND followee_id = ?", follower, followee).Delete(&models.Follow{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected > 0
		return tx.Exec(recountFollowsSQL, []models.UserID{follower, followee}).Error
	})
	return removed, err
}

func (r *userRepository) FollowSets(ctx context.Context, id models.UserID) ([]models.UserID, []models.UserID, error) {
	var followers, following []models.UserID
	db := r.db.WithContext(ctx).Model(&models.Follow{})
	if err := db.Where("followee_id = ?", id).Order("created_at ASC").Pluck("follower_id", &followers).Error; err != nil {
		return nil, nil, err
	}
	if err := r.db.WithContext(ctx).Model(&models.Follow{}).
		Where("follower_id = ?", id).Order("created_at ASC").Pluck("followee_id", &following).Error; err != nil {
		return nil, nil, err
	}
	return followers, following, nil
}

func (r *userRepository) RepairFollowCounts(ctx context.Context, id models.UserID, dryRun bool) ([]models.CounterRepair, error) {
	var repairs []models.CounterRepair
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUsers(tx, id); err != nil {
			return err
		}
		var user models.User
		if err := tx.Select("id", "follower_count", "following_count").First(&user, "id = ?", id).Error; err != nil {
			return notFoundOr(err, "User", id)
		}

		var followers, following int64
		if err := tx.Model(&models.Follow{}).Where("followee_id = ?", id).Count(&followers).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Follow{}).Where("follower_id = ?", id).Count(&following).Error; err != nil {
			return err
		}

		if user.FollowerCount != int(followers) {
			repairs = append(repairs, models.CounterRepair{ID: id.String(), Kind: "followers", Stored: user.FollowerCount, Actual: int(followers)})
		}
		if user.FollowingCount != int(following) {
			repairs = append(repairs, models.CounterRepair{ID: id.String(), Kind: "following", Stored: user.FollowingCount, Actual: int(following)})
		}
		if len(repairs) == 0 || dryRun {
			return nil
		}
		return tx.Exec(recountFollowsSQL, []models.UserID{id}).Error
	})
	if err != nil {
		return nil, err
	}
	if len(repairs) > 0 && !dryRun {
		r.log.LogRepair(ctx, "repair_follow_counts", slog.String("user_id", id.String()), slog.Int("repairs", len(repairs)))
	}
	return repairs, nil
}
