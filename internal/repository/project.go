package repository

import (
	"context"
	"log/slog"

	"projecthub/internal/middleware"
	"projecthub/internal/models"
	"projecthub/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	syncLikeCountSQL  = `UPDATE projects SET like_count = (SELECT COUNT(*) FROM project_likes WHERE project_likes.project_id = projects.id) WHERE id = ?`
	syncShareCountSQL = `UPDATE projects SET share_count = (SELECT COUNT(*) FROM project_shares WHERE project_shares.project_id = projects.id) WHERE id = ?`
)

type projectRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db, log: observability.NewRepoLogger(middleware.Logger, "postgres", "projects")}
}

func (r *projectRepository) Create(ctx context.Context, project *models.Project) error {
	project.LikeCount = 0
	project.ShareCount = 0
	if err := r.db.WithContext(ctx).Create(project).Error; err != nil {
		return err
	}
	project.Likes = []models.UserID{}
	project.Shares = []models.Share{}
	return nil
}

func (r *projectRepository) GetByID(ctx context.Context, id string) (*models.Project, error) {
	if !models.IsNativeID(id) {
		return nil, models.NewNotFoundError("Project", id)
	}
	defer observability.TrackQuery("postgres", "project_get")()

	var project models.Project
	if err := r.db.WithContext(ctx).First(&project, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "Project", id)
	}
	if err := r.loadSets(ctx, []*models.Project{&project}); err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *projectRepository) List(ctx context.Context, filter ProjectFilter) ([]*models.Project, error) {
	q := r.db.WithContext(ctx).Model(&models.Project{})
	if len(filter.AuthorIDs) > 0 {
		q = q.Where("author_id IN ?", filter.AuthorIDs)
	}

	var projects []*models.Project
	if err := q.Order("created_at DESC, id DESC").
		Limit(clampLimit(filter.Limit)).
		Offset(filter.Offset).
		Find(&projects).Error; err != nil {
		return nil, err
	}
	if err := r.loadSets(ctx, projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func (r *projectRepository) ListAfter(ctx context.Context, after string, limit int) ([]*models.Project, error) {
	var projects []*models.Project
	if err := r.db.WithContext(ctx).
		Where("id > ?", after).
		Order("id ASC").
		Limit(limit).
		Find(&projects).Error; err != nil {
		return nil, err
	}
	if err := r.loadSets(ctx, projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// loadSets fills Likes, Shares and CommentCount with one query per set.
func (r *projectRepository) loadSets(ctx context.Context, projects []*models.Project) error {
	if len(projects) == 0 {
		return nil
	}
	ids := make([]string, len(projects))
	byID := make(map[string]*models.Project, len(projects))
	for i, p := range projects {
		ids[i] = p.ID
		byID[p.ID] = p
		p.Likes = []models.UserID{}
		p.Shares = []models.Share{}
	}

	var likes []models.ProjectLike
	if err := r.db.WithContext(ctx).Where("project_id IN ?", ids).Order("created_at ASC, user_id ASC").Find(&likes).Error; err != nil {
		return err
	}
	for _, l := range likes {
		byID[l.ProjectID].Likes = append(byID[l.ProjectID].Likes, l.UserID)
	}

	var shares []models.Share
	if err := r.db.WithContext(ctx).Where("project_id IN ?", ids).Order("shared_at ASC, id ASC").Find(&shares).Error; err != nil {
		return err
	}
	for _, s := range shares {
		byID[s.ProjectID].Shares = append(byID[s.ProjectID].Shares, s)
	}

	var counts []struct {
		ProjectID string
		N         int
	}
	if err := r.db.WithContext(ctx).Model(&models.Comment{}).
		Select("project_id, COUNT(*) AS n").
		Where("project_id IN ?", ids).
		Group("project_id").
		Scan(&counts).Error; err != nil {
		return err
	}
	for _, c := range counts {
		byID[c.ProjectID].CommentCount = c.N
	}
	return nil
}

func (r *projectRepository) Update(ctx context.Context, project *models.Project) error {
	res := r.db.WithContext(ctx).Model(project).
		Select("title", "description", "tags", "images", "github_url", "live_url", "updated_at").
		Updates(project)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Project", project.ID)
	}
	return nil
}

func (r *projectRepository) Delete(ctx context.Context, id string) error {
	if !models.IsNativeID(id) {
		return models.NewNotFoundError("Project", id)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, child := range []any{&models.ProjectLike{}, &models.Share{}, &models.Comment{}} {
			if err := tx.Where("project_id = ?", id).Delete(child).Error; err != nil {
				return err
			}
		}
		res := tx.Delete(&models.Project{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewNotFoundError("Project", id)
		}
		return nil
	})
}

func (r *projectRepository) UpdateAuthorSnapshots(ctx context.Context, match models.UserID, author models.Author) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Project{}).
		Where("author_id = ?", match).
		Updates(map[string]any{
			"author_id":    author.ID,
			"author_name":  author.Name,
			"author_image": author.Image,
		})
	return res.RowsAffected, res.Error
}

// lockProject serializes writers on one project row. sqlite ignores the clause.
func lockProject(tx *gorm.DB, id string) error {
	var p models.Project
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		First(&p, "id = ?", id).Error
	return notFoundOr(err, "Project", id)
}

// mutateSet runs one set mutation and the matching count sync inside a
// transaction holding the project row lock.
func (r *projectRepository) mutateSet(ctx context.Context, op, projectID string, syncSQL string, mutate func(tx *gorm.DB) (*gorm.DB, error)) (InteractionResult, error) {
	if !models.IsNativeID(projectID) {
		return InteractionResult{}, models.NewNotFoundError("Project", projectID)
	}
	defer observability.TrackQuery("postgres", op)()

	var result InteractionResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockProject(tx, projectID); err != nil {
			return err
		}
		res, err := mutate(tx)
		if err != nil {
			return err
		}
		if res.Error != nil {
			return res.Error
		}
		result.Changed = res.RowsAffected > 0

		if err := tx.Exec(syncSQL, projectID).Error; err != nil {
			return err
		}
		var p models.Project
		if err := tx.Select("like_count", "share_count").First(&p, "id = ?", projectID).Error; err != nil {
			return err
		}
		result.Count = p.LikeCount
		if syncSQL == syncShareCountSQL {
			result.Count = p.ShareCount
		}
		return nil
	})
	if err != nil {
		if !models.IsNotFound(err) {
			r.log.LogError(ctx, op, err)
		}
		return InteractionResult{}, err
	}
	return result, nil
}

func (r *projectRepository) Like(ctx context.Context, projectID string, userID models.UserID) (InteractionResult, error) {
	return r.mutateSet(ctx, "like", projectID, syncLikeCountSQL, func(tx *gorm.DB) (*gorm.DB, error) {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.ProjectLike{ProjectID: projectID, UserID: userID}), nil
	})
}

func (r *projectRepository) Unlike(ctx context.Context, projectID string, userID models.UserID) (InteractionResult, error) {
	return r.mutateSet(ctx, "unlike", projectID, syncLikeCountSQL, func(tx *gorm.DB) (*gorm.DB, error) {
		return tx.Where("project_id = ? AND user_id = ?", projectID, userID).Delete(&models.ProjectLike{}), nil
	})
}

func (r *projectRepository) AddShare(ctx context.Context, projectID string, userID models.UserID, clickID string) (InteractionResult, error) {
	return r.mutateSet(ctx, "share", projectID, syncShareCountSQL, func(tx *gorm.DB) (*gorm.DB, error) {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}, {Name: "click_id"}},
			DoNothing: true,
		}).Create(&models.Share{ProjectID: projectID, UserID: userID, ClickID: clickID}), nil
	})
}

func (r *projectRepository) RemoveShares(ctx context.Context, projectID string, userID models.UserID) (InteractionResult, error) {
	return r.mutateSet(ctx, "unshare", projectID, syncShareCountSQL, func(tx *gorm.DB) (*gorm.DB, error) {
		return tx.Where("project_id = ? AND user_id = ?", projectID, userID).Delete(&models.Share{}), nil
	})
}

func (r *projectRepository) RepairCounters(ctx context.Context, id string, dryRun bool) ([]models.CounterRepair, error) {
	if !models.IsNativeID(id) {
		return nil, models.NewNotFoundError("Project", id)
	}

	var repairs []models.CounterRepair
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockProject(tx, id); err != nil {
			return err
		}
		var p models.Project
		if err := tx.Select("id", "like_count", "share_count").First(&p, "id = ?", id).Error; err != nil {
			return err
		}

		var likes, shares int64
		if err := tx.Model(&models.ProjectLike{}).Where("project_id = ?", id).Count(&likes).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Share{}).Where("project_id = ?", id).Count(&shares).Error; err != nil {
			return err
		}

		if p.LikeCount != int(likes) {
			repairs = append(repairs, models.CounterRepair{ID: id, Kind: "likes", Stored: p.LikeCount, Actual: int(likes)})
		}
		if p.ShareCount != int(shares) {
			repairs = append(repairs, models.CounterRepair{ID: id, Kind: "shares", Stored: p.ShareCount, Actual: int(shares)})
		}
		if len(repairs) == 0 || dryRun {
			return nil
		}
		return tx.Model(&models.Project{}).Where("id = ?", id).
			UpdateColumns(map[string]any{"like_count": likes, "share_count": shares}).Error
	})
	if err != nil {
		return nil, err
	}
	if len(repairs) > 0 && !dryRun {
		r.log.LogRepair(ctx, "repair_counters", slog.String("project_id", id), slog.Int("repairs", len(repairs)))
	}
	return repairs, nil
}
