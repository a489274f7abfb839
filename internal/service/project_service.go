package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"projecthub/internal/classify"
	"projecthub/internal/config"
	"projecthub/internal/featureflags"
	"projecthub/internal/models"
	"projecthub/internal/notifications"
	"projecthub/internal/observability"
	"projecthub/internal/repository"
	"projecthub/internal/validation"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// sampleInteractionMessage rejects any like, share or comment on a sample project.
const sampleInteractionMessage = "Interactions are disabled for sample projects"

// maxClickKeyLen bounds the client part of a share click id; longer keys are hashed.
const maxClickKeyLen = 48

const detailCommentPage = 50

// ProjectServiceConfig carries the policies a ProjectService applies.
type ProjectServiceConfig struct {
	SharePolicy string
	Classifier  classify.Classifier
	Flags       *featureflags.Manager
	Notifier    *notifications.Notifier
}

type ProjectService struct {
	projects    repository.ProjectRepository
	users       repository.UserRepository
	comments    repository.CommentRepository
	resolver    *IdentityResolver
	classifier  classify.Classifier
	flags       *featureflags.Manager
	notifier    *notifications.Notifier
	sharePolicy string
}

func NewProjectService(store *repository.Store, resolver *IdentityResolver, cfg ProjectServiceConfig) *ProjectService {
	policy := cfg.SharePolicy
	if policy != config.ShareToggle {
		policy = config.ShareIncrement
	}
	if resolver == nil {
		resolver = NewIdentityResolver(store.Users)
	}
	return &ProjectService{
		projects:    store.Projects,
		users:       store.Users,
		comments:    store.Comments,
		resolver:    resolver,
		classifier:  cfg.Classifier,
		flags:       cfg.Flags,
		notifier:    cfg.Notifier,
		sharePolicy: policy,
	}
}

// SharePolicy returns the active share policy.
func (s *ProjectService) SharePolicy() string { return s.sharePolicy }

// ProjectView is a project as returned to clients. Counts are always the
// sizes of the backing sets.
type ProjectView struct {
	ID                  string            `json:"id"`
	Title               string            `json:"title"`
	Description         string            `json:"description"`
	Tags                []string          `json:"tags"`
	Images              []string          `json:"images"`
	GithubURL           string            `json:"githubUrl"`
	LiveURL             string            `json:"liveUrl"`
	Author              AuthorView        `json:"author"`
	Likes               []models.UserID   `json:"likes"`
	LikeCount           int               `json:"likeCount"`
	ShareCount          int               `json:"shareCount"`
	CommentCount        int               `json:"commentCount"`
	Comments            []*models.Comment `json:"comments,omitempty"`
	IsSample            bool              `json:"isSample"`
	InteractionsEnabled bool              `json:"interactionsEnabled"`
	LikedByViewer       bool              `json:"likedByViewer"`
	SharedByViewer      bool              `json:"sharedByViewer"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

func (s *ProjectService) view(p *models.Project, author AuthorView, viewer models.UserID) ProjectView {
	sample := s.classifier.IsSample(p)
	likes := p.Likes
	if likes == nil {
		likes = []models.UserID{}
	}
	tags, images := p.Tags, p.Images
	if tags == nil {
		tags = []string{}
	}
	if images == nil {
		images = []string{}
	}
	return ProjectView{
		ID:                  p.ID,
		Title:               p.Title,
		Description:         p.Description,
		Tags:                tags,
		Images:              images,
		GithubURL:           p.GithubURL,
		LiveURL:             p.LiveURL,
		Author:              author,
		Likes:               likes,
		LikeCount:           len(p.Likes),
		ShareCount:          len(p.Shares),
		CommentCount:        p.CommentCount,
		IsSample:            sample,
		InteractionsEnabled: !sample,
		LikedByViewer:       !viewer.IsZero() && p.LikedBy(viewer),
		SharedByViewer:      !viewer.IsZero() && p.SharedBy(viewer),
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

func (s *ProjectService) views(ctx context.Context, projects []*models.Project, viewer models.UserID) ([]ProjectView, error) {
	refs := make([]models.UserID, 0, len(projects))
	for _, p := range projects {
		refs = append(refs, p.Author.ID)
	}
	authors, err := s.resolver.ResolveMany(ctx, refs)
	if err != nil {
		logger().WarnContext(ctx, "author resolution failed, using snapshots", slog.String("error", err.Error()))
		authors = nil
	}

	out := make([]ProjectView, 0, len(projects))
	for _, p := range projects {
		u, found := authors[models.NormalizeUserID(p.Author.ID.String())]
		out = append(out, s.view(p, BuildAuthorView(p.Author, u, found), viewer))
	}
	return out, nil
}

func (s *ProjectService) authorView(ctx context.Context, p *models.Project) AuthorView {
	u, found, err := s.resolver.Resolve(ctx, p.Author.ID.String())
	if err != nil {
		logger().WarnContext(ctx, "author resolution failed, using snapshot",
			slog.String("project_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
	return BuildAuthorView(p.Author, u, found)
}

// repairDrift rewrites drifted counters through the store and syncs p.
func (s *ProjectService) repairDrift(ctx context.Context, p *models.Project, source string) {
	likes, shares := p.Drift()
	if !likes && !shares {
		return
	}
	if likes {
		observability.CounterDrift.WithLabelValues("likes", source).Inc()
	}
	if shares {
		observability.CounterDrift.WithLabelValues("shares", source).Inc()
	}

	repairs, err := s.projects.RepairCounters(ctx, p.ID, false)
	if err != nil {
		logger().ErrorContext(ctx, "counter repair failed",
			slog.String("project_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
	for _, r := range repairs {
		logger().WarnContext(ctx, "counter drift repaired",
			slog.String("project_id", r.ID),
			slog.String("counter", r.Kind),
			slog.Int("stored", r.Stored),
			slog.Int("actual", r.Actual),
		)
	}
	p.SyncCounters()
}

// GetProject returns one project with its first page of comments. Drifted
// counters are repaired before the view is built.
func (s *ProjectService) GetProject(ctx context.Context, id string, viewer models.UserID) (*ProjectView, error) {
	p, err := s.projects.GetByID(ctx, models.NormalizeID(id))
	if err != nil {
		return nil, storeError(err)
	}
	s.repairDrift(ctx, p, "read")

	comments, err := s.comments.ListByProject(ctx, p.ID, detailCommentPage, 0)
	if err != nil {
		return nil, storeError(err)
	}

	v := s.view(p, s.authorView(ctx, p), viewer)
	v.Comments = comments
	return &v, nil
}

// GetAuthor returns the live author view of a project.
func (s *ProjectService) GetAuthor(ctx context.Context, id string) (*AuthorView, error) {
	p, err := s.projects.GetByID(ctx, models.NormalizeID(id))
	if err != nil {
		return nil, storeError(err)
	}
	v := s.authorView(ctx, p)
	return &v, nil
}

// FeedInput selects a page of the project feed.
type FeedInput struct {
	ViewerID       models.UserID
	Limit          int
	Offset         int
	IncludeSamples bool
}

// ListFeed returns newest projects first. Sample projects are hidden unless
// an admin asks for them or the viewer has the sample feature flag.
func (s *ProjectService) ListFeed(ctx context.Context, in FeedInput) ([]ProjectView, error) {
	limit, offset := clampPage(in.Limit, in.Offset)
	show, err := s.showSamples(ctx, in.ViewerID, in.IncludeSamples)
	if err != nil {
		return nil, err
	}
	projects, err := s.collectVisible(ctx, repository.ProjectFilter{}, show, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, projects, in.ViewerID)
}

// ListByAuthor returns one author's projects, matching legacy snapshots that
// stored the author's email.
func (s *ProjectService) ListByAuthor(ctx context.Context, authorRef string, in FeedInput) ([]ProjectView, error) {
	author, found, err := s.resolver.Resolve(ctx, authorRef)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, models.NewNotFoundError("User", authorRef)
	}

	limit, offset := clampPage(in.Limit, in.Offset)
	show, err := s.showSamples(ctx, in.ViewerID, in.IncludeSamples)
	if err != nil {
		return nil, err
	}
	filter := repository.ProjectFilter{AuthorIDs: []models.UserID{author.ID, models.UserID(author.Email)}}
	projects, err := s.collectVisible(ctx, filter, show, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, projects, in.ViewerID)
}

func (s *ProjectService) showSamples(ctx context.Context, viewer models.UserID, requested bool) (bool, error) {
	if !viewer.IsZero() && s.flags.Enabled(featureflags.ShowSampleProjects, viewer) {
		return true, nil
	}
	if !requested || !viewer.IsNative() {
		return false, nil
	}
	u, err := s.users.GetByID(ctx, viewer)
	if err != nil {
		if models.IsNotFound(err) {
			return false, nil
		}
		return false, storeError(err)
	}
	return u.Type.IsAdmin(), nil
}

// collectVisible pages through the store until limit non-sample projects
// past offset are collected. Offset counts visible projects only.
func (s *ProjectService) collectVisible(ctx context.Context, filter repository.ProjectFilter, showSamples bool, limit, offset int) ([]*models.Project, error) {
	if showSamples {
		filter.Limit, filter.Offset = limit, offset
		projects, err := s.projects.List(ctx, filter)
		return projects, storeError(err)
	}

	out := make([]*models.Project, 0, limit)
	skipped, storeOffset := 0, 0
	for len(out) < limit {
		filter.Limit, filter.Offset = maxPageSize, storeOffset
		batch, err := s.projects.List(ctx, filter)
		if err != nil {
			return nil, storeError(err)
		}
		for _, p := range batch {
			if s.classifier.IsSample(p) {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, p)
			if len(out) == limit {
				break
			}
		}
		if len(batch) < maxPageSize {
			break
		}
		storeOffset += len(batch)
	}
	return out, nil
}

// CreateProject validates in and stores a project authored by actorID.
func (s *ProjectService) CreateProject(ctx context.Context, actorID models.UserID, in validation.ProjectInput) (*ProjectView, error) {
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	if err := requireInteractive(actor); err != nil {
		return nil, err
	}
	clean, err := validation.NormalizeProject(in)
	if err != nil {
		return nil, err
	}

	p := &models.Project{
		Title:       clean.Title,
		Description: clean.Description,
		Tags:        clean.Tags,
		Images:      clean.Images,
		GithubURL:   clean.GithubURL,
		LiveURL:     clean.LiveURL,
		Author:      models.SnapshotOf(actor),
	}
	if err := s.projects.Create(ctx, p); err != nil {
		return nil, storeError(err)
	}
	v := s.view(p, BuildAuthorView(p.Author, actor, true), actor.ID)
	return &v, nil
}

// UpdateProject replaces the editable fields. Only the author or an admin may edit.
func (s *ProjectService) UpdateProject(ctx context.Context, actorID models.UserID, id string, in validation.ProjectInput) (*ProjectView, error) {
	actor, p, err := s.managedProject(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	clean, err := validation.NormalizeProject(in)
	if err != nil {
		return nil, err
	}

	p.Title = clean.Title
	p.Description = clean.Description
	p.Tags = clean.Tags
	p.Images = clean.Images
	p.GithubURL = clean.GithubURL
	p.LiveURL = clean.LiveURL
	if err := s.projects.Update(ctx, p); err != nil {
		return nil, storeError(err)
	}
	v := s.view(p, s.authorView(ctx, p), actor.ID)
	return &v, nil
}

// DeleteProject removes a project with its likes, shares and comments.
func (s *ProjectService) DeleteProject(ctx context.Context, actorID models.UserID, id string) error {
	_, p, err := s.managedProject(ctx, actorID, id)
	if err != nil {
		return err
	}
	return storeError(s.projects.Delete(ctx, p.ID))
}

func (s *ProjectService) managedProject(ctx context.Context, actorID models.UserID, id string) (*models.User, *models.Project, error) {
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.projects.GetByID(ctx, models.NormalizeID(id))
	if err != nil {
		return nil, nil, storeError(err)
	}
	if !isProjectAuthor(p, actor) && !actor.Type.IsAdmin() {
		return nil, nil, models.NewForbiddenError("Only the author or an admin can change this project")
	}
	return actor, p, nil
}

// isProjectAuthor matches by id, or by email for legacy snapshots.
func isProjectAuthor(p *models.Project, u *models.User) bool {
	ref := p.Author.ID.String()
	if models.IsNativeID(ref) {
		return models.NormalizeID(ref) == u.ID.String()
	}
	return ref != "" && strings.EqualFold(ref, u.Email)
}

// interactionTarget loads the actor and project for a like, share or comment
// and applies the account and sample gates.
func (s *ProjectService) interactionTarget(ctx context.Context, actorID models.UserID, projectID, action string) (*models.User, *models.Project, error) {
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, nil, err
	}
	if err := requireInteractive(actor); err != nil {
		return nil, nil, err
	}
	p, err := s.projects.GetByID(ctx, models.NormalizeID(projectID))
	if err != nil {
		return nil, nil, storeError(err)
	}
	if s.classifier.IsSample(p) {
		observability.SampleRejections.WithLabelValues(action).Inc()
		return nil, nil, models.NewValidationError(sampleInteractionMessage)
	}
	return actor, p, nil
}

// LikeResult is the like state after a like mutation.
type LikeResult struct {
	ProjectID string `json:"projectId"`
	Liked     bool   `json:"liked"`
	LikeCount int    `json:"likeCount"`
}

// ShareResult is the share state after a share mutation.
type ShareResult struct {
	ProjectID  string `json:"projectId"`
	Shared     bool   `json:"shared"`
	ShareCount int    `json:"shareCount"`
}

// ToggleLike likes the project if the actor has not, otherwise unlikes it.
func (s *ProjectService) ToggleLike(ctx context.Context, actorID models.UserID, projectID string) (*LikeResult, error) {
	actor, p, err := s.interactionTarget(ctx, actorID, projectID, "like")
	if err != nil {
		return nil, err
	}
	if p.LikedBy(actor.ID) {
		return s.applyLike(ctx, actor, p, false)
	}
	return s.applyLike(ctx, actor, p, true)
}

// Like adds the actor to the like set. Repeating it is a no-op.
func (s *ProjectService) Like(ctx context.Context, actorID models.UserID, projectID string) (*LikeResult, error) {
	actor, p, err := s.interactionTarget(ctx, actorID, projectID, "like")
	if err != nil {
		return nil, err
	}
	return s.applyLike(ctx, actor, p, true)
}

// Unlike removes the actor from the like set. Repeating it is a no-op.
func (s *ProjectService) Unlike(ctx context.Context, actorID models.UserID, projectID string) (*LikeResult, error) {
	actor, p, err := s.interactionTarget(ctx, actorID, projectID, "unlike")
	if err != nil {
		return nil, err
	}
	return s.applyLike(ctx, actor, p, false)
}

func (s *ProjectService) applyLike(ctx context.Context, actor *models.User, p *models.Project, like bool) (*LikeResult, error) {
	action, event := "unlike", notifications.EventProjectUnliked
	if like {
		action, event = "like", notifications.EventProjectLiked
	}
	span, ctx := observability.NewSpan(ctx, "ProjectService."+action,
		attribute.String("project.id", p.ID),
		attribute.String("user.id", actor.ID.String()),
	)
	defer span.End()

	var (
		res repository.InteractionResult
		err error
	)
	if like {
		res, err = s.projects.Like(ctx, p.ID, actor.ID)
	} else {
		res, err = s.projects.Unlike(ctx, p.ID, actor.ID)
	}
	if err != nil {
		span.SetError(err)
		return nil, storeError(err)
	}
	span.AddAttributes(attribute.Int("like.count", res.Count), attribute.Bool("like.changed", res.Changed))

	if res.Changed {
		observability.ProjectInteractions.WithLabelValues(action).Inc()
		s.publish(ctx, p, actor.ID, event, res.Count)
	}
	return &LikeResult{ProjectID: p.ID, Liked: like, LikeCount: res.Count}, nil
}

// Share records a share by the actor. Under the increment policy every click
// counts once, keyed by clickKey; under the toggle policy each user counts once.
func (s *ProjectService) Share(ctx context.Context, actorID models.UserID, projectID, clickKey string) (*ShareResult, error) {
	actor, p, err := s.interactionTarget(ctx, actorID, projectID, "share")
	if err != nil {
		return nil, err
	}

	span, ctx := observability.NewSpan(ctx, "ProjectService.share",
		attribute.String("project.id", p.ID),
		attribute.String("share.policy", s.sharePolicy),
	)
	defer span.End()

	res, err := s.projects.AddShare(ctx, p.ID, actor.ID, s.clickID(actor.ID, clickKey))
	if err != nil {
		span.SetError(err)
		return nil, storeError(err)
	}
	if res.Changed {
		observability.ProjectInteractions.WithLabelValues("share").Inc()
		s.publish(ctx, p, actor.ID, notifications.EventProjectShared, res.Count)
	}
	return &ShareResult{ProjectID: p.ID, Shared: true, ShareCount: res.Count}, nil
}

// Unshare removes the actor's share. Only the toggle policy supports it.
func (s *ProjectService) Unshare(ctx context.Context, actorID models.UserID, projectID string) (*ShareResult, error) {
	if s.sharePolicy != config.ShareToggle {
		return nil, models.NewValidationError("Shares cannot be withdrawn")
	}
	actor, p, err := s.interactionTarget(ctx, actorID, projectID, "unshare")
	if err != nil {
		return nil, err
	}
	res, err := s.projects.RemoveShares(ctx, p.ID, actor.ID)
	if err != nil {
		return nil, storeError(err)
	}
	if res.Changed {
		observability.ProjectInteractions.WithLabelValues("unshare").Inc()
		s.publish(ctx, p, actor.ID, notifications.EventProjectUnshared, res.Count)
	}
	return &ShareResult{ProjectID: p.ID, Shared: false, ShareCount: res.Count}, nil
}

func (s *ProjectService) clickID(actor models.UserID, key string) string {
	if s.sharePolicy == config.ShareToggle {
		return "user:" + actor.String()
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = uuid.NewString()
	}
	if len(key) > maxClickKeyLen || !utf8.ValidString(key) {
		sum := sha256.Sum256([]byte(key))
		key = hex.EncodeToString(sum[:maxClickKeyLen/2])
	}
	// Scoped per user so two users cannot collide on a client-chosen key.
	return actor.String() + ":" + key
}

func (s *ProjectService) publish(ctx context.Context, p *models.Project, actor models.UserID, event string, count int) {
	ev := notifications.Event{Type: event, ProjectID: p.ID, ActorID: actor, At: time.Now().UTC()}.WithCount(count)
	s.notifier.Notify(ctx, notifications.ProjectChannel(p.ID), ev)
	if author := models.NormalizeUserID(p.Author.ID.String()); author.IsNative() && author != actor {
		s.notifier.Notify(ctx, notifications.UserChannel(author), ev)
	}
}
