package service

import (
	"context"
	"time"

	"projecthub/internal/models"
	"projecthub/internal/notifications"
	"projecthub/internal/observability"
	"projecthub/internal/repository"
	"projecthub/internal/validation"
)

type CommentService struct {
	comments repository.CommentRepository
	projects *ProjectService
	notifier *notifications.Notifier
}

func NewCommentService(comments repository.CommentRepository, projects *ProjectService, notifier *notifications.Notifier) *CommentService {
	return &CommentService{comments: comments, projects: projects, notifier: notifier}
}

// AddComment appends a comment to a non-sample project.
func (s *CommentService) AddComment(ctx context.Context, actorID models.UserID, projectID, text string) (*models.Comment, error) {
	actor, p, err := s.projects.interactionTarget(ctx, actorID, projectID, "comment")
	if err != nil {
		return nil, err
	}
	text, err = validation.NormalizeComment(text)
	if err != nil {
		return nil, err
	}

	c := &models.Comment{
		ProjectID:  p.ID,
		UserID:     actor.ID,
		UserName:   actor.FullName,
		UserAvatar: actor.Photo,
		Text:       text,
	}
	if err := s.comments.Create(ctx, c); err != nil {
		return nil, storeError(err)
	}

	observability.ProjectInteractions.WithLabelValues("comment").Inc()
	ev := notifications.Event{Type: notifications.EventCommentAdded, ProjectID: p.ID, ActorID: actor.ID, At: time.Now().UTC()}
	s.notifier.Notify(ctx, notifications.ProjectChannel(p.ID), ev)
	if author := models.NormalizeUserID(p.Author.ID.String()); author.IsNative() && author != actor.ID {
		s.notifier.Notify(ctx, notifications.UserChannel(author), ev)
	}
	return c, nil
}

// ListComments returns a project's comments oldest first.
func (s *CommentService) ListComments(ctx context.Context, projectID string, limit, offset int) ([]*models.Comment, error) {
	p, err := s.projects.projects.GetByID(ctx, models.NormalizeID(projectID))
	if err != nil {
		return nil, storeError(err)
	}
	limit, offset = clampPage(limit, offset)
	comments, err := s.comments.ListByProject(ctx, p.ID, limit, offset)
	if err != nil {
		return nil, storeError(err)
	}
	return comments, nil
}

// EditComment replaces a comment's text. The comment author and the project
// author may edit.
func (s *CommentService) EditComment(ctx context.Context, actorID models.UserID, projectID, commentID, text string) (*models.Comment, error) {
	actor, p, c, err := s.load(ctx, actorID, projectID, commentID)
	if err != nil {
		return nil, err
	}
	if c.UserID != actor.ID && !isProjectAuthor(p, actor) {
		return nil, models.NewForbiddenError("Only the comment author or project author can edit this comment")
	}
	text, err = validation.NormalizeComment(text)
	if err != nil {
		return nil, err
	}
	c.Text = text
	if err := s.comments.Update(ctx, c); err != nil {
		return nil, storeError(err)
	}
	return c, nil
}

// DeleteComment removes a comment. Admins may delete any comment.
func (s *CommentService) DeleteComment(ctx context.Context, actorID models.UserID, projectID, commentID string) error {
	actor, p, c, err := s.load(ctx, actorID, projectID, commentID)
	if err != nil {
		return err
	}
	if c.UserID != actor.ID && !isProjectAuthor(p, actor) && !actor.Type.IsAdmin() {
		return models.NewForbiddenError("Only the comment author, project author or an admin can delete this comment")
	}
	return storeError(s.comments.Delete(ctx, c.ID))
}

func (s *CommentService) load(ctx context.Context, actorID models.UserID, projectID, commentID string) (*models.User, *models.Project, *models.Comment, error) {
	actor, err := loadActor(ctx, s.projects.users, actorID)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := requireInteractive(actor); err != nil {
		return nil, nil, nil, err
	}
	p, err := s.projects.projects.GetByID(ctx, models.NormalizeID(projectID))
	if err != nil {
		return nil, nil, nil, storeError(err)
	}
	c, err := s.comments.GetByID(ctx, models.NormalizeID(commentID))
	if err != nil {
		return nil, nil, nil, storeError(err)
	}
	if c.ProjectID != p.ID {
		return nil, nil, nil, models.NewNotFoundError("Comment", commentID)
	}
	return actor, p, c, nil
}
