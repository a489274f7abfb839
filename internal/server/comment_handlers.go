package server

import (
	"github.com/gofiber/fiber/v2"
)

type commentRequest struct {
	Text string `json:"text"`
}

// GetComments handles GET /api/projects/:id/comments
func (s *Server) GetComments(c *fiber.Ctx) error {
	projectID, err := s.parseID(c, "id", "Project")
	if err != nil {
		return nil
	}
	page := parsePagination(c, 50)

	comments, err := s.commentService.ListComments(c.UserContext(), projectID, page.Limit, page.Offset)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(comments)
}

// CreateComment handles POST /api/projects/:id/comments
func (s *Server) CreateComment(c *fiber.Ctx) error {
	projectID, err := s.parseID(c, "id", "Project")
	if err != nil {
		return nil
	}
	var req commentRequest
	if err := bindJSON(c, &req); err != nil {
		return nil
	}

	comment, err := s.commentService.AddComment(c.UserContext(), currentUser(c), projectID, req.Text)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(comment)
}

// UpdateComment handles PUT /api/projects/:id/comments/:commentId
func (s *Server) UpdateComment(c *fiber.Ctx) error {
	projectID, err := s.parseID(c, "id", "Project")
	if err != nil {
		return nil
	}
	commentID, err := s.parseID(c, "commentId", "Comment")
	if err != nil {
		return nil
	}
	var req commentRequest
	if err := bindJSON(c, &req); err != nil {
		return nil
	}

	comment, err := s.commentService.EditComment(c.UserContext(), currentUser(c), projectID, commentID, req.Text)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(comment)
}

// DeleteComment handles DELETE /api/projects/:id/comments/:commentId
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	projectID, err := s.parseID(c, "id", "Project")
	if err != nil {
		return nil
	}
	commentID, err := s.parseID(c, "commentId", "Comment")
	if err != nil {
		return nil
	}

	if err := s.commentService.DeleteComment(c.UserContext(), currentUser(c), projectID, commentID); err != nil {
		return s.respondServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
