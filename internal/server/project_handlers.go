package server

import (
	"projecthub/internal/service"
	"projecthub/internal/validation"

	"github.com/gofiber/fiber/v2"
)

// GetProjects handles GET /api/projects
// Sample projects are only listed for admins asking with include_samples
// or for viewers with the sample feature flag.
func (s *Server) GetProjects(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	viewer, _ := s.optionalUserID(c)

	projects, err := s.projectService.ListFeed(c.UserContext(), service.FeedInput{
		ViewerID:       viewer,
		Limit:          page.Limit,
		Offset:         page.Offset,
		IncludeSamples: c.QueryBool("include_samples"),
	})
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(projects)
}

// GetProject handles GET /api/projects/:id
func (s *Server) GetProject(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id", "Project")
	if err != nil {
		return nil
	}
	viewer, _ := s.optionalUserID(c)

	project, err := s.projectService.GetProject(c.UserContext(), id, viewer)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(project)
}

// GetProjectAuthor handles GET /api/projects/:id/author
func (s *Server) GetProjectAuthor(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id", "Project")
	if err != nil {
		return nil
	}

	author, err := s.projectService.GetAuthor(c.UserContext(), id)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(author)
}

// CreateProject handles POST /api/projects
func (s *Server) CreateProject(c *fiber.Ctx) error {
	var req validation.ProjectInput
	if err := bindJSON(c, &req); err != nil {
		return nil
	}

	project, err := s.projectService.CreateProject(c.UserContext(), currentUser(c), req)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(project)
}

// UpdateProject handles PUT /api/projects/:id
func (s *Server) UpdateProject(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id", "Project")
	if err != nil {
		return nil
	}
	var req validation.ProjectInput
	if err := bindJSON(c, &req); err != nil {
		return nil
	}

	project, err := s.projectService.UpdateProject(c.UserContext(), currentUser(c), id, req)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(project)
}

// DeleteProject handles DELETE /api/projects/:id
func (s *Server) DeleteProject(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id", "Project")
	if err != nil {
		return nil
	}

	if err := s.projectService.DeleteProject(c.UserContext(), currentUser(c), id); err != nil {
		return s.respondServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ToggleLike handles POST /api/projects/:id/like
func (s *Server) ToggleLike(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id", "Project")
	if err != nil {
		return nil
	}

	res, err := s.projectService.ToggleLike(c.UserContext(), currentUser(c), id)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(res)
}

// UnlikeProject handles DELETE /api/projects/:id/like
func (s *Server) UnlikeProject(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id", "Project")
	if err != nil {
		return nil
	}

	res, err := s.projectService.Unlike(c.UserContext(), currentUser(c), id)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(res)
}

// ShareProject handles POST /api/projects/:id/share
// Under the increment policy an Idempotency-Key header makes client retries
// count once.
func (s *Server) ShareProject(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id", "Project")
	if err != nil {
		return nil
	}

	res, err := s.projectService.Share(c.UserContext(), currentUser(c), id, c.Get("Idempotency-Key"))
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(res)
}

// UnshareProject handles DELETE /api/projects/:id/share
func (s *Server) UnshareProject(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id", "Project")
	if err != nil {
		return nil
	}

	res, err := s.projectService.Unshare(c.UserContext(), currentUser(c), id)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(res)
}
