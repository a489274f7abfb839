package server

import (
	"projecthub/internal/models"
	"projecthub/internal/service"
	"projecthub/internal/validation"

	"github.com/gofiber/fiber/v2"
)

// GetMentors handles GET /api/users/mentors
func (s *Server) GetMentors(c *fiber.Ctx) error {
	page := parsePagination(c, 50)

	mentors, err := s.provisioning.MentorDirectory(c.UserContext(), page.Limit, page.Offset)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(mentors)
}

// ResolveUser handles GET /api/users/resolve/:ref
// The ref may be a user id or, for legacy records, an email address.
func (s *Server) ResolveUser(c *fiber.Ctx) error {
	ref := userRef(c, "ref")

	user, found, err := s.resolver.Resolve(c.UserContext(), ref)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	if !found {
		return models.RespondWithError(c, fiber.StatusNotFound, models.NewNotFoundError("User", ref))
	}
	return c.JSON(user.Public())
}

// GetUserProfile handles GET /api/users/:id
func (s *Server) GetUserProfile(c *fiber.Ctx) error {
	profile, err := s.userService.GetProfile(c.UserContext(), userRef(c, "id"))
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(profile)
}

// GetUserProjects handles GET /api/users/:id/projects
func (s *Server) GetUserProjects(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	viewer, _ := s.optionalUserID(c)

	projects, err := s.projectService.ListByAuthor(c.UserContext(), userRef(c, "id"), service.FeedInput{
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

// GetMyProfile handles GET /api/users/me
func (s *Server) GetMyProfile(c *fiber.Ctx) error {
	user, err := s.userService.Me(c.UserContext(), currentUser(c))
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(user)
}

// UpdateMyProfile handles PUT /api/users/me
func (s *Server) UpdateMyProfile(c *fiber.Ctx) error {
	var req validation.ProfileInput
	if err := bindJSON(c, &req); err != nil {
		return nil
	}

	user, err := s.userService.UpdateProfile(c.UserContext(), currentUser(c), req)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(user)
}

// FollowUser handles POST /api/users/:id/follow
func (s *Server) FollowUser(c *fiber.Ctx) error {
	res, err := s.userService.Follow(c.UserContext(), currentUser(c), userRef(c, "id"))
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(res)
}

// UnfollowUser handles DELETE /api/users/:id/follow
func (s *Server) UnfollowUser(c *fiber.Ctx) error {
	res, err := s.userService.Unfollow(c.UserContext(), currentUser(c), userRef(c, "id"))
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(res)
}
