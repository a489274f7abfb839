package server

import (
	"projecthub/internal/middleware"
	"projecthub/internal/models"
	"projecthub/internal/service"

	"github.com/gofiber/fiber/v2"
)

// Signup handles POST /api/auth/signup
func (s *Server) Signup(c *fiber.Ctx) error {
	var req service.SignupInput
	if err := bindJSON(c, &req); err != nil {
		return nil
	}

	res, err := s.userService.Signup(c.UserContext(), req)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// Login handles POST /api/auth/login
func (s *Server) Login(c *fiber.Ctx) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := bindJSON(c, &req); err != nil {
		return nil
	}
	if req.Email == "" || req.Password == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Email and password are required"))
	}

	res, err := s.userService.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(res)
}

// Logout handles POST /api/auth/logout. The bearer token, if valid, is
// revoked until it expires. Logging out without a token still succeeds.
func (s *Server) Logout(c *fiber.Ctx) error {
	if raw := middleware.BearerToken(c); raw != "" {
		if claims, err := middleware.ParseAccessToken(s.config.JWTSecret, raw); err == nil {
			if err := s.userService.Logout(c.UserContext(), claims); err != nil {
				return s.respondServiceError(c, err)
			}
		}
	}
	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}
