package server

import (
	"log/slog"
	"strings"

	"projecthub/internal/middleware"
	"projecthub/internal/models"
	"projecthub/internal/service"

	"github.com/gofiber/fiber/v2"
)

// PromoteUser handles POST /api/admin/users/:id/promote
// The body may name the role; it defaults to admin.
func (s *Server) PromoteUser(c *fiber.Ctx) error {
	var req struct {
		Role string `json:"role"`
	}
	if len(c.Body()) > 0 {
		if err := bindJSON(c, &req); err != nil {
			return nil
		}
	}
	role := models.RoleAdmin
	if strings.TrimSpace(req.Role) != "" {
		parsed, err := models.ParseRole(req.Role)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewFieldError("role", err.Error()))
		}
		role = parsed
	}

	user, err := s.provisioning.Promote(c.UserContext(), currentUser(c), userRef(c, "id"), role)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(user)
}

// DemoteUser handles POST /api/admin/users/:id/demote
func (s *Server) DemoteUser(c *fiber.Ctx) error {
	user, err := s.provisioning.Demote(c.UserContext(), currentUser(c), userRef(c, "id"))
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(user)
}

// SetUserStatus handles PATCH /api/admin/users/:id/status
func (s *Server) SetUserStatus(c *fiber.Ctx) error {
	var req service.StatusInput
	if err := bindJSON(c, &req); err != nil {
		return nil
	}
	if req.IsActive == nil && req.IsBlocked == nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("isActive or isBlocked is required"))
	}

	user, err := s.userService.SetStatus(c.UserContext(), currentUser(c), userRef(c, "id"), req)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(user)
}

// ListAdmins handles GET /api/admin/admins
func (s *Server) ListAdmins(c *fiber.Ctx) error {
	admins, err := s.provisioning.ListAdmins(c.UserContext())
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(admins)
}

// Reconcile handles POST /api/admin/reconcile?dry_run=true&batch=200
func (s *Server) Reconcile(c *fiber.Ctx) error {
	opts := service.SweepOptions{
		DryRun: c.QueryBool("dry_run"),
		Batch:  c.QueryInt("batch", 0),
	}

	report, err := s.reconcile.Sweep(c.UserContext(), opts)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	middleware.Logger.InfoContext(c.UserContext(), "reconcile sweep requested",
		slog.Bool("dry_run", report.DryRun),
		slog.Int("repairs", len(report.Repairs)),
		slog.Int64("relinked_authors", report.RelinkedAuthors),
	)
	return c.JSON(report)
}

// Inspect handles GET /api/admin/inspect
func (s *Server) Inspect(c *fiber.Ctx) error {
	report, err := s.reconcile.Inspect(c.UserContext())
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(report)
}
