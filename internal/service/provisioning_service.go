package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"projecthub/internal/cache"
	"projecthub/internal/middleware"
	"projecthub/internal/models"
	"projecthub/internal/notifications"
	"projecthub/internal/repository"
	"projecthub/internal/validation"
)

// ProvisioningService grants and revokes roles and serves the mentor
// directory. Directory membership is decided by role alone.
type ProvisioningService struct {
	users          repository.UserRepository
	directoryRoles []models.Role
	notifier       *notifications.Notifier
}

// NewProvisioningService parses the directory role set; unknown names are
// skipped and an empty set falls back to models.DefaultDirectoryRoles.
func NewProvisioningService(users repository.UserRepository, directoryRoles []string, notifier *notifications.Notifier) *ProvisioningService {
	roles := make([]models.Role, 0, len(directoryRoles))
	for _, raw := range directoryRoles {
		r, err := models.ParseRole(raw)
		if err != nil {
			middleware.Logger.Warn("ignoring unknown directory role", slog.String("role", raw))
			continue
		}
		roles = append(roles, r)
	}
	if len(roles) == 0 {
		roles = append(roles, models.DefaultDirectoryRoles...)
	}
	return &ProvisioningService{users: users, directoryRoles: roles, notifier: notifier}
}

// DirectoryRoles returns the roles the mentor directory matches.
func (s *ProvisioningService) DirectoryRoles() []models.Role {
	return append([]models.Role(nil), s.directoryRoles...)
}

// Promote grants role to the target. Granting super_admin, or changing a
// user who is already an admin, requires a super_admin actor.
func (s *ProvisioningService) Promote(ctx context.Context, actorID models.UserID, targetRef string, role models.Role) (*models.User, error) {
	if role != models.RoleMentor && !role.IsAdmin() {
		return nil, models.NewFieldError("role", "Role must be mentor, admin or super_admin")
	}
	target, err := s.authorize(ctx, actorID, targetRef, role)
	if err != nil {
		return nil, err
	}
	return s.setRole(ctx, target, role)
}

// Demote drops the target back to the role matching their profile type.
func (s *ProvisioningService) Demote(ctx context.Context, actorID models.UserID, targetRef string) (*models.User, error) {
	target, err := s.authorize(ctx, actorID, targetRef, "")
	if err != nil {
		return nil, err
	}
	return s.setRole(ctx, target, baseRole(target))
}

// ApplyRole sets a role without an acting user. It backs the admin CLI.
// An empty role demotes.
func (s *ProvisioningService) ApplyRole(ctx context.Context, targetRef string, role models.Role) (*models.User, error) {
	target, err := lookupUser(ctx, s.users, targetRef)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = baseRole(target)
	}
	if !role.Valid() {
		return nil, models.NewFieldError("role", fmt.Sprintf("Unknown role %q", role))
	}
	return s.setRole(ctx, target, role)
}

func (s *ProvisioningService) authorize(ctx context.Context, actorID models.UserID, targetRef string, role models.Role) (*models.User, error) {
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Type.IsAdmin() || !actor.CanInteract() {
		return nil, models.NewForbiddenError("Admin access required")
	}
	target, err := s.users.GetByID(ctx, models.NormalizeUserID(targetRef))
	if err != nil {
		return nil, storeError(err)
	}
	if target.ID == actor.ID {
		return nil, models.NewValidationError("You cannot change your own role")
	}
	if (role == models.RoleSuperAdmin || target.Type.IsAdmin()) && actor.Type != models.RoleSuperAdmin {
		return nil, models.NewForbiddenError("Only a super admin can grant super_admin or change another admin")
	}
	return target, nil
}

// baseRole is the non-admin role a profile type maps to.
func baseRole(u *models.User) models.Role {
	if u.Profile.Type == models.ProfileMentor {
		return models.RoleMentor
	}
	return models.RoleStudent
}

func (s *ProvisioningService) setRole(ctx context.Context, target *models.User, role models.Role) (*models.User, error) {
	profileType := target.Profile.Type
	if profileType == "" {
		profileType = models.ProfileStudent
	}
	u, err := s.users.SetRole(ctx, target.ID, role, profileType)
	if err != nil {
		return nil, storeError(err)
	}
	cache.InvalidateUser(ctx, u.ID)
	middleware.Logger.InfoContext(ctx, "role changed",
		slog.String("target_id", u.ID.String()),
		slog.String("from", string(target.Type)),
		slog.String("to", string(u.Type)),
	)
	if target.Type != u.Type {
		s.notifier.Notify(ctx, notifications.UserChannel(u.ID), notifications.Event{
			Type: notifications.EventRoleChanged,
			Role: u.Type,
			At:   time.Now().UTC(),
		})
	}
	return u, nil
}

// EnsureAdminInput describes an admin account the CLI or bootstrap wants to exist.
type EnsureAdminInput struct {
	Email    string
	FullName string
	Password string
	Role     models.Role
	Mentor   bool
}

// EnsureAdmin creates the account if missing, otherwise upgrades its role.
// The password of an existing account is never changed. It reports whether
// the account was created.
func (s *ProvisioningService) EnsureAdmin(ctx context.Context, in EnsureAdminInput) (*models.User, bool, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if err := validation.ValidateEmail(email); err != nil {
		return nil, false, models.NewFieldError("email", err.Error())
	}
	role := in.Role
	if role == "" {
		role = models.RoleAdmin
	}
	if !role.IsAdmin() {
		return nil, false, models.NewFieldError("role", "Role must be admin or super_admin")
	}

	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Type == role || existing.Type == models.RoleSuperAdmin {
			return existing, false, nil
		}
		u, err := s.setRole(ctx, existing, role)
		return u, false, err
	case !models.IsNotFound(err):
		return nil, false, storeError(err)
	}

	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, false, models.NewFieldError("password", err.Error())
	}
	name := validation.SanitizeText(in.FullName)
	if name == "" {
		name = "Administrator"
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, false, models.NewInternalError(err)
	}
	profileType := models.ProfileStudent
	if in.Mentor {
		profileType = models.ProfileMentor
	}
	u := &models.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     name,
		Type:         role,
		Profile:      models.Profile{Type: profileType},
		IsActive:     true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, false, storeError(err)
	}
	cache.InvalidateDirectory(ctx)
	middleware.Logger.InfoContext(ctx, "admin account created",
		slog.String("user_id", u.ID.String()),
		slog.String("role", string(role)),
	)
	return u, true, nil
}

// MentorDirectory lists active, unblocked users whose role is in the
// directory role set.
func (s *ProvisioningService) MentorDirectory(ctx context.Context, limit, offset int) ([]models.PublicUser, error) {
	limit, offset = clampPage(limit, offset)
	key := fmt.Sprintf("%s:%d:%d", cache.MentorDirectoryKeyFor(s.directoryRoles), limit, offset)

	out := []models.PublicUser{}
	err := cache.Aside(ctx, key, &out, cache.MentorDirectoryTTL, func() error {
		users, err := s.users.List(ctx, repository.UserFilter{
			Roles:           s.directoryRoles,
			InteractiveOnly: true,
			Limit:           limit,
			Offset:          offset,
		})
		if err != nil {
			return err
		}
		for _, u := range users {
			out = append(out, u.Public())
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	return out, nil
}

// ListAdmins returns every admin and super admin, including blocked ones.
func (s *ProvisioningService) ListAdmins(ctx context.Context) ([]*models.User, error) {
	users, err := s.users.List(ctx, repository.UserFilter{
		Roles: []models.Role{models.RoleAdmin, models.RoleSuperAdmin},
		Limit: maxPageSize,
	})
	if err != nil {
		return nil, storeError(err)
	}
	return users, nil
}
