package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"projecthub/internal/cache"
	"projecthub/internal/middleware"
	"projecthub/internal/models"
	"projecthub/internal/notifications"
	"projecthub/internal/repository"
	"projecthub/internal/validation"

	"golang.org/x/crypto/bcrypt"
)

// DefaultTokenTTL is the access token lifetime when none is configured.
const DefaultTokenTTL = 24 * time.Hour

type UserServiceConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
	Notifier  *notifications.Notifier
}

type UserService struct {
	users     repository.UserRepository
	projects  repository.ProjectRepository
	jwtSecret string
	tokenTTL  time.Duration
	notifier  *notifications.Notifier
}

func NewUserService(store *repository.Store, cfg UserServiceConfig) *UserService {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &UserService{
		users:     store.Users,
		projects:  store.Projects,
		jwtSecret: cfg.JWTSecret,
		tokenTTL:  ttl,
		notifier:  cfg.Notifier,
	}
}

type SignupInput struct {
	Email       string             `json:"email"`
	Password    string             `json:"password"`
	FullName    string             `json:"fullName"`
	ProfileType models.ProfileType `json:"profileType"`
}

type AuthResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

// HashPassword hashes a password with bcrypt's default cost.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Signup creates an account whose role matches its profile type and signs
// the user in.
func (s *UserService) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	name := validation.SanitizeText(in.FullName)
	if err := validation.ValidateEmail(email); err != nil {
		return nil, models.NewFieldError("email", err.Error())
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, models.NewFieldError("password", err.Error())
	}
	if err := validation.ValidateFullName(name); err != nil {
		return nil, models.NewFieldError("fullName", err.Error())
	}
	profileType := in.ProfileType
	switch profileType {
	case "":
		profileType = models.ProfileStudent
	case models.ProfileStudent, models.ProfileMentor:
	default:
		return nil, models.NewFieldError("profileType", "Profile type must be student or mentor")
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	u := &models.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     name,
		Profile:      models.Profile{Type: profileType},
		IsActive:     true,
	}
	u.Type = baseRole(u)
	if err := s.users.Create(ctx, u); err != nil {
		return nil, storeError(err)
	}
	middleware.Logger.InfoContext(ctx, "user signed up", slog.String("user_id", u.ID.String()))
	return s.issue(u)
}

// Login checks credentials. Inactive and blocked accounts cannot sign in.
func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	invalid := models.NewUnauthorizedError("Invalid email or password")
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if models.IsNotFound(err) {
			return nil, invalid
		}
		return nil, storeError(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, invalid
	}
	if !u.CanInteract() {
		return nil, models.NewForbiddenError("Account is disabled")
	}
	return s.issue(u)
}

func (s *UserService) issue(u *models.User) (*AuthResult, error) {
	token, _, err := middleware.IssueAccessToken(s.jwtSecret, u.ID, s.tokenTTL)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return &AuthResult{Token: token, ExpiresAt: time.Now().Add(s.tokenTTL).UTC(), User: u}, nil
}

// Logout revokes the token until it would have expired anyway.
func (s *UserService) Logout(ctx context.Context, claims *middleware.AccessClaims) error {
	if claims == nil || claims.ExpiresAt == nil {
		return nil
	}
	if err := cache.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// GetProfile returns the public view of a user, cached.
func (s *UserService) GetProfile(ctx context.Context, ref string) (*models.PublicUser, error) {
	id := models.NormalizeUserID(ref)
	if !id.IsNative() {
		return nil, models.NewNotFoundError("User", ref)
	}
	var pu models.PublicUser
	err := cache.Aside(ctx, cache.UserKey(id), &pu, cache.UserTTL, func() error {
		u, err := s.users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		pu = u.Public()
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	return &pu, nil
}

// Me returns the full record of the signed-in user with follow sets.
func (s *UserService) Me(ctx context.Context, id models.UserID) (*models.User, error) {
	u, err := loadActor(ctx, s.users, id)
	if err != nil {
		return nil, err
	}
	followers, following, err := s.users.FollowSets(ctx, u.ID)
	if err != nil {
		return nil, storeError(err)
	}
	u.Followers, u.Following = followers, following
	return u, nil
}

// UpdateProfile edits the self-editable fields and refreshes the author
// snapshots on the user's projects.
func (s *UserService) UpdateProfile(ctx context.Context, id models.UserID, in validation.ProfileInput) (*models.User, error) {
	u, err := loadActor(ctx, s.users, id)
	if err != nil {
		return nil, err
	}
	clean, err := validation.NormalizeProfile(in)
	if err != nil {
		return nil, err
	}

	u.FullName = clean.FullName
	if clean.Photo != "" {
		u.Photo = clean.Photo
	}
	u.Profile.Bio = clean.Bio
	u.Profile.Department = clean.Department
	u.Profile.Position = clean.Position
	u.Profile.Skills = clean.Skills
	if err := s.users.UpdateProfile(ctx, u); err != nil {
		return nil, storeError(err)
	}

	if _, err := s.projects.UpdateAuthorSnapshots(ctx, u.ID, models.SnapshotOf(u)); err != nil {
		middleware.Logger.WarnContext(ctx, "author snapshot refresh failed",
			slog.String("user_id", u.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	cache.InvalidateUser(ctx, u.ID)
	return u, nil
}

type FollowResult struct {
	UserID        models.UserID `json:"userId"`
	Following     bool          `json:"following"`
	FollowerCount int           `json:"followerCount"`
}

// Follow makes actorID follow targetRef.
func (s *UserService) Follow(ctx context.Context, actorID models.UserID, targetRef string) (*FollowResult, error) {
	return s.setFollow(ctx, actorID, targetRef, true)
}

// Unfollow removes the follow edge. Repeating it is a no-op.
func (s *UserService) Unfollow(ctx context.Context, actorID models.UserID, targetRef string) (*FollowResult, error) {
	return s.setFollow(ctx, actorID, targetRef, false)
}

func (s *UserService) setFollow(ctx context.Context, actorID models.UserID, targetRef string, follow bool) (*FollowResult, error) {
	target := models.NormalizeUserID(targetRef)
	if !target.IsNative() {
		return nil, models.NewNotFoundError("User", targetRef)
	}
	if target == actorID {
		return nil, models.NewValidationError("You cannot follow yourself")
	}
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	if err := requireInteractive(actor); err != nil {
		return nil, err
	}

	var changed bool
	if follow {
		changed, err = s.users.Follow(ctx, actor.ID, target)
	} else {
		changed, err = s.users.Unfollow(ctx, actor.ID, target)
	}
	if err != nil {
		return nil, storeError(err)
	}

	u, err := s.users.GetByID(ctx, target)
	if err != nil {
		return nil, storeError(err)
	}
	if changed {
		cache.InvalidateUser(ctx, actor.ID, target)
		if follow {
			s.notifier.Notify(ctx, notifications.UserChannel(target), notifications.Event{
				Type:    notifications.EventNewFollower,
				ActorID: actor.ID,
				At:      time.Now().UTC(),
			}.WithCount(u.FollowerCount))
		}
	}
	return &FollowResult{UserID: target, Following: follow, FollowerCount: u.FollowerCount}, nil
}

// StatusInput changes moderation flags. Nil fields are left as they are.
type StatusInput struct {
	IsActive  *bool `json:"isActive"`
	IsBlocked *bool `json:"isBlocked"`
}

// SetStatus lets an admin activate, deactivate, block or unblock an
// account. Changing another admin requires super_admin.
func (s *UserService) SetStatus(ctx context.Context, actorID models.UserID, targetRef string, in StatusInput) (*models.User, error) {
	actor, err := loadActor(ctx, s.users, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Type.IsAdmin() {
		return nil, models.NewForbiddenError("Admin access required")
	}
	target, err := s.users.GetByID(ctx, models.NormalizeUserID(targetRef))
	if err != nil {
		return nil, storeError(err)
	}
	if target.ID == actor.ID {
		return nil, models.NewValidationError("You cannot change your own status")
	}
	if target.Type.IsAdmin() && actor.Type != models.RoleSuperAdmin {
		return nil, models.NewForbiddenError("Only a super admin can moderate another admin")
	}
	return s.applyStatus(ctx, target, in)
}

// ApplyStatus changes moderation flags without an acting user. It backs the
// admin CLI.
func (s *UserService) ApplyStatus(ctx context.Context, targetRef string, in StatusInput) (*models.User, error) {
	target, err := s.lookup(ctx, targetRef)
	if err != nil {
		return nil, err
	}
	return s.applyStatus(ctx, target, in)
}

func (s *UserService) applyStatus(ctx context.Context, target *models.User, in StatusInput) (*models.User, error) {
	active, blocked := target.IsActive, target.IsBlocked
	if in.IsActive != nil {
		active = *in.IsActive
	}
	if in.IsBlocked != nil {
		blocked = *in.IsBlocked
	}
	u, err := s.users.SetStatus(ctx, target.ID, active, blocked)
	if err != nil {
		return nil, storeError(err)
	}
	cache.InvalidateUser(ctx, u.ID)
	middleware.Logger.InfoContext(ctx, "account status changed",
		slog.String("target_id", u.ID.String()),
		slog.Bool("active", u.IsActive),
		slog.Bool("blocked", u.IsBlocked),
	)
	return u, nil
}

// lookup finds a user by id or email.
func (s *UserService) lookup(ctx context.Context, ref string) (*models.User, error) {
	return lookupUser(ctx, s.users, ref)
}

func lookupUser(ctx context.Context, users repository.UserRepository, ref string) (*models.User, error) {
	ref = strings.TrimSpace(ref)
	var (
		u   *models.User
		err error
	)
	if models.IsNativeID(ref) {
		u, err = users.GetByID(ctx, models.NormalizeUserID(ref))
	} else {
		u, err = users.GetByEmail(ctx, strings.ToLower(ref))
	}
	if err != nil {
		return nil, storeError(err)
	}
	return u, nil
}
