package service

import (
	"context"
	"strings"
	"time"
	"unicode"

	"projecthub/internal/models"
	"projecthub/internal/observability"
	"projecthub/internal/repository"
	"projecthub/internal/validation"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// Lookup paths recorded on the resolution metric.
const (
	resolveByID    = "id"
	resolveByEmail = "email"
	resolveInvalid = "invalid"
)

const resolveTimeout = 5 * time.Second

// IdentityResolver maps an author reference to a live user. The reference
// is a native user id for current records and an email for legacy ones.
type IdentityResolver struct {
	users repository.UserRepository
	group singleflight.Group
}

func NewIdentityResolver(users repository.UserRepository) *IdentityResolver {
	return &IdentityResolver{users: users}
}

// Resolve looks ref up by id when it has the native format, by email when it
// looks like an address, and otherwise reports absence. Absence is never an
// error; only store faults are.
func (r *IdentityResolver) Resolve(ctx context.Context, ref string) (*models.User, bool, error) {
	ref = strings.TrimSpace(ref)
	path, key := classifyRef(ref)
	if path == resolveInvalid {
		observability.IdentityResolutions.WithLabelValues(path, "absent").Inc()
		return nil, false, nil
	}

	span, ctx := observability.NewSpan(ctx, "IdentityResolver.Resolve", attribute.String("resolve.path", path))
	defer span.End()

	// The shared lookup outlives any one caller's cancellation.
	ch := r.group.DoChan(path+":"+key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()
		if path == resolveByID {
			return r.users.GetByID(lookupCtx, models.UserID(key))
		}
		return r.users.GetByEmail(lookupCtx, key)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res = <-ch:
	}
	v, err := res.Val, res.Err
	if err != nil {
		if models.IsNotFound(err) {
			observability.IdentityResolutions.WithLabelValues(path, "absent").Inc()
			return nil, false, nil
		}
		span.SetError(err)
		observability.IdentityResolutions.WithLabelValues(path, "error").Inc()
		return nil, false, models.NewInternalError(err)
	}

	observability.IdentityResolutions.WithLabelValues(path, "found").Inc()
	// Callers sharing a flight each get their own copy.
	cp := *v.(*models.User)
	return &cp, true, nil
}

// ResolveMany resolves every ref, batching native ids into one store call.
// Refs that do not resolve are absent from the result.
func (r *IdentityResolver) ResolveMany(ctx context.Context, refs []models.UserID) (map[models.UserID]*models.User, error) {
	out := make(map[models.UserID]*models.User, len(refs))
	var native []models.UserID
	seen := make(map[models.UserID]struct{}, len(refs))
	var legacy []models.UserID

	for _, ref := range refs {
		ref = models.NormalizeUserID(ref.String())
		if _, dup := seen[ref]; dup || ref.IsZero() {
			continue
		}
		seen[ref] = struct{}{}
		switch path, _ := classifyRef(ref.String()); path {
		case resolveByID:
			native = append(native, ref)
		case resolveByEmail:
			legacy = append(legacy, ref)
		}
	}

	if len(native) > 0 {
		users, err := r.users.GetByIDs(ctx, native)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		for _, u := range users {
			out[u.ID] = u
		}
		observability.IdentityResolutions.WithLabelValues(resolveByID, "found").Add(float64(len(users)))
		if missing := len(native) - len(users); missing > 0 {
			observability.IdentityResolutions.WithLabelValues(resolveByID, "absent").Add(float64(missing))
		}
	}
	for _, ref := range legacy {
		u, found, err := r.Resolve(ctx, ref.String())
		if err != nil {
			return nil, err
		}
		if found {
			out[ref] = u
		}
	}
	return out, nil
}

func classifyRef(ref string) (path, key string) {
	if models.IsNativeID(ref) {
		return resolveByID, models.NormalizeID(ref)
	}
	if ref != "" && validation.ValidateEmail(ref) == nil {
		return resolveByEmail, strings.ToLower(ref)
	}
	return resolveInvalid, ""
}

// AuthorView is the author block rendered with a project. When the author
// could not be resolved it carries the snapshot name and Initials for an
// avatar placeholder.
type AuthorView struct {
	ID       models.UserID `json:"id"`
	Name     string        `json:"name"`
	Image    string        `json:"image,omitempty"`
	Initials string        `json:"initials"`
	Type     models.Role   `json:"type,omitempty"`
	Resolved bool          `json:"resolved"`
}

// BuildAuthorView prefers live user data over the snapshot.
func BuildAuthorView(snapshot models.Author, u *models.User, found bool) AuthorView {
	if found && u != nil {
		return AuthorView{
			ID:       u.ID,
			Name:     u.FullName,
			Image:    u.Photo,
			Initials: Initials(u.FullName),
			Type:     u.Type,
			Resolved: true,
		}
	}
	name := strings.TrimSpace(snapshot.Name)
	if name == "" {
		name = "Unknown author"
	}
	view := AuthorView{Name: name, Initials: Initials(name)}
	// Legacy snapshots may hold an email; only native ids are exposed.
	if snapshot.ID.IsNative() {
		view.ID = snapshot.ID
	}
	return view
}

// Initials returns up to two upper-case initials of name, or "?".
func Initials(name string) string {
	var out []rune
	for _, word := range strings.Fields(name) {
		for _, r := range word {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				out = append(out, unicode.ToUpper(r))
				break
			}
		}
		if len(out) == 2 {
			break
		}
	}
	if len(out) == 0 {
		return "?"
	}
	return string(out)
}
