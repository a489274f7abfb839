// Package seed provides helpers to create demo data for development and
// testing. The helpers write through the repository interfaces, so they
// work against either store backend.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"projecthub/internal/middleware"
	"projecthub/internal/models"
	"projecthub/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
)

// DemoPassword is the password of every seeded account.
const DemoPassword = "Projecthub-Demo-1!"

// Factory builds domain entities and persists them through a store.
type Factory struct {
	store *repository.Store
	opts  Options
	faker *gofakeit.Faker

	passwordHash string
	seq          int
}

// NewFactory creates a Factory. A zero opts.RandSeed seeds from the clock.
func NewFactory(store *repository.Store, opts Options) *Factory {
	seed := opts.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Factory{store: store, opts: opts, faker: gofakeit.New(seed)}
}

func (f *Factory) hash() (string, error) {
	if f.passwordHash != "" {
		return f.passwordHash, nil
	}
	// MinCost keeps large dev seeds fast; accounts still log in normally.
	cost := bcrypt.DefaultCost
	if f.opts.SkipBcrypt {
		cost = bcrypt.MinCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), cost)
	if err != nil {
		return "", err
	}
	f.passwordHash = string(b)
	return f.passwordHash, nil
}

// createdAt spreads timestamps over the last MaxDays days.
func (f *Factory) createdAt() time.Time {
	maxDays := f.opts.MaxDays
	if maxDays <= 0 {
		maxDays = 90
	}
	back := time.Duration(f.faker.Number(0, maxDays*24*60)) * time.Minute
	return time.Now().UTC().Add(-back)
}

// BuildUser constructs a user without persisting it.
func (f *Factory) BuildUser(role models.Role, overrides ...func(*models.User)) *models.User {
	f.seq++
	first, last := f.faker.FirstName(), f.faker.LastName()
	handle := strings.ToLower(fmt.Sprintf("%s.%s.%d", first, last, f.seq))
	handle = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, handle)

	profileType := models.ProfileStudent
	if role == models.RoleMentor {
		profileType = models.ProfileMentor
	}
	u := &models.User{
		Email:    handle + "@example.com",
		FullName: first + " " + last,
		Photo:    fmt.Sprintf("https://i.pravatar.cc/150?u=%s", handle),
		Type:     role,
		Profile: models.Profile{
			Type:       profileType,
			Bio:        f.faker.Sentence(10),
			Department: f.faker.RandomString([]string{"Engineering", "Design", "Data", "Product"}),
			Position:   f.faker.JobTitle(),
			Skills:     []string{f.faker.ProgrammingLanguage(), f.faker.ProgrammingLanguage()},
		},
		IsActive: true,
	}
	for _, override := range overrides {
		override(u)
	}
	return u
}

// CreateUser builds and persists a user with the demo password.
func (f *Factory) CreateUser(ctx context.Context, role models.Role, overrides ...func(*models.User)) (*models.User, error) {
	u := f.BuildUser(role, overrides...)
	hash, err := f.hash()
	if err != nil {
		return nil, err
	}
	u.PasswordHash = hash

	if f.opts.DryRun {
		u.ApplyDefaults(time.Now().UTC())
		middleware.Logger.DebugContext(ctx, "[dry-run] create user", slog.String("email", u.Email))
		return u, nil
	}
	if err := f.store.Users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// BuildProject constructs a genuine-looking project: a concrete repository
// link and a hosted screenshot.
func (f *Factory) BuildProject(author *models.User, overrides ...func(*models.Project)) *models.Project {
	name := f.faker.AppName()
	slug := strings.ToLower(strings.Join(strings.Fields(name), "-"))
	owner := strings.SplitN(author.Email, "@", 2)[0]
	owner = strings.ReplaceAll(owner, ".", "-")

	p := &models.Project{
		Title:       name,
		Description: f.faker.Paragraph(1, 3, 12, " "),
		Tags:        []string{strings.ToLower(f.faker.ProgrammingLanguage()), strings.ToLower(f.faker.BuzzWord())},
		Images:      []string{fmt.Sprintf("https://picsum.photos/seed/%s/1200/800", f.faker.UUID())},
		GithubURL:   fmt.Sprintf("https://github.com/%s/%s", owner, slug),
		LiveURL:     fmt.Sprintf("https://%s.%s", slug, f.faker.DomainName()),
		Author:      models.SnapshotOf(author),
		CreatedAt:   f.createdAt(),
	}
	for _, override := range overrides {
		override(p)
	}
	return p
}

// BuildSample constructs a placeholder project. It carries only the generic
// links and a stock image, so the classifier treats it as a sample.
func (f *Factory) BuildSample(author *models.User, overrides ...func(*models.Project)) *models.Project {
	return f.BuildProject(author, append([]func(*models.Project){func(p *models.Project) {
		p.Title = "Sample: " + p.Title
		p.Images = []string{fmt.Sprintf("https://picsum.photos/seed/sample-%d/1200/800", f.faker.Number(1, 9999))}
		p.GithubURL = f.faker.RandomString([]string{"", "#", "https://github.com"})
		p.LiveURL = f.faker.RandomString([]string{"", "#", "https://example.com"})
	}}, overrides...)...)
}

// CreateProject persists p.
func (f *Factory) CreateProject(ctx context.Context, p *models.Project) error {
	if f.opts.DryRun {
		p.ID = models.NewID()
		middleware.Logger.DebugContext(ctx, "[dry-run] create project", slog.String("title", p.Title))
		return nil
	}
	return f.store.Projects.Create(ctx, p)
}

// Like records a like through the store so the cached count stays exact.
func (f *Factory) Like(ctx context.Context, user *models.User, p *models.Project) error {
	if f.opts.DryRun {
		return nil
	}
	_, err := f.store.Projects.Like(ctx, p.ID, user.ID)
	return err
}

// Follow adds a follow edge.
func (f *Factory) Follow(ctx context.Context, follower, followee *models.User) error {
	if f.opts.DryRun || follower.ID == followee.ID {
		return nil
	}
	_, err := f.store.Users.Follow(ctx, follower.ID, followee.ID)
	return err
}

// CreateComment persists a comment from user on p.
func (f *Factory) CreateComment(ctx context.Context, user *models.User, p *models.Project) (*models.Comment, error) {
	c := &models.Comment{
		ProjectID:  p.ID,
		UserID:     user.ID,
		UserName:   user.FullName,
		UserAvatar: user.Photo,
		Text:       f.faker.Sentence(8),
	}
	if f.opts.DryRun {
		c.ID = models.NewID()
		return c, nil
	}
	if err := f.store.Comments.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
