package seed

import (
	"context"
	"fmt"
	"log/slog"

	"projecthub/internal/database"
	"projecthub/internal/middleware"
	"projecthub/internal/models"
	"projecthub/internal/repository"

	"gorm.io/gorm"
)

// Options configures the seeder.
type Options struct {
	Students       int
	Mentors        int
	RealProjects   int
	SampleProjects int
	// MaxLikes caps the likes each real project receives.
	MaxLikes    int
	Comments    int
	MaxDays     int
	SkipBcrypt  bool
	DryRun      bool
	ShouldClean bool
	// RandSeed makes generated content reproducible when non-zero.
	RandSeed int64
}

// DefaultOptions is what cmd/seed runs without flags.
var DefaultOptions = Options{
	Students:       12,
	Mentors:        3,
	RealProjects:   8,
	SampleProjects: 6,
	MaxLikes:       6,
	Comments:       2,
	MaxDays:        60,
}

// Result summarizes one seeding run.
type Result struct {
	Users    []*models.User
	Projects []*models.Project
	Samples  []*models.Project
	Comments int
}

// Seed populates the store with demo users, real-looking projects and
// sample projects.
func Seed(ctx context.Context, store *repository.Store, opts Options) (*Result, error) {
	log := middleware.Logger
	log.InfoContext(ctx, "seeding started",
		slog.String("backend", store.Backend),
		slog.Int("students", opts.Students),
		slog.Int("mentors", opts.Mentors),
		slog.Bool("dry_run", opts.DryRun),
	)
	f := NewFactory(store, opts)
	res := &Result{}

	for i := 0; i < opts.Mentors; i++ {
		u, err := f.CreateUser(ctx, models.RoleMentor)
		if err != nil {
			return res, fmt.Errorf("create mentor: %w", err)
		}
		res.Users = append(res.Users, u)
	}
	for i := 0; i < opts.Students; i++ {
		u, err := f.CreateUser(ctx, models.RoleStudent)
		if err != nil {
			return res, fmt.Errorf("create student: %w", err)
		}
		res.Users = append(res.Users, u)
	}
	if len(res.Users) == 0 {
		return res, nil
	}
	log.InfoContext(ctx, "users created", slog.Int("count", len(res.Users)))

	for i := 0; i < opts.SampleProjects; i++ {
		p := f.BuildSample(res.Users[i%len(res.Users)])
		if err := f.CreateProject(ctx, p); err != nil {
			return res, fmt.Errorf("create sample project: %w", err)
		}
		res.Samples = append(res.Samples, p)
	}

	for i := 0; i < opts.RealProjects; i++ {
		author := res.Users[f.faker.Number(0, len(res.Users)-1)]
		p := f.BuildProject(author)
		if err := f.CreateProject(ctx, p); err != nil {
			return res, fmt.Errorf("create project: %w", err)
		}
		res.Projects = append(res.Projects, p)

		if err := engage(ctx, f, res, p, opts); err != nil {
			return res, err
		}
	}

	for i, u := range res.Users {
		followee := res.Users[(i+1)%len(res.Users)]
		if err := f.Follow(ctx, u, followee); err != nil {
			return res, fmt.Errorf("follow: %w", err)
		}
	}

	log.InfoContext(ctx, "seeding completed",
		slog.Int("projects", len(res.Projects)),
		slog.Int("samples", len(res.Samples)),
		slog.Int("comments", res.Comments),
	)
	return res, nil
}

// engage adds likes and comments from users other than the author.
func engage(ctx context.Context, f *Factory, res *Result, p *models.Project, opts Options) error {
	likes := 0
	if opts.MaxLikes > 0 {
		likes = f.faker.Number(0, opts.MaxLikes)
	}
	for _, idx := range f.faker.Rand.Perm(len(res.Users)) {
		if likes == 0 {
			break
		}
		fan := res.Users[idx]
		if fan.ID == p.Author.ID {
			continue
		}
		if err := f.Like(ctx, fan, p); err != nil {
			return fmt.Errorf("like: %w", err)
		}
		likes--
	}

	for i := 0; i < opts.Comments; i++ {
		commenter := res.Users[f.faker.Number(0, len(res.Users)-1)]
		if _, err := f.CreateComment(ctx, commenter, p); err != nil {
			return fmt.Errorf("comment: %w", err)
		}
		res.Comments++
	}
	return nil
}

// Clean deletes every row of the relational schema. It is only meant for
// development databases.
func Clean(db *gorm.DB) error {
	middleware.Logger.Warn("clearing existing data")
	all := database.PersistentModels()
	// Children first.
	for i := len(all) - 1; i >= 0; i-- {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(all[i]).Error; err != nil {
			return err
		}
	}
	return nil
}
