// Command seed fills the configured store with demo users and projects.
package main

import (
	"context"
	"flag"
	"log"

	"projecthub/internal/bootstrap"
	"projecthub/internal/config"
	"projecthub/internal/docstore"
	"projecthub/internal/seed"
)

func main() {
	opts := seed.DefaultOptions
	flag.IntVar(&opts.Students, "students", opts.Students, "Number of student accounts")
	flag.IntVar(&opts.Mentors, "mentors", opts.Mentors, "Number of mentor accounts")
	flag.IntVar(&opts.RealProjects, "projects", opts.RealProjects, "Number of real-looking projects")
	flag.IntVar(&opts.SampleProjects, "samples", opts.SampleProjects, "Number of sample projects")
	flag.IntVar(&opts.MaxLikes, "max-likes", opts.MaxLikes, "Maximum likes per real project")
	flag.IntVar(&opts.Comments, "comments", opts.Comments, "Comments per real project")
	flag.Int64Var(&opts.RandSeed, "rand-seed", 0, "Seed for reproducible content (0 uses the clock)")
	flag.BoolVar(&opts.ShouldClean, "clean", false, "Delete existing data before seeding")
	flag.BoolVar(&opts.DryRun, "dry-run", false, "Generate without writing")
	flag.BoolVar(&opts.SkipBcrypt, "fast-hash", true, "Hash the demo password with the minimum bcrypt cost")
	flag.Parse()

	log.Println("ProjectHub seeder")
	log.Printf("Target: %d students, %d mentors, %d projects, %d samples, clean=%v",
		opts.Students, opts.Mentors, opts.RealProjects, opts.SampleProjects, opts.ShouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{SkipRedis: true})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer func() { _ = rt.Close(ctx) }()

	if opts.ShouldClean && !opts.DryRun {
		if err := clean(ctx, cfg, rt); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	res, err := seed.Seed(ctx, rt.Store, opts)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Printf("Created %d users, %d projects, %d samples, %d comments",
		len(res.Users), len(res.Projects), len(res.Samples), res.Comments)
	log.Printf("All seeded accounts use the password: %s", seed.DemoPassword)
}

func clean(ctx context.Context, cfg *config.Config, rt *bootstrap.Runtime) error {
	if rt.DB != nil {
		return seed.Clean(rt.DB)
	}
	db := rt.Mongo.Database(cfg.MongoDB)
	if err := db.Drop(ctx); err != nil {
		return err
	}
	return docstore.EnsureIndexes(ctx, db)
}
