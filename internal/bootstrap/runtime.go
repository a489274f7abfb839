// Package bootstrap opens the configured store and shared clients for the
// server and the command line tools.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"projecthub/internal/cache"
	"projecthub/internal/config"
	"projecthub/internal/database"
	"projecthub/internal/docstore"
	"projecthub/internal/middleware"
	"projecthub/internal/models"
	"projecthub/internal/repository"
	"projecthub/internal/seed"
	"projecthub/internal/service"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedDemo fills an empty store with demo data.
	SeedDemo bool
	// SkipRedis leaves the cache client unset; cache helpers then fall
	// through to the store.
	SkipRedis bool
}

// Runtime holds the opened backends. Exactly one of DB and Mongo is set.
type Runtime struct {
	Store *repository.Store
	DB    *gorm.DB
	Mongo *mongo.Client
	Redis *redis.Client
}

// Close releases every client the runtime opened.
func (r *Runtime) Close(ctx context.Context) error {
	var firstErr error
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			firstErr = err
		}
	}
	if r.Mongo != nil {
		if err := r.Mongo.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.DB != nil {
		if sqlDB, err := r.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// OpenStore connects to the backend selected by STORE_BACKEND.
func OpenStore(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	switch cfg.StoreBackend {
	case config.StoreMongo:
		client, err := docstore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("mongo connection failed: %w", err)
		}
		db := client.Database(cfg.MongoDB)
		if err := docstore.EnsureIndexes(ctx, db); err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("mongo index setup failed: %w", err)
		}
		return &Runtime{Store: docstore.NewStore(db), Mongo: client}, nil
	default:
		db, err := database.Connect(cfg)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		return &Runtime{Store: repository.NewStore(db), DB: db}, nil
	}
}

// InitRuntime connects the store and Redis, bootstraps the development root
// admin and optionally seeds demo data.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	rt, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if !opts.SkipRedis {
		// A nil client after this is fine; the cache helpers no-op.
		cache.InitRedis(cfg.RedisURL)
		rt.Redis = cache.GetClient()
	}

	if err := ensureDevRootAdmin(ctx, cfg, rt.Store.Users); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("failed to bootstrap development root admin: %w", err)
	}

	if opts.SeedDemo {
		if err := seedIfEmpty(ctx, rt.Store); err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}
	return rt, nil
}

func seedIfEmpty(ctx context.Context, store *repository.Store) error {
	existing, err := store.Projects.List(ctx, repository.ProjectFilter{Limit: 1})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	opts := seed.DefaultOptions
	opts.SkipBcrypt = true
	_, err = seed.Seed(ctx, store, opts)
	return err
}

// ensureDevRootAdmin makes sure the configured super admin exists in
// development. An existing account keeps its password.
func ensureDevRootAdmin(ctx context.Context, cfg *config.Config, users repository.UserRepository) error {
	if cfg == nil || users == nil {
		return nil
	}
	if !strings.EqualFold(cfg.Env, "development") || !cfg.DevBootstrapRoot {
		return nil
	}

	email := strings.TrimSpace(strings.ToLower(cfg.DevRootEmail))
	if email == "" {
		email = "root@projecthub.local"
	}
	name := strings.TrimSpace(cfg.DevRootName)
	if name == "" {
		name = "ProjectHub Root"
	}
	if cfg.DevRootPassword == "" {
		return fmt.Errorf("DEV_ROOT_PASSWORD must be set when DEV_BOOTSTRAP_ROOT is enabled")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	provisioning := service.NewProvisioningService(users, cfg.DirectoryRoles(), nil)
	u, created, err := provisioning.EnsureAdmin(ctx, service.EnsureAdminInput{
		Email:    email,
		FullName: name,
		Password: cfg.DevRootPassword,
		Role:     models.RoleSuperAdmin,
		Mentor:   true,
	})
	if err != nil {
		return err
	}
	middleware.Logger.InfoContext(ctx, "development root admin ensured",
		slog.String("user_id", u.ID.String()),
		slog.String("email", email),
		slog.Bool("created", created),
	)
	return nil
}
