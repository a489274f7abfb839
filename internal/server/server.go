// Package server contains the HTTP handlers for the ProjectHub API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"projecthub/internal/bootstrap"
	"projecthub/internal/cache"
	"projecthub/internal/classify"
	"projecthub/internal/config"
	"projecthub/internal/featureflags"
	"projecthub/internal/middleware"
	"projecthub/internal/models"
	"projecthub/internal/notifications"
	"projecthub/internal/repository"
	"projecthub/internal/service"
	"projecthub/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	store          *repository.Store
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	// pingStore checks the primary store for readiness.
	pingStore func(ctx context.Context) error

	notifier     *notifications.Notifier
	featureFlags *featureflags.Manager
	classifier   classify.Classifier

	resolver       *service.IdentityResolver
	projectService *service.ProjectService
	commentService *service.CommentService
	userService    *service.UserService
	provisioning   *service.ProvisioningService
	reconcile      *service.ReconcileService
	uploadService  *service.UploadService
}

// NewServer creates a server on top of an initialized runtime.
func NewServer(ctx context.Context, cfg *config.Config, rt *bootstrap.Runtime) (*Server, error) {
	uploads, err := storage.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("upload storage init failed: %w", err)
	}

	s, err := NewServerWithDeps(cfg, rt.Store, rt.Redis, uploads)
	if err != nil {
		return nil, err
	}

	switch {
	case rt.DB != nil:
		s.pingStore = func(ctx context.Context) error {
			sqlDB, err := rt.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	case rt.Mongo != nil:
		s.pingStore = func(ctx context.Context) error {
			return rt.Mongo.Ping(ctx, readpref.Primary())
		}
	}
	return s, nil
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes the store and Redis.
func NewServerWithDeps(cfg *config.Config, store *repository.Store, redisClient *redis.Client, uploads storage.Store) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("server requires a store")
	}

	prom := middleware.InitMetrics("projecthub-api")

	server := &Server{
		config:         cfg,
		store:          store,
		redis:          redisClient,
		promMiddleware: prom,
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
		classifier:     classify.New(cfg.UploadsPrefix),
	}

	// Notify no-ops on a nil notifier, so events are simply dropped without Redis.
	if redisClient != nil {
		server.notifier = notifications.NewNotifier(redisClient)
	}

	server.resolver = service.NewIdentityResolver(store.Users)
	server.projectService = service.NewProjectService(store, server.resolver, service.ProjectServiceConfig{
		SharePolicy: cfg.SharePolicy,
		Classifier:  server.classifier,
		Flags:       server.featureFlags,
		Notifier:    server.notifier,
	})
	server.commentService = service.NewCommentService(store.Comments, server.projectService, server.notifier)
	server.userService = service.NewUserService(store, service.UserServiceConfig{
		JWTSecret: cfg.JWTSecret,
		Notifier:  server.notifier,
	})
	server.provisioning = service.NewProvisioningService(store.Users, cfg.DirectoryRoles(), server.notifier)
	server.reconcile = service.NewReconcileService(store, server.resolver, server.classifier)
	if uploads != nil {
		server.uploadService = service.NewUploadService(uploads, cfg.UploadsPrefix, cfg.UploadMaxSizeMB)
	}

	return server, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())

	// Request ID for log correlation
	app.Use(requestid.New())

	// Request span; sets the traceID local read by ContextMiddleware
	app.Use(middleware.TracingMiddleware())

	// Context Middleware to propagate Request ID, User ID and Trace ID
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Uploaded images are served cross-origin to the frontend.
	app.Use(helmet.New(helmet.Config{
		CrossOriginResourcePolicy: "cross-origin",
	}))

	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so error responses still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Idempotency-Key",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")
	authRequired := s.AuthRequired()
	adminRequired := s.AdminRequired()

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Uploaded media, addressed by content hash
	app.Get(s.uploadsRoute(), s.ServeUpload)

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/signup", middleware.RateLimit(
		s.redis, 3, 10*time.Minute, "signup"), s.Signup)
	auth.Post("/login", middleware.RateLimit(
		s.redis, 10, 5*time.Minute, "login"), s.Login)
	auth.Post("/logout", s.Logout)

	// Project routes
	projects := api.Group("/projects")
	projects.Get("/", s.GetProjects)
	projects.Post("/", authRequired, middleware.RateLimit(
		s.redis, 10, 10*time.Minute, "create_project"), s.CreateProject)
	// Define specific /:id/:resource routes BEFORE generic /:id route
	projects.Get("/:id/author", s.GetProjectAuthor)
	projects.Get("/:id/comments", s.GetComments)
	projects.Post("/:id/comments", authRequired, middleware.RateLimit(
		s.redis, 5, time.Minute, "create_comment"), s.CreateComment)
	projects.Put("/:id/comments/:commentId", authRequired, s.UpdateComment)
	projects.Delete("/:id/comments/:commentId", authRequired, s.DeleteComment)
	projects.Post("/:id/like", authRequired, s.ToggleLike)
	projects.Delete("/:id/like", authRequired, s.UnlikeProject)
	projects.Post("/:id/share", authRequired, middleware.RateLimit(
		s.redis, 30, time.Minute, "share"), s.ShareProject)
	projects.Delete("/:id/share", authRequired, s.UnshareProject)
	projects.Get("/:id", s.GetProject)
	projects.Put("/:id", authRequired, s.UpdateProject)
	projects.Delete("/:id", authRequired, s.DeleteProject)

	// User routes; fixed paths before /:id
	users := api.Group("/users")
	users.Get("/mentors", s.GetMentors)
	users.Get("/resolve/:ref", s.ResolveUser)
	users.Get("/me", authRequired, s.GetMyProfile)
	users.Put("/me", authRequired, s.UpdateMyProfile)
	users.Get("/:id/projects", s.GetUserProjects)
	users.Post("/:id/follow", authRequired, s.FollowUser)
	users.Delete("/:id/follow", authRequired, s.UnfollowUser)
	users.Get("/:id", s.GetUserProfile)

	// Uploads
	api.Post("/uploads", authRequired, middleware.RateLimit(
		s.redis, 20, 10*time.Minute, "upload"), s.UploadImage)

	// Admin routes
	admin := api.Group("/admin", authRequired, adminRequired)
	admin.Get("/admins", s.ListAdmins)
	admin.Get("/feature-flags", s.GetFeatureFlags)
	admin.Post("/users/:id/promote", s.PromoteUser)
	admin.Post("/users/:id/demote", s.DemoteUser)
	admin.Patch("/users/:id/status", s.SetUserStatus)
	admin.Post("/reconcile", s.Reconcile)
	admin.Get("/inspect", s.Inspect)
	admin.Get("/dashboard", monitor.New(monitor.Config{
		Title: "ProjectHub Backend Metrics Dashboard",
	}))
}

// uploadsRoute mounts uploads under the configured prefix when it is a
// local path. An absolute prefix points at a CDN, so files stay at /uploads.
func (s *Server) uploadsRoute() string {
	prefix := strings.TrimRight(s.config.UploadsPrefix, "/")
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/uploads"
	}
	return prefix + "/:hash/:file"
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	storeStatus := "healthy"
	if s.pingStore != nil {
		if err := s.pingStore(ctx); err != nil {
			storeStatus = "unhealthy"
		}
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		// Rate limits and token revocation depend on Redis.
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if storeStatus == "unhealthy" || redisStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status":  overallStatus,
		"backend": s.store.Backend,
		"checks": fiber.Map{
			"store": storeStatus,
			"redis": redisStatus,
		},
		"time": time.Now(),
	})
}

// AdminRequired returns middleware that rejects non-admin users with 403.
// Must be placed after AuthRequired so that userID is available in locals.
func (s *Server) AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := middleware.CurrentUserID(c)

		user, err := s.store.Users.GetByID(c.UserContext(), userID)
		if err != nil {
			if models.IsNotFound(err) {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Account no longer exists"))
			}
			return s.respondServiceError(c, err)
		}
		if !user.Type.IsAdmin() || !user.CanInteract() {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewForbiddenError("Admin access required"))
		}

		return c.Next()
	}
}

// AuthRequired returns the authentication middleware
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := middleware.BearerToken(c)
		if tokenString == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		claims, err := middleware.ParseAccessToken(s.config.JWTSecret, tokenString)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}

		if claims.ID != "" && cache.IsRevoked(c.UserContext(), claims.ID) {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Token has been revoked"))
		}

		userID := claims.UserID()
		c.Locals("userID", userID)
		c.Locals("claims", claims)
		// Sync to UserContext for logging and downstream services
		c.SetUserContext(middleware.WithUserID(c.UserContext(), userID))

		return c.Next()
	}
}

// optionalUserID returns the viewer when a valid token is present but does not enforce it.
func (s *Server) optionalUserID(c *fiber.Ctx) (models.UserID, bool) {
	if id, ok := middleware.CurrentUserID(c); ok {
		return id, true
	}
	tokenString := middleware.BearerToken(c)
	if tokenString == "" {
		return "", false
	}
	claims, err := middleware.ParseAccessToken(s.config.JWTSecret, tokenString)
	if err != nil {
		return "", false
	}
	if claims.ID != "" && cache.IsRevoked(c.UserContext(), claims.ID) {
		return "", false
	}
	return claims.UserID(), true
}

// App builds the Fiber app with middleware and routes.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName:   "ProjectHub API",
		BodyLimit: s.bodyLimit(),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return models.RespondWithError(c, fe.Code, &models.AppError{
					Code:    codeForStatus(fe.Code),
					Message: fe.Message,
				})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// bodyLimit leaves room for multipart overhead above the upload cap.
func (s *Server) bodyLimit() int {
	limit := 4 * 1024 * 1024
	if s.uploadService != nil {
		if n := int(s.uploadService.MaxUploadBytes()) + 1024*1024; n > limit {
			limit = n
		}
	}
	return limit
}

// Start starts the server
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := s.App()

	// Log every event published to the user and project channels.
	if err := s.notifier.StartPatternSubscriber(s.shutdownCtx, func(channel, payload string) {
		middleware.Logger.Debug("event published",
			slog.String("channel", channel),
			slog.Int("bytes", len(payload)),
		)
	}); err != nil {
		middleware.Logger.Warn("event subscriber not started", slog.String("error", err.Error()))
	}

	middleware.Logger.Info("server starting",
		slog.String("port", s.config.Port),
		slog.String("backend", s.store.Backend),
		slog.String("share_policy", s.projectService.SharePolicy()),
	)
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the HTTP server. The runtime owns the
// store and Redis clients and closes them separately.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return nil
}
