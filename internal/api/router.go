package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/opsmith/cloudbase/internal/api/handlers"
	"github.com/opsmith/cloudbase/internal/api/middleware"
	"github.com/opsmith/cloudbase/internal/audit"
	"github.com/opsmith/cloudbase/internal/ledger"
	"github.com/opsmith/cloudbase/internal/lifecycle"
	"github.com/opsmith/cloudbase/internal/registry"
	"github.com/opsmith/cloudbase/internal/versioning"
	"github.com/opsmith/cloudbase/pkg/crypto"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Router struct {
	chi.Router
}

type RouterConfig struct {
	DB             *gorm.DB
	Redis          *redis.Client
	Logger         *slog.Logger
	Encryptor      *crypto.Encryptor
	AsynqClient    *asynq.Client
	AllowedOrigins []string // CORS allowed origins
	RateLimitReqs  int      // Rate limit requests per window
	RateLimitSecs  int      // Rate limit window in seconds
}

func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()

	// Global middleware. Actor attribution is taken from the
	// gateway-verified header and runs first so request logs carry it;
	// requests without it are recorded as unattributed.
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Actor())
	r.Use(middleware.Logging(cfg.Logger))

	// Rate limiting - applied globally to prevent abuse
	if cfg.RateLimitReqs > 0 {
		r.Use(middleware.RateLimit(cfg.RateLimitReqs, cfg.RateLimitSecs))
	}

	// CORS - restrict to configured origins, or allow all in development
	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		// Default to localhost for development - configure in production
		allowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.ActorHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize services
	led := ledger.New(cfg.DB, cfg.Logger)
	guard := versioning.NewGuard()
	reg := registry.NewService(cfg.DB, led, guard, cfg.Logger)
	recorder := audit.NewRecorder(cfg.DB, cfg.Logger)
	machine := lifecycle.NewMachine(cfg.DB, reg, recorder, cfg.Logger)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Redis)
	orgHandler := handlers.NewOrganisationHandler(cfg.DB, reg)
	accountHandler := handlers.NewCloudAccountHandler(cfg.DB, reg, cfg.Encryptor)
	envHandler := handlers.NewEnvironmentHandler(cfg.DB, reg, machine, recorder, cfg.AsynqClient, cfg.Logger)
	appHandler := handlers.NewApplicationHandler(cfg.DB, reg)
	tagHandler := handlers.NewTagHandler(cfg.DB, reg)
	secretHandler := handlers.NewSecretHandler(cfg.DB, reg, recorder, cfg.Logger)
	historyHandler := handlers.NewHistoryHandler(led)
	auditHandler := handlers.NewAuditHandler(recorder)

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/organisations", func(r chi.Router) {
			r.Get("/", orgHandler.List)
			r.Post("/", orgHandler.Create)
			r.Get("/{id}", orgHandler.Get)
			r.Put("/{id}", orgHandler.Update)
			r.Delete("/{id}", orgHandler.Delete)
		})

		r.Route("/cloud-accounts", func(r chi.Router) {
			r.Get("/", accountHandler.List)
			r.Post("/", accountHandler.Create)
			r.Get("/{id}", accountHandler.Get)
			r.Put("/{id}", accountHandler.Update)
			r.Delete("/{id}", accountHandler.Delete)
		})

		r.Route("/environments", func(r chi.Router) {
			r.Get("/", envHandler.List)
			r.Post("/", envHandler.Create)
			r.Get("/{id}", envHandler.Get)
			r.Put("/{id}", envHandler.Update)
			r.Delete("/{id}", envHandler.Delete)
			r.Post("/{id}/events", envHandler.Event)
		})

		r.Route("/applications", func(r chi.Router) {
			r.Get("/", appHandler.List)
			r.Post("/", appHandler.Create)
			r.Get("/{id}", appHandler.Get)
			r.Put("/{id}", appHandler.Update)
			r.Delete("/{id}", appHandler.Delete)
			r.Post("/{id}/mappings", appHandler.CreateMapping)
			r.Get("/{id}/mappings", appHandler.ListMappings)
			r.Delete("/{id}/mappings/{mappingID}", appHandler.DeleteMapping)
		})

		r.Route("/tags", func(r chi.Router) {
			r.Get("/", tagHandler.List)
			r.Post("/", tagHandler.Create)
			r.Get("/{id}", tagHandler.Get)
			r.Put("/{id}", tagHandler.Update)
			r.Delete("/{id}", tagHandler.Delete)
		})

		r.Route("/secrets", func(r chi.Router) {
			r.Get("/", secretHandler.List)
			r.Post("/", secretHandler.Create)
			r.Get("/{id}", secretHandler.Get)
			r.Post("/{id}/rotate", secretHandler.Rotate)
			r.Delete("/{id}", secretHandler.Delete)
		})

		r.Get("/history/{entityType}/{id}", historyHandler.List)
		r.Get("/audit", auditHandler.List)
	})

	return &Router{r}
}
