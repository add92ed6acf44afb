package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/coursechat/internal/api/middleware"
	"github.com/eldtechnologies/coursechat/internal/config"
	"github.com/eldtechnologies/coursechat/internal/handlers"
	"github.com/eldtechnologies/coursechat/internal/realtime"
	"github.com/eldtechnologies/coursechat/internal/store"
)

// NewRouter creates and configures the HTTP router. redisStore may be nil.
func NewRouter(logger zerolog.Logger, cfg *config.Config, db store.DataStore, redisStore *store.RedisStore, hub *realtime.Hub) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	limiter := middleware.NewRateLimiter(redisClientOf(redisStore), logger, middleware.RateLimiterConfig{
		Whitelist:        cfg.RateLimitWhitelist,
		AutoBlockEnabled: cfg.AutoBlockEnabled,
	})
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	secret := []byte(cfg.JWTSecret)
	h := handlers.NewHandler(db, redisStore, hub, secret, cfg.TokenTTL, logger)
	auth := middleware.NewAuthMiddleware(secret, logger)

	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Post("/auth/login", h.Login)
	r.Post("/auth/register", h.Register)

	// Authenticated routes (require bearer token)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/users/{id}", h.Who)
		r.Get("/stats", h.Stats)

		r.Get("/conversations", h.ListConversations)
		r.Post("/conversations", h.CreateConversation)
		r.Get("/conversations/{id}/messages", h.GetMessages)
		r.Post("/conversations/{id}/messages", h.PostMessage)
		r.Post("/conversations/{id}/seen", h.MarkSeen)

		r.Get("/ws", h.Socket)
	})

	return r
}

func redisClientOf(s *store.RedisStore) *redis.Client {
	if s == nil {
		return nil
	}
	return s.Client()
}
