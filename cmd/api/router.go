package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/userhub/userhub/internal/auth"
	"github.com/userhub/userhub/internal/cache"
	"github.com/userhub/userhub/internal/config"
	"github.com/userhub/userhub/internal/handler"
	"github.com/userhub/userhub/internal/metrics"
	"github.com/userhub/userhub/internal/middleware"
	"github.com/userhub/userhub/internal/repository"
	"github.com/userhub/userhub/internal/service"
)

// routerDeps are the components the HTTP layer is built from.
// cache and tokens may be nil.
type routerDeps struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    repository.UserStore
	cache    *cache.RateLimiter
	users    *service.UserService
	tokens   *auth.TokenIssuer
	recorder *metrics.InMemoryRecorder
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(d routerDeps) *chi.Mux {
	cfg, logger := d.cfg, d.logger

	// Interfaces are only assigned non-nil values so nil checks downstream hold.
	var issuer handler.TokenIssuer
	var parser middleware.TokenParser
	if d.tokens != nil {
		issuer, parser = d.tokens, d.tokens
	}
	var limiter middleware.Limiter
	var cacheCheck handler.HealthChecker
	if d.cache != nil {
		limiter, cacheCheck = d.cache, d.cache
	}

	h := handler.New(logger)
	healthHandler := handler.NewHealthHandler(d.store, cacheCheck)
	metricsHandler := handler.NewMetricsHandler(d.recorder)
	userHandler := handler.NewUserHandler(d.users, issuer, logger)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger, cfg.IsDevelopment()))
	r.Use(middleware.Security(middleware.SecurityConfig{
		IsDevelopment:      cfg.IsDevelopment(),
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	}))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))
	if origins := cfg.GetCORSAllowedOrigins(); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
			MaxAge:         300,
		}))
	}

	// Health and metrics endpoints
	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)
	r.Get("/metrics", metricsHandler.Metrics)

	r.Get("/", h.Hello)

	rateLimitCfg := middleware.RateLimitConfig{
		Logger:  logger,
		Limiter: limiter,
		Metrics: d.recorder,
		Enabled: cfg.RateLimitEnabled,
		RPS:     cfg.RateLimitRPS,
		Burst:   cfg.RateLimitBurst,
	}
	authCfg := middleware.AuthConfig{
		Logger: logger,
		Tokens: parser,
	}

	r.Route("/users", func(r chi.Router) {
		r.Get("/", userHandler.List)
		r.With(middleware.RateLimitIP(rateLimitCfg, "register")).Post("/", userHandler.Register)
		r.With(middleware.Auth(authCfg)).Get("/me", userHandler.Me)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.RateLimitIP(rateLimitCfg, "login"))
		r.Post("/login", userHandler.Login)
		r.Put("/password", userHandler.ChangePassword)
	})

	// 404 and 405 handlers
	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}
