// Package main is the entrypoint for the userhub API server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/userhub/userhub/internal/auth"
	"github.com/userhub/userhub/internal/cache"
	"github.com/userhub/userhub/internal/config"
	"github.com/userhub/userhub/internal/email"
	"github.com/userhub/userhub/internal/idgen"
	"github.com/userhub/userhub/internal/metrics"
	"github.com/userhub/userhub/internal/repository"
	"github.com/userhub/userhub/internal/server"
	"github.com/userhub/userhub/internal/service"
)

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			slog.Error("configuration error", "error", cfgErr.Err)
		} else {
			slog.Error("failed to load config", "error", err)
		}
		os.Exit(1)
	}

	logger := initLogger(cfg)

	// Open storage and bring the schema up to date
	store, err := repository.Open(ctx, cfg)
	if err != nil {
		logger.Error(
			"failed to open storage",
			slog.String("driver", cfg.StorageDriver),
			slog.String("error", sanitizeError(err, cfg.DatabaseURL, cfg.ClientSecret)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	if err := store.SyncSchema(ctx); err != nil {
		logger.Error("failed to sync schema",
			slog.String("driver", cfg.StorageDriver),
			slog.String("error", sanitizeError(err, cfg.DatabaseURL, cfg.ClientSecret)),
		)
		_ = store.Close()
		os.Exit(1)
	}
	logger.Info("storage ready", "driver", cfg.StorageDriver, "keyspace", cfg.Keyspace)

	// Redis is optional and only backs rate limiting
	var limiter *cache.RateLimiter
	if cfg.RateLimitConfigured() {
		limiter, err = cache.NewRateLimiter(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			_ = store.Close()
			os.Exit(1)
		}
		logger.Info("connected to Redis")
	} else {
		logger.Info("rate limiting disabled")
	}

	ids, err := idgen.New(cfg.UserIDScheme)
	if err != nil {
		logger.Error("invalid id scheme", "error", err)
		os.Exit(1)
	}

	validator := email.New(
		email.WithDeliverability(cfg.EmailCheckDeliverability),
		email.WithTimeout(cfg.EmailDNSTimeout),
	)
	hasher := auth.NewHasher(auth.Params{
		Time:    cfg.Argon2Time,
		Memory:  cfg.Argon2MemoryKiB,
		Threads: cfg.Argon2Threads,
	})

	var tokens *auth.TokenIssuer
	if cfg.TokensEnabled() {
		tokens = auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTTTL)
	} else {
		logger.Info("token issuance disabled")
	}

	recorder := metrics.NewInMemory()
	users := service.NewUserService(store, validator, hasher, ids, recorder)

	r := setupRouter(routerDeps{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		cache:    limiter,
		users:    users,
		tokens:   tokens,
		recorder: recorder,
	})

	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)

	// Hooks run LIFO: Redis is released before the storage session.
	srv.OnShutdown("storage", func(ctx context.Context) error {
		return store.Close()
	})
	if limiter != nil {
		srv.OnShutdown("redis", func(ctx context.Context) error {
			return limiter.Close()
		})
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"storage", cfg.StorageDriver,
		"id_scheme", cfg.UserIDScheme,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" || redacted == secret {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
