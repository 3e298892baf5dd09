// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles,
// optionally seeded from a .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/userhub/userhub/internal/auth"
)

// Storage drivers.
const (
	DriverCassandra = "cassandra"
	DriverPostgres  = "postgres"
	DriverMemory    = "memory"
)

// DefaultEnvFile is the dotenv file read by Load when present.
const DefaultEnvFile = ".env"

// ConfigurationError reports a missing or invalid setting.
// It is fatal at startup.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Astra / Cassandra credentials. The client id and secret double as the
	// username and password for the CQL password authenticator.
	Keyspace     string `env:"ASTRADB_KEYSPACE,required,notEmpty"`
	ClientID     string `env:"ASTRADB_CLIENT_ID,required,notEmpty"`
	ClientSecret string `env:"ASTRADB_CLIENT_SECRET,required,notEmpty"`

	// Storage backend: cassandra, postgres or memory.
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"cassandra"`

	// Cassandra
	CassandraHosts       []string      `env:"CASSANDRA_HOSTS" envSeparator:"," envDefault:"127.0.0.1"`
	CassandraPort        int           `env:"CASSANDRA_PORT" envDefault:"9042"`
	CassandraConsistency string        `env:"CASSANDRA_CONSISTENCY" envDefault:"QUORUM"`
	CassandraTimeout     time.Duration `env:"CASSANDRA_TIMEOUT" envDefault:"10s"`
	CassandraCAPath      string        `env:"CASSANDRA_CA_PATH"`
	CassandraCertPath    string        `env:"CASSANDRA_CERT_PATH"`
	CassandraKeyPath     string        `env:"CASSANDRA_KEY_PATH"`

	// PostgreSQL
	DatabaseURL    string `env:"DATABASE_URL"`
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"pgx"`

	// Redis (rate limiting). Empty disables rate limiting.
	RedisURL         string `env:"REDIS_URL"`
	RateLimitEnabled bool   `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitRPS     int    `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst   int    `env:"RATE_LIMIT_BURST" envDefault:"10"`

	// Email validation
	EmailCheckDeliverability bool          `env:"EMAIL_CHECK_DELIVERABILITY" envDefault:"true"`
	EmailDNSTimeout          time.Duration `env:"EMAIL_DNS_TIMEOUT" envDefault:"5s"`

	// Identifier scheme for new users: uuidv1, uuidv7 or ulid.
	UserIDScheme string `env:"USER_ID_SCHEME" envDefault:"uuidv1"`

	// Argon2id cost parameters
	Argon2Time      uint32 `env:"ARGON2_TIME" envDefault:"3"`
	Argon2MemoryKiB uint32 `env:"ARGON2_MEMORY_KIB" envDefault:"65536"`
	Argon2Threads   uint8  `env:"ARGON2_THREADS" envDefault:"4"`

	// Session tokens. Empty secret disables token issuance.
	JWTSecret string        `env:"JWT_SECRET"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// TokensEnabled reports whether login issues session tokens.
func (c *Config) TokensEnabled() bool {
	return c.JWTSecret != ""
}

// RateLimitConfigured reports whether a Redis-backed rate limiter should be built.
func (c *Config) RateLimitConfigured() bool {
	return c.RateLimitEnabled && c.RedisURL != ""
}

// Validate checks rules that span several fields.
func (c *Config) Validate() error {
	if !slices.Contains([]string{DriverCassandra, DriverPostgres, DriverMemory}, c.StorageDriver) {
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	if c.StorageDriver == DriverPostgres {
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORAGE_DRIVER=postgres")
		}
		if c.DatabaseDriver != "pgx" && c.DatabaseDriver != "postgres" {
			return fmt.Errorf("unknown DATABASE_DRIVER %q", c.DatabaseDriver)
		}
	}

	if c.StorageDriver == DriverCassandra && len(c.CassandraHosts) == 0 {
		return errors.New("CASSANDRA_HOSTS must list at least one host")
	}

	if (c.CassandraCertPath == "") != (c.CassandraKeyPath == "") {
		return errors.New("CASSANDRA_CERT_PATH and CASSANDRA_KEY_PATH must be set together")
	}

	switch c.UserIDScheme {
	case "uuidv1", "uuidv7", "ulid":
	default:
		return fmt.Errorf("unknown USER_ID_SCHEME %q", c.UserIDScheme)
	}

	if c.Argon2Time == 0 || c.Argon2MemoryKiB == 0 || c.Argon2Threads == 0 {
		return errors.New("argon2 parameters must be positive")
	}
	// Hashes above these costs would be refused at verification time.
	if c.Argon2MemoryKiB > auth.MaxMemoryKiB || c.Argon2Time > auth.MaxTime {
		return fmt.Errorf("argon2 cost exceeds the accepted maximum (memory %d KiB, time %d)", auth.MaxMemoryKiB, auth.MaxTime)
	}

	return nil
}

// Load parses environment variables and returns a Config.
// Values from DefaultEnvFile are applied first without overriding the process environment.
// Returns a *ConfigurationError if required variables are missing.
func Load() (*Config, error) {
	return LoadFile(DefaultEnvFile)
}

// LoadFile is Load with an explicit dotenv path. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, &ConfigurationError{Err: fmt.Errorf("read %s: %w", path, err)}
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("failed to parse config: %w", err)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	return cfg, nil
}
