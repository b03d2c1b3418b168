package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	LLM        LLMConfig
	Versioning VersioningConfig
	CORS       CORSConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Driver   string // "postgres" or "memory"
	URL      string
	MaxConns int
	MinConns int
	// Zero durations keep the pgxpool defaults.
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	AutoMigrate     bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

type LLMConfig struct {
	OpenAIKey       string
	OpenAIBaseURL   string // any OpenAI-compatible endpoint
	AnthropicKey    string
	DefaultProvider string
	MaxRetries      int
}

type VersioningConfig struct {
	ConflictRetries int
	CacheTTL        time.Duration
	PurgeRetention  time.Duration
	PurgeSchedule   string // cron spec for the worker's scheduler
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real env vars take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	intVar := func(key string, fallback int) int {
		v, err := getEnvInt(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
		return v
	}
	durationVar := func(key string, fallback time.Duration) time.Duration {
		v, err := getEnvDuration(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
		return v
	}
	boolVar := func(key string, fallback bool) bool {
		v, err := getEnvBool(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
		return v
	}

	rps, err := strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "10"), 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err))
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            intVar("SERVER_PORT", 8080),
			ShutdownTimeout: durationVar("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("DB_DRIVER", DriverPostgres)),
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        intVar("DB_MAX_CONNS", 20),
			MinConns:        intVar("DB_MIN_CONNS", 2),
			MaxConnLifetime: durationVar("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdleTime: durationVar("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
			AutoMigrate:     boolVar("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       intVar("REDIS_DB", 0),
			Enabled:  boolVar("REDIS_ENABLED", true),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", "promptvault"),
			TokenTTL:  durationVar("JWT_TOKEN_TTL", 24*time.Hour),
		},
		LLM: LLMConfig{
			OpenAIKey:       getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
			AnthropicKey:    getEnv("ANTHROPIC_API_KEY", ""),
			DefaultProvider: getEnv("LLM_DEFAULT_PROVIDER", "openai"),
			MaxRetries:      intVar("LLM_MAX_RETRIES", 2),
		},
		Versioning: VersioningConfig{
			ConflictRetries: intVar("VERSION_CONFLICT_RETRIES", 3),
			CacheTTL:        durationVar("VERSION_CACHE_TTL", 5*time.Minute),
			PurgeRetention:  durationVar("VERSION_PURGE_RETENTION", 30*24*time.Hour),
			PurgeSchedule:   getEnv("VERSION_PURGE_SCHEDULE", "@daily"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: rps,
			Burst:             intVar("RATE_LIMIT_BURST", 20),
		},
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var problems []string
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres driver")
		}
	case DriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("DB_DRIVER must be %s or %s", DriverPostgres, DriverMemory))
	}
	if c.Auth.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	if c.Versioning.ConflictRetries < 1 {
		problems = append(problems, "VERSION_CONFLICT_RETRIES must be at least 1")
	}
	if c.Versioning.PurgeRetention < 0 {
		problems = append(problems, "VERSION_PURGE_RETENTION must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

// getEnvDuration accepts Go durations ("90s", "720h") or a plain number of seconds.
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
