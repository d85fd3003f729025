package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/observability"
)

// Cache backends selectable via WARDEN_CACHE_BACKEND.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Identity modes selectable via WARDEN_IDENTITY_MODE.
const (
	IdentityModeHeader = "header"
	IdentityModeJWT    = "jwt"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Identity      IdentityConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL      string
	MaxConns int
}

// CacheConfig holds decision cache configuration
type CacheConfig struct {
	Backend       string
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// IdentityConfig holds identity resolution configuration
type IdentityConfig struct {
	Mode        string
	Header      string
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

// AuditConfig holds audit trail configuration
type AuditConfig struct {
	RetentionDays int
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("WARDEN_HOST", "0.0.0.0"),
			Port:            getEnv("WARDEN_PORT", "8080"),
			ReadTimeout:     getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:      getEnv("WARDEN_POSTGRES_URL", ""),
			MaxConns: getEnvInt("WARDEN_POSTGRES_MAX_CONNS", 20),
		},
		Cache: CacheConfig{
			Backend:       strings.ToLower(getEnv("WARDEN_CACHE_BACKEND", CacheBackendMemory)),
			TTL:           getEnvDuration("WARDEN_CACHE_TTL", 5*time.Minute),
			RedisAddr:     getEnv("WARDEN_REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("WARDEN_REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("WARDEN_REDIS_DB", 0),
		},
		Identity: IdentityConfig{
			Mode:        strings.ToLower(getEnv("WARDEN_IDENTITY_MODE", IdentityModeHeader)),
			Header:      getEnv("WARDEN_IDENTITY_HEADER", "X-User-ID"),
			JWTSecret:   getEnv("WARDEN_JWT_SECRET", ""),
			JWTIssuer:   getEnv("WARDEN_JWT_ISSUER", ""),
			JWTAudience: getEnv("WARDEN_JWT_AUDIENCE", ""),
		},
		Audit: AuditConfig{
			RetentionDays: getEnvInt("WARDEN_AUDIT_RETENTION_DAYS", 90),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("WARDEN_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("WARDEN_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("redis address is required for redis cache")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory or redis)", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	switch c.Identity.Mode {
	case IdentityModeHeader:
		if c.Identity.Header == "" {
			return fmt.Errorf("identity header is required for header mode")
		}
	case IdentityModeJWT:
		if c.Identity.JWTSecret == "" {
			return fmt.Errorf("JWT secret is required for jwt identity mode")
		}
	default:
		return fmt.Errorf("invalid identity mode: %s (must be header or jwt)", c.Identity.Mode)
	}

	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit retention days must be positive")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
