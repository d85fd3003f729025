// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	WARDEN_HOST="0.0.0.0"
//	WARDEN_PORT="8080"
//	WARDEN_READ_TIMEOUT="15s"
//	WARDEN_WRITE_TIMEOUT="15s"
//	WARDEN_SHUTDOWN_TIMEOUT="30s"
//
// Database settings:
//
//	WARDEN_POSTGRES_URL="postgres://localhost/warden"
//	WARDEN_POSTGRES_MAX_CONNS="20"
//
// Cache settings:
//
//	WARDEN_CACHE_BACKEND="memory"  # memory, redis
//	WARDEN_CACHE_TTL="5m"
//	WARDEN_REDIS_ADDR="localhost:6379"
//	WARDEN_REDIS_PASSWORD=""
//	WARDEN_REDIS_DB="0"
//
// Identity settings:
//
//	WARDEN_IDENTITY_MODE="header"  # header, jwt
//	WARDEN_IDENTITY_HEADER="X-User-ID"
//	WARDEN_JWT_SECRET=""
//	WARDEN_JWT_ISSUER=""
//	WARDEN_JWT_AUDIENCE=""
//
// Audit settings:
//
//	WARDEN_AUDIT_RETENTION_DAYS="90"
//
// Observability settings:
//
//	WARDEN_LOG_LEVEL="info"  # debug, info, warn, error
//	WARDEN_METRICS_ENABLED="true"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Cache: %s\n", cfg.Cache.Backend)
//
// # Related Packages
//
//   - pkg/cache: Uses cache configuration
//   - pkg/identity: Uses identity configuration
//   - pkg/observability: Uses observability configuration
package config
