// Package config loads the gateway's configuration from environment
// variables with sensible defaults and validates it before the process
// starts serving.
//
// Environment variables:
//
// Listeners:
//   - LISTEN_ADDR: data-plane listen address (default: :8080)
//   - ADMIN_ADDR: admin API listen address (default: :9090)
//   - TLS_CERT_FILE / TLS_KEY_FILE: serve the data plane over TLS (set both or neither)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//
// Request path:
//   - MAX_BODY_BYTES: request body buffer cap in bytes (default: 4194304)
//   - BREAKER_FAILURE_THRESHOLD: consecutive failures that open a circuit breaker (default: 5)
//   - BREAKER_COOLDOWN: open-state cooldown before a trial request (default: 60s)
//   - BREAKER_HALF_OPEN_MAX: concurrent half-open trial requests (default: 1)
//   - HEALTH_SCAN_INTERVAL: health prober scheduler tick (default: 1s)
//
// Configuration store:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./vpc_gateway.db)
//   - POSTGRES_HOST: PostgreSQL host (required if using PostgreSQL)
//   - POSTGRES_PORT: PostgreSQL port (default: 5432)
//   - POSTGRES_DB: PostgreSQL database name (required if using PostgreSQL)
//   - POSTGRES_USER: PostgreSQL username (required if using PostgreSQL)
//   - POSTGRES_PASSWORD: PostgreSQL password
//   - POSTGRES_SSL_MODE: PostgreSQL SSL mode (default: disable)
//   - ROUTES_FILE: optional YAML file seeding routes and services at boot
//
// Coordination:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - DISCOVERY_ENABLED: consume endpoint discovery from Redis (default: false)
//   - DISCOVERY_RESYNC_CRON: discovery resync schedule (default: "@every 30s")
//   - RABBITMQ_URL: publish operational events to RabbitMQ when set
//   - EVENTS_EXCHANGE: AMQP topic exchange for events (default: gateway.events)
//
// Admin API security:
//   - JWT_SECRET: JWT signing secret (required, minimum 32 characters)
//   - JWT_TTL: issued token lifetime (default: 24h)
//   - ADMIN_USER: admin login username (default: admin)
//   - ADMIN_PASSWORD: admin login password; every login is refused while unset
//
// Rate limiting:
//   - RATE_LIMIT_ENABLED: enable rate limiting (default: true)
//   - RATE_LIMIT_DEFAULT: default requests per window (default: 100)
//   - RATE_LIMIT_WINDOW: rate limit time window (default: 60s)
//
// Shutdown:
//   - SHUTDOWN_TIMEOUT: graceful drain deadline (default: 30s)
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the gateway. String fields map
// one-to-one to environment variables; load with Load and check with
// Validate before use.
type Config struct {
	// Listeners
	ListenAddr  string // Data-plane listen address
	AdminAddr   string // Admin API listen address
	TLSCertFile string // TLS certificate for the data plane
	TLSKeyFile  string // TLS key for the data plane
	LogLevel    string // Logging level (debug, info, warn, error)

	// Request path
	MaxBodyBytes            int64         // Buffered request body cap
	BreakerFailureThreshold int           // Consecutive failures opening a breaker
	BreakerCooldown         time.Duration // Open-state cooldown
	BreakerHalfOpenMax      int           // Concurrent half-open trials
	HealthScanInterval      time.Duration // Health prober scheduler tick

	// Configuration store
	DatabaseType     string // "sqlite" or "postgres"
	DatabasePath     string // SQLite database file path
	PostgresHost     string // PostgreSQL host address
	PostgresPort     string // PostgreSQL port number
	PostgresDB       string // PostgreSQL database name
	PostgresUser     string // PostgreSQL username
	PostgresPassword string // PostgreSQL password
	PostgresSSLMode  string // PostgreSQL SSL mode
	RoutesFile       string // Optional YAML seed file

	// Coordination
	RedisAddress        string // Redis server address (host:port)
	RedisPassword       string // Redis authentication password
	RedisDB             int    // Redis database number (0-15)
	RedisPoolSize       int    // Redis connection pool size
	DiscoveryEnabled    bool   // Consume endpoint discovery from Redis
	DiscoveryResyncCron string // Cron spec for periodic full resyncs
	RabbitMQURL         string // RabbitMQ connection URL, empty disables events
	EventsExchange      string // AMQP topic exchange for operational events

	// Admin API security
	JWTSecret     string        // Secret key for JWT token signing (required)
	JWTTTL        time.Duration // Issued token lifetime
	AdminUser     string        // Admin login username
	AdminPassword string        // Admin login password, empty disables login

	// Rate limiting
	RateLimitEnabled bool          // Whether rate limiting is enabled
	RateLimitDefault int           // Default requests per window
	RateLimitWindow  time.Duration // Rate limiting time window

	// Shutdown
	ShutdownTimeout time.Duration // Graceful drain deadline
}

// Load creates a Config with values from the environment, falling back to
// defaults for anything unset. Load never fails; call Validate on the
// result before using it.
func Load() *Config {
	return &Config{
		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		AdminAddr:   getEnv("ADMIN_ADDR", ":9090"),
		TLSCertFile: getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:  getEnv("TLS_KEY_FILE", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		MaxBodyBytes:            getInt64Env("MAX_BODY_BYTES", 4<<20),
		BreakerFailureThreshold: getIntEnv("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:         getDurationEnv("BREAKER_COOLDOWN", 60*time.Second),
		BreakerHalfOpenMax:      getIntEnv("BREAKER_HALF_OPEN_MAX", 1),
		HealthScanInterval:      getDurationEnv("HEALTH_SCAN_INTERVAL", time.Second),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./vpc_gateway.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "vpc_gateway"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),
		RoutesFile:       getEnv("ROUTES_FILE", ""),

		RedisAddress:        getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getIntEnv("REDIS_DB", 0),
		RedisPoolSize:       getIntEnv("REDIS_POOL_SIZE", 10),
		DiscoveryEnabled:    getBoolEnv("DISCOVERY_ENABLED", false),
		DiscoveryResyncCron: getEnv("DISCOVERY_RESYNC_CRON", "@every 30s"),
		RabbitMQURL:         getEnv("RABBITMQ_URL", ""),
		EventsExchange:      getEnv("EVENTS_EXCHANGE", "gateway.events"),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		JWTTTL:        getDurationEnv("JWT_TTL", 24*time.Hour),
		AdminUser:     getEnv("ADMIN_USER", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		RateLimitEnabled: getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitDefault: getIntEnv("RATE_LIMIT_DEFAULT", 100),
		RateLimitWindow:  getDurationEnv("RATE_LIMIT_WINDOW", 60*time.Second),

		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// getEnv retrieves an environment variable or returns the default when it
// is unset or empty.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv parses a boolean environment variable, returning the default
// on absence or parse failure.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getIntEnv parses an integer environment variable, returning the default
// on absence or parse failure.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getInt64Env parses a 64-bit integer environment variable, returning the
// default on absence or parse failure.
func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv parses a duration environment variable ("30s", "1m"),
// returning the default on absence or parse failure.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// UsesPostgres reports whether the configuration store runs on PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return c.DatabaseType == "postgres" || c.DatabaseType == "postgresql"
}

// PostgresDSN builds the keyword/value connection string for the
// configured PostgreSQL store.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode)
}

// Validate checks required fields, formats, and cross-field dependencies.
// Call it once after Load, before anything consumes the configuration.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}

	if err := validateAddr("LISTEN_ADDR", c.ListenAddr); err != nil {
		return err
	}
	if err := validateAddr("ADMIN_ADDR", c.AdminAddr); err != nil {
		return err
	}
	if c.ListenAddr == c.AdminAddr {
		return fmt.Errorf("LISTEN_ADDR and ADMIN_ADDR must differ")
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}
	if c.UsesPostgres() {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.RedisAddress != "" {
		if c.RedisDB < 0 || c.RedisDB > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if c.RedisPoolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}
	if c.DiscoveryEnabled {
		if c.RedisAddress == "" {
			return fmt.Errorf("DISCOVERY_ENABLED requires REDIS_ADDRESS")
		}
		if c.DiscoveryResyncCron == "" {
			return fmt.Errorf("DISCOVERY_RESYNC_CRON must not be empty when discovery is enabled")
		}
	}

	if c.RateLimitEnabled {
		if c.RateLimitDefault < 1 {
			return fmt.Errorf("RATE_LIMIT_DEFAULT must be a positive number")
		}
		if c.RateLimitWindow <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be a positive duration")
		}
	}

	if c.MaxBodyBytes < 1 {
		return fmt.Errorf("MAX_BODY_BYTES must be a positive number")
	}
	if c.BreakerFailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be a positive number")
	}
	if c.BreakerCooldown <= 0 {
		return fmt.Errorf("BREAKER_COOLDOWN must be a positive duration")
	}
	if c.BreakerHalfOpenMax < 1 {
		return fmt.Errorf("BREAKER_HALF_OPEN_MAX must be a positive number")
	}
	if c.HealthScanInterval <= 0 {
		return fmt.Errorf("HEALTH_SCAN_INTERVAL must be a positive duration")
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be a positive duration")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be a positive duration")
	}
	return nil
}

func validateAddr(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%s must be a host:port address", name)
	}
	if port, err := strconv.Atoi(portStr); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%s must use a valid port number", name)
	}
	return nil
}
