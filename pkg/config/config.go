package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pharmacare/permengine/pkg/cache"
	"github.com/pharmacare/permengine/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Cache         CacheConfig
	Engine        EngineConfig
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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StorageConfig selects the repositories. An empty PostgresURL keeps every
// store in process memory.
type StorageConfig struct {
	PostgresURL         string
	PostgresReplicaURLs string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// CacheConfig configures the decision and workspace context caches
type CacheConfig struct {
	Backend       cache.Backend
	LRUSize       int
	WorkspaceTTL  time.Duration
	DecisionTTL   time.Duration
	SweepSchedule string
}

// EngineConfig holds resolution behaviour
type EngineConfig struct {
	// MatrixFile overrides the built-in action requirement matrix
	MatrixFile              string
	WorkspaceFetchTimeout   time.Duration
	SuperAdminBypassesGates bool
	ExpirySchedule          string
	SeedBuiltInRoles        bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Cache:         loadCacheConfig(),
		Engine:        loadEngineConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PERMENGINE_HOST", "0.0.0.0"),
		Port:            getEnv("PERMENGINE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PERMENGINE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PERMENGINE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("PERMENGINE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PERMENGINE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("PERMENGINE_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		PostgresURL:         getEnv("PERMENGINE_POSTGRES_URL", ""),
		PostgresReplicaURLs: getEnv("PERMENGINE_POSTGRES_REPLICA_URLS", ""),
		PostgresMaxConns:    getEnvInt("PERMENGINE_POSTGRES_MAX_CONNS", 20),
		PostgresMinConns:    getEnvInt("PERMENGINE_POSTGRES_MIN_CONNS", 2),
		PostgresTimeout:     getEnvDuration("PERMENGINE_POSTGRES_TIMEOUT", 5*time.Second),
		RedisURL:            getEnv("PERMENGINE_REDIS_URL", ""),
		RedisPassword:       getEnv("PERMENGINE_REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("PERMENGINE_REDIS_DB", 0),
		RedisMaxRetries:     getEnvInt("PERMENGINE_REDIS_MAX_RETRIES", 3),
		RedisPoolSize:       getEnvInt("PERMENGINE_REDIS_POOL_SIZE", 10),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:       cache.Backend(strings.ToLower(getEnv("PERMENGINE_CACHE_BACKEND", string(cache.BackendMemory)))),
		LRUSize:       getEnvInt("PERMENGINE_CACHE_LRU_SIZE", 100000),
		WorkspaceTTL:  getEnvDuration("PERMENGINE_WORKSPACE_CACHE_TTL", 5*time.Minute),
		DecisionTTL:   getEnvDuration("PERMENGINE_DECISION_CACHE_TTL", 5*time.Minute),
		SweepSchedule: getEnv("PERMENGINE_CACHE_SWEEP_SCHEDULE", "@every 10m"),
	}
}

func loadEngineConfig() EngineConfig {
	return EngineConfig{
		MatrixFile:              getEnv("PERMENGINE_MATRIX_FILE", ""),
		WorkspaceFetchTimeout:   getEnvDuration("PERMENGINE_WORKSPACE_FETCH_TIMEOUT", 3*time.Second),
		SuperAdminBypassesGates: getEnvBool("PERMENGINE_SUPERADMIN_BYPASS_GATES", true),
		ExpirySchedule:          getEnv("PERMENGINE_EXPIRY_SCHEDULE", "@every 1m"),
		SeedBuiltInRoles:        getEnvBool("PERMENGINE_SEED_BUILTIN_ROLES", true),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("PERMENGINE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("PERMENGINE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PERMENGINE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PERMENGINE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PERMENGINE_OTEL_SERVICE_NAME", "permengine"),
		OTelServiceVersion: getEnv("PERMENGINE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("PERMENGINE_OTEL_INSECURE", true),
	}
}

// Default returns the configuration LoadConfig produces with an empty environment
func Default() *Config {
	return &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Cache:         loadCacheConfig(),
		Engine:        loadEngineConfig(),
		Observability: loadObservabilityConfig(),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Cache.Backend {
	case cache.BackendMemory:
	case cache.BackendLRU:
		if c.Cache.LRUSize <= 0 {
			return fmt.Errorf("lru cache size must be positive")
		}
	case cache.BackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory, lru, or redis)", c.Cache.Backend)
	}

	if c.Cache.WorkspaceTTL <= 0 || c.Cache.DecisionTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Engine.WorkspaceFetchTimeout <= 0 {
		return fmt.Errorf("workspace fetch timeout must be positive")
	}

	for name, spec := range map[string]string{
		"cache sweep":       c.Cache.SweepSchedule,
		"assignment expiry": c.Engine.ExpirySchedule,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
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
