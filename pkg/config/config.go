// Package config loads service configuration. Defaults are overlaid first by
// an optional YAML file (PALISADE_CONFIG_FILE) and then by PALISADE_*
// environment variables, so deploys can ship a base file and tweak single
// values per environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/palisade/pkg/cache"
	"github.com/platinummonkey/palisade/pkg/observability"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Events        EventsConfig        `yaml:"events"`
	Sweeper       SweeperConfig       `yaml:"sweeper"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	URL          string        `yaml:"url"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

// CacheConfig holds the resolution cache configuration. When Redis is not
// configured the service falls back to the in-process LRU cache.
type CacheConfig struct {
	Redis      cache.RedisConfig `yaml:"redis"`
	MemorySize int               `yaml:"memory_size"`
	TTL        time.Duration     `yaml:"ttl"`
}

// EventsConfig holds event bus configuration.
type EventsConfig struct {
	Buffer      int           `yaml:"buffer"`
	Workers     int           `yaml:"workers"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// SweeperConfig holds the expired-grant sweeper configuration.
type SweeperConfig struct {
	Schedule string        `yaml:"schedule"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	LogLevelName   string                 `yaml:"log_level"`
	MetricsEnabled bool                   `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// LoadConfig loads configuration from the optional YAML file and environment.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := getEnv("PALISADE_CONFIG_FILE", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.Observability.LogLevel = observability.ParseLogLevel(cfg.Observability.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			ConnLifetime: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Redis: cache.RedisConfig{
				MaxRetries: 3,
				PoolSize:   10,
			},
			MemorySize: 4096,
			TTL:        10 * time.Minute,
		},
		Events: EventsConfig{
			Buffer:      256,
			Workers:     4,
			MaxAttempts: 3,
			RetryDelay:  100 * time.Millisecond,
		},
		Sweeper: SweeperConfig{
			Schedule: "@every 1m",
			Timeout:  30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevelName:       "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "palisade",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// applyEnv overrides file and default values with PALISADE_* variables.
func (c *Config) applyEnv() {
	c.Server.Host = getEnv("PALISADE_HOST", c.Server.Host)
	c.Server.Port = getEnv("PALISADE_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("PALISADE_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("PALISADE_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("PALISADE_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("PALISADE_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.HealthPort = getEnv("PALISADE_HEALTH_PORT", c.Server.HealthPort)

	c.Database.URL = getEnv("PALISADE_POSTGRES_URL", c.Database.URL)
	c.Database.MaxOpenConns = getEnvInt("PALISADE_POSTGRES_MAX_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("PALISADE_POSTGRES_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnLifetime = getEnvDuration("PALISADE_POSTGRES_CONN_LIFETIME", c.Database.ConnLifetime)

	c.Cache.Redis.URL = getEnv("PALISADE_REDIS_URL", c.Cache.Redis.URL)
	c.Cache.Redis.Password = getEnv("PALISADE_REDIS_PASSWORD", c.Cache.Redis.Password)
	c.Cache.Redis.DB = getEnvInt("PALISADE_REDIS_DB", c.Cache.Redis.DB)
	c.Cache.Redis.MaxRetries = getEnvInt("PALISADE_REDIS_MAX_RETRIES", c.Cache.Redis.MaxRetries)
	c.Cache.Redis.PoolSize = getEnvInt("PALISADE_REDIS_POOL_SIZE", c.Cache.Redis.PoolSize)
	c.Cache.MemorySize = getEnvInt("PALISADE_MEMORY_CACHE_SIZE", c.Cache.MemorySize)
	c.Cache.TTL = getEnvDuration("PALISADE_CACHE_TTL", c.Cache.TTL)

	c.Events.Buffer = getEnvInt("PALISADE_EVENTS_BUFFER", c.Events.Buffer)
	c.Events.Workers = getEnvInt("PALISADE_EVENTS_WORKERS", c.Events.Workers)
	c.Events.MaxAttempts = getEnvInt("PALISADE_EVENTS_MAX_ATTEMPTS", c.Events.MaxAttempts)
	c.Events.RetryDelay = getEnvDuration("PALISADE_EVENTS_RETRY_DELAY", c.Events.RetryDelay)

	c.Sweeper.Schedule = getEnv("PALISADE_SWEEP_SCHEDULE", c.Sweeper.Schedule)
	c.Sweeper.Timeout = getEnvDuration("PALISADE_SWEEP_TIMEOUT", c.Sweeper.Timeout)

	c.Observability.LogLevelName = getEnv("PALISADE_LOG_LEVEL", c.Observability.LogLevelName)
	c.Observability.MetricsEnabled = getEnvBool("PALISADE_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("PALISADE_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("PALISADE_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("PALISADE_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("PALISADE_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("PALISADE_OTEL_INSECURE", c.Observability.OTelInsecure)
}

// Validate checks if the configuration is valid.
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

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Cache.Redis.URL == "" && c.Cache.MemorySize <= 0 {
		return fmt.Errorf("memory cache size must be positive when redis is not configured")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if c.Events.Buffer <= 0 || c.Events.Workers <= 0 {
		return fmt.Errorf("event bus buffer and workers must be positive")
	}

	if c.Sweeper.Schedule == "" {
		return fmt.Errorf("sweep schedule is required")
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

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
