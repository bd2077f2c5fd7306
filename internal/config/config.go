// Package config provides configuration management for jobsync.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	// DefaultAdminMaxPayloadSize is the default max payload size for admin endpoints (100KB).
	DefaultAdminMaxPayloadSize int64 = 100 * 1024 // 102400 bytes

	// DefaultGRPCMaxMessageSize is the default max message size for gRPC (4MB).
	DefaultGRPCMaxMessageSize int = 4 << 20 // 4194304 bytes

	// DefaultSyncPoolSize is the default number of connections in the lock pool.
	DefaultSyncPoolSize = 5

	// DefaultSyncPoolTimeout is how long a lock operation waits for a pooled connection.
	DefaultSyncPoolTimeout = 5 * time.Second
)

// Config holds the application configuration.
type Config struct {
	// Port is the HTTP server port.
	Port string

	// GRPCPort is the gRPC health server port.
	GRPCPort string

	// AdminMaxPayloadSize is the maximum payload size for admin endpoints in bytes.
	AdminMaxPayloadSize int64

	// GRPCMaxMessageSize is the maximum message size for gRPC in bytes.
	GRPCMaxMessageSize int

	LogLevel  string
	LogFormat string
	// LogFile, when set, sends logs to a rotated file.
	LogFile string

	Redis    RedisConfig
	Database DatabaseConfig
	Trigger  TriggerConfig
	Maintain MaintainerConfig

	// WorkUnitsPath is a YAML file of work unit definitions.
	WorkUnitsPath string
}

// RedisConfig configures the dedicated lock connection pool.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	PoolTimeout time.Duration
}

// DatabaseConfig configures the shared running-jobs registry.
// An empty URL keeps the registry in memory.
type DatabaseConfig struct {
	URL string
}

// TriggerConfig configures the scheduler trigger lock.
type TriggerConfig struct {
	Key string
	TTL time.Duration
}

// MaintainerConfig configures the lock maintainer.
type MaintainerConfig struct {
	Interval  time.Duration
	JitterMin time.Duration
	JitterMax time.Duration
	LockKey   string
	LockTTL   time.Duration
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	cfg := &Config{
		Port:                getEnvOrDefault("PORT", "8080"),
		GRPCPort:            getEnvOrDefault("GRPC_PORT", "9090"),
		AdminMaxPayloadSize: getEnvInt64OrDefault("ADMIN_MAX_PAYLOAD_SIZE", DefaultAdminMaxPayloadSize),
		GRPCMaxMessageSize:  getEnvIntOrDefault("GRPC_MAX_MESSAGE_SIZE", DefaultGRPCMaxMessageSize),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		LogFile:             os.Getenv("LOG_FILE"),
		Redis: RedisConfig{
			Addr:        getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          getEnvIntOrDefault("REDIS_DB", 0),
			PoolSize:    getEnvIntOrDefault("SYNC_POOL_SIZE", DefaultSyncPoolSize),
			PoolTimeout: getEnvDurationOrDefault("SYNC_POOL_TIMEOUT", DefaultSyncPoolTimeout),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Trigger: TriggerConfig{
			Key: getEnvOrDefault("TRIGGER_LOCK_KEY", "sidekiq_scheduler_lock"),
			TTL: getEnvDurationOrDefault("TRIGGER_LOCK_TTL", 60*time.Second),
		},
		Maintain: MaintainerConfig{
			Interval:  getEnvDurationOrDefault("MAINTAINER_INTERVAL", 30*time.Second),
			JitterMin: getEnvDurationOrDefault("MAINTAINER_JITTER_MIN", 1*time.Second),
			JitterMax: getEnvDurationOrDefault("MAINTAINER_JITTER_MAX", 5*time.Second),
			LockKey:   getEnvOrDefault("MAINTAINER_LOCK_KEY", "sqeduler-lock-maintainer"),
			LockTTL:   getEnvDurationOrDefault("MAINTAINER_LOCK_TTL", 60*time.Second),
		},
		WorkUnitsPath: os.Getenv("WORK_UNITS_PATH"),
	}

	return cfg
}

// Validate reports settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Redis.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("SYNC_POOL_SIZE must be positive, got %d", c.Redis.PoolSize))
	}
	if c.Redis.PoolTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SYNC_POOL_TIMEOUT must be positive, got %s", c.Redis.PoolTimeout))
	}
	if c.Trigger.TTL <= 0 {
		errs = append(errs, fmt.Errorf("TRIGGER_LOCK_TTL must be positive, got %s", c.Trigger.TTL))
	}
	if c.Maintain.Interval <= 0 {
		errs = append(errs, fmt.Errorf("MAINTAINER_INTERVAL must be positive, got %s", c.Maintain.Interval))
	}
	if c.Maintain.JitterMin < 0 || c.Maintain.JitterMax < c.Maintain.JitterMin {
		errs = append(errs, fmt.Errorf("maintainer jitter range [%s, %s] is invalid", c.Maintain.JitterMin, c.Maintain.JitterMax))
	}
	if c.Maintain.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("MAINTAINER_LOCK_TTL must be positive, got %s", c.Maintain.LockTTL))
	}
	return errors.Join(errs...)
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt64OrDefault returns the environment variable value as int64 or the default if not set or invalid.
func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable value as int or the default if not set or invalid.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault accepts Go durations ("1.5s", "250ms") and plain
// seconds ("60", "0.5").
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
