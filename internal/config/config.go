// Package config provides configuration management for the pulse agent.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all agent configuration
type Config struct {
	Backend BackendConfig
	Store   StoreConfig
	API     APIConfig
	Sync    SyncConfig
	Logging LoggingConfig
}

// BackendConfig holds QuantPulse backend connection configuration
type BackendConfig struct {
	BaseURL        string
	Timeout        time.Duration
	RequestsPerSec int // outbound pacing, 0 disables
}

// StoreConfig holds state store configuration
type StoreConfig struct {
	Backend    string // "sqlite" or "redis"
	SQLitePath string
	Redis      RedisConfig
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// APIConfig holds local view API configuration
type APIConfig struct {
	Host string
	Port string
}

// SyncConfig holds sync orchestrator configuration
type SyncConfig struct {
	PollInterval   time.Duration // job status poll cadence (default: 800ms)
	PendingLimit   int           // consecutive PENDING polls before giving up (default: 12)
	Tick           time.Duration // countdown tick (default: 1s)
	ErrorDisplay   time.Duration // how long a failed sync stays visible (default: 3s)
	SuccessDisplay time.Duration // how long a finished sync stays visible (default: 1.5s)
	CooldownAsIdle bool          // treat server cooldown rejections as a bounce to idle
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Backend: BackendConfig{
			BaseURL:        getEnv("PULSE_BACKEND_URL", "http://localhost:8000"),
			Timeout:        getEnvAsDuration("PULSE_BACKEND_TIMEOUT", 15*time.Second),
			RequestsPerSec: getEnvAsInt("PULSE_BACKEND_RPS", 0),
		},
		Store: StoreConfig{
			Backend:    getEnv("PULSE_STORE_BACKEND", "sqlite"),
			SQLitePath: getEnv("PULSE_STORE_SQLITE_PATH", defaultSQLitePath()),
			Redis: RedisConfig{
				Host:     getEnv("PULSE_REDIS_HOST", "localhost"),
				Port:     getEnv("PULSE_REDIS_PORT", "6379"),
				Password: getEnv("PULSE_REDIS_PASSWORD", ""),
				DB:       getEnvAsInt("PULSE_REDIS_DB", 0),
			},
		},
		API: APIConfig{
			Host: getEnv("PULSE_API_HOST", "127.0.0.1"),
			Port: getEnv("PULSE_API_PORT", "8700"),
		},
		Sync: SyncConfig{
			PollInterval:   getEnvAsDuration("PULSE_SYNC_POLL_INTERVAL", 800*time.Millisecond),
			PendingLimit:   getEnvAsInt("PULSE_SYNC_PENDING_LIMIT", 12),
			Tick:           getEnvAsDuration("PULSE_SYNC_TICK", time.Second),
			ErrorDisplay:   getEnvAsDuration("PULSE_SYNC_ERROR_DISPLAY", 3*time.Second),
			SuccessDisplay: getEnvAsDuration("PULSE_SYNC_SUCCESS_DISPLAY", 1500*time.Millisecond),
			CooldownAsIdle: getEnvAsBool("PULSE_SYNC_COOLDOWN_AS_IDLE", false),
		},
		Logging: LoggingConfig{
			Level:  getEnv("PULSE_LOG_LEVEL", "info"),
			Format: getEnv("PULSE_LOG_FORMAT", "text"),
		},
	}

	return config, nil
}

// defaultSQLitePath returns the default state database location under the
// user's home directory, falling back to the working directory.
func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pulse-agent.db"
	}
	return filepath.Join(home, ".pulse-agent", "state.db")
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
