// Package config loads the server's configuration either from a JSON file
// (Load) or from environment variables (LoadFromEnv). The file loader
// applies no environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Config is the top-level server configuration.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Security SecurityConfig `json:"security"`
	Holiday  HolidayConfig  `json:"holiday"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SecurityConfig contains the portal JWT signing secret and token TTL.
type SecurityConfig struct {
	JWTSecret    string `json:"jwt_secret"`
	AccessTTLMin int    `json:"access_ttl_minutes"`
}

// HolidayConfig points at the public-holiday provider used by the
// holiday-sync scheduler job.
type HolidayConfig struct {
	ProviderBaseURL string `json:"provider_base_url"`
}

// LoggingConfig controls the slog handler built by internal/logging.
type LoggingConfig struct {
	Format string `json:"format"`
	Level  string `json:"level"`
	Path   string `json:"path"`
}

// Validate checks structural invariants not already enforced by JSON
// decoding.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port", ErrInvalidConfig)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("%w: jwt_secret is required", ErrInvalidConfig)
	}
	if c.Security.AccessTTLMin <= 0 {
		c.Security.AccessTTLMin = 15
	}
	return nil
}

// AccessTTL returns the portal access-token lifetime as a time.Duration.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.Security.AccessTTLMin) * time.Minute
}

// Load reads and validates a JSON configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a Config entirely from environment variables, for
// containerized deployments where no config file is mounted.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("HEIMDALL_HOST", "0.0.0.0"),
			Port: getEnvInt("HEIMDALL_PORT", 8080),
		},
		Database: DatabaseConfig{
			Path: getEnv("HEIMDALL_DB_PATH", "./heimdall.db"),
		},
		Security: SecurityConfig{
			JWTSecret:    getEnv("HEIMDALL_JWT_SECRET", ""),
			AccessTTLMin: getEnvInt("HEIMDALL_ACCESS_TTL_MIN", 15),
		},
		Holiday: HolidayConfig{
			ProviderBaseURL: getEnv("HEIMDALL_HOLIDAY_PROVIDER_URL", ""),
		},
		Logging: LoggingConfig{
			Format: getEnv("HEIMDALL_LOG_FORMAT", "json"),
			Level:  getEnv("HEIMDALL_LOG_LEVEL", "info"),
			Path:   getEnv("HEIMDALL_LOG_PATH", ""),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
