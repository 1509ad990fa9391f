package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// Service Ports
	HTTPPort int `env:"HTTP_PORT" default:"8080"`

	// Channel layer
	LayerBackend    string        `env:"LAYER_BACKEND" default:"memory"`
	ChannelCapacity int           `env:"CHANNEL_CAPACITY" default:"100"`
	ChannelExpiry   time.Duration `env:"CHANNEL_EXPIRY" default:"60s"`
	GroupExpiry     time.Duration `env:"GROUP_EXPIRY" default:"24h"`

	// Redis backend
	RedisURL      string `env:"REDIS_URL" default:"redis://localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisPrefix   string `env:"REDIS_PREFIX" default:"chanhub"`

	// Worker
	WorkerConcurrency int `env:"WORKER_CONCURRENCY" default:"4"`

	// Authentication. Empty secret = the gateway runs open.
	JWTSecret string `env:"JWT_SECRET"`

	// Development
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"json"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Try to load .env file from project root
	if err := godotenv.Load(".env"); err != nil {
		// If .env file doesn't exist, that's OK - we can still use system env vars
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	config := &Config{}

	if err := loadEnvString(&config.GoEnv, "GO_ENV", "development"); err != nil {
		return nil, err
	}

	// Ports
	if err := loadEnvInt(&config.HTTPPort, "HTTP_PORT", 8080); err != nil {
		return nil, err
	}

	// Channel layer
	if err := loadEnvString(&config.LayerBackend, "LAYER_BACKEND", "memory"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.ChannelCapacity, "CHANNEL_CAPACITY", 100); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ChannelExpiry, "CHANNEL_EXPIRY", 60*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.GroupExpiry, "GROUP_EXPIRY", 24*time.Hour); err != nil {
		return nil, err
	}

	// Redis
	if err := loadEnvString(&config.RedisURL, "REDIS_URL", "redis://localhost:6379"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisPassword, "REDIS_PASSWORD", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisPrefix, "REDIS_PREFIX", "chanhub"); err != nil {
		return nil, err
	}

	// Worker
	if err := loadEnvInt(&config.WorkerConcurrency, "WORKER_CONCURRENCY", 4); err != nil {
		return nil, err
	}

	// Authentication
	if err := loadEnvString(&config.JWTSecret, "JWT_SECRET", ""); err != nil {
		return nil, err
	}

	// Development
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "json"); err != nil {
		return nil, err
	}

	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errors = append(errors, "HTTP_PORT must be between 1 and 65535")
	}

	validBackends := []string{"memory", "redis"}
	if !contains(validBackends, c.LayerBackend) {
		errors = append(errors, fmt.Sprintf("LAYER_BACKEND must be one of: %s", strings.Join(validBackends, ", ")))
	}

	if c.ChannelCapacity < 1 {
		errors = append(errors, "CHANNEL_CAPACITY must be at least 1")
	}
	if c.ChannelExpiry <= 0 {
		errors = append(errors, "CHANNEL_EXPIRY must be positive")
	}
	if c.GroupExpiry <= 0 {
		errors = append(errors, "GROUP_EXPIRY must be positive")
	}
	if c.WorkerConcurrency < 1 {
		errors = append(errors, "WORKER_CONCURRENCY must be at least 1")
	}

	if c.LayerBackend == "redis" && c.RedisURL == "" {
		errors = append(errors, "REDIS_URL is required for the redis backend")
	}

	// Validate log level
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}

	// Validate log format
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// RedisAddr returns the host:port part of RedisURL, with or without the
// redis:// scheme in front
func (c *Config) RedisAddr() string {
	addr := strings.TrimPrefix(c.RedisURL, "redis://")
	return strings.TrimSuffix(addr, "/")
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
