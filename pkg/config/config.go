package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Memory   MemoryConfig   `json:"memory"`
	Breakers BreakersConfig `json:"breakers"`
	Model    ModelConfig    `json:"model"`
	Sync     SyncConfig     `json:"sync"`
	Logging  LoggingConfig  `json:"logging"`
	Tracing  TracingConfig  `json:"tracing"`
}

// ServerConfig contains the status HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// MemoryConfig contains memory pressure thresholds and sampling cadence.
//
// Thresholds are pressure fractions in [0,1]. Each mode boundary has an
// enter and an exit value; exit must be strictly below enter so the
// controller does not flap when usage hovers near a single threshold.
type MemoryConfig struct {
	SampleInterval time.Duration `json:"sample_interval"`
	LiteEnter      float64       `json:"lite_enter"`
	LiteExit       float64       `json:"lite_exit"`
	MinimalEnter   float64       `json:"minimal_enter"`
	MinimalExit    float64       `json:"minimal_exit"`
}

// BreakersConfig contains circuit breaker defaults applied to every
// registered dependency unless overridden at registration.
type BreakersConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	OpenDuration     time.Duration `json:"open_duration"`
	HalfOpenMaxCalls int           `json:"half_open_max_calls"`
}

// ModelConfig contains inference model loader configuration
type ModelConfig struct {
	Path         string        `json:"path"`
	RequiredMode string        `json:"required_mode"`
	LoadTimeout  time.Duration `json:"load_timeout"`
}

// SyncConfig contains provider sync worker configuration
type SyncConfig struct {
	Interval        time.Duration `json:"interval"`
	OpTimeout       time.Duration `json:"op_timeout"`
	LookupCacheSize int           `json:"lookup_cache_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "127.0.0.1"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Memory: MemoryConfig{
			SampleInterval: getEnvDuration("MEMORY_SAMPLE_INTERVAL", 15*time.Second),
			LiteEnter:      getEnvFloat("MEMORY_LITE_ENTER", 0.70),
			LiteExit:       getEnvFloat("MEMORY_LITE_EXIT", 0.60),
			MinimalEnter:   getEnvFloat("MEMORY_MINIMAL_ENTER", 0.85),
			MinimalExit:    getEnvFloat("MEMORY_MINIMAL_EXIT", 0.75),
		},
		Breakers: BreakersConfig{
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 3),
			SuccessThreshold: getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2),
			OpenDuration:     getEnvDuration("BREAKER_OPEN_DURATION", 60*time.Second),
			HalfOpenMaxCalls: getEnvInt("BREAKER_HALF_OPEN_MAX_CALLS", 1),
		},
		Model: ModelConfig{
			Path:         getEnvString("MODEL_PATH", ""),
			RequiredMode: getEnvString("MODEL_REQUIRED_MODE", "LITE"),
			LoadTimeout:  getEnvDuration("MODEL_LOAD_TIMEOUT", 2*time.Minute),
		},
		Sync: SyncConfig{
			Interval:        getEnvDuration("SYNC_INTERVAL", 5*time.Minute),
			OpTimeout:       getEnvDuration("SYNC_OP_TIMEOUT", 30*time.Second),
			LookupCacheSize: getEnvInt("SYNC_LOOKUP_CACHE_SIZE", 256),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stderr"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Memory.LiteExit >= c.Memory.LiteEnter {
		return fmt.Errorf("MEMORY_LITE_EXIT (%.2f) must be below MEMORY_LITE_ENTER (%.2f)",
			c.Memory.LiteExit, c.Memory.LiteEnter)
	}

	if c.Memory.MinimalExit >= c.Memory.MinimalEnter {
		return fmt.Errorf("MEMORY_MINIMAL_EXIT (%.2f) must be below MEMORY_MINIMAL_ENTER (%.2f)",
			c.Memory.MinimalExit, c.Memory.MinimalEnter)
	}

	if c.Memory.LiteEnter >= c.Memory.MinimalEnter {
		return fmt.Errorf("MEMORY_LITE_ENTER (%.2f) must be below MEMORY_MINIMAL_ENTER (%.2f)",
			c.Memory.LiteEnter, c.Memory.MinimalEnter)
	}

	if c.Breakers.FailureThreshold <= 0 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive")
	}

	if c.Breakers.SuccessThreshold <= 0 {
		return fmt.Errorf("BREAKER_SUCCESS_THRESHOLD must be positive")
	}

	if c.Breakers.HalfOpenMaxCalls <= 0 {
		return fmt.Errorf("BREAKER_HALF_OPEN_MAX_CALLS must be positive")
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
