package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Server basics
	Addr string `env:"SERVER_ADDR" envDefault:"0.0.0.0:3000"`

	// Bus (C3) and presence store (C2) endpoints
	NatsURL  string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`

	// Auth
	AppKey    string `env:"APP_KEY,required"`
	AppSecret string `env:"APP_SECRET,required"`

	// Admin store (C8), consulted read-only
	DatabaseURL string `env:"DATABASE_URL" envDefault:""`
	DevMode     bool   `env:"DEV_MODE" envDefault:"false"`

	// Capacity
	MaxConnections int `env:"WS_MAX_CONNECTIONS" envDefault:"10000"`
	SendQueueSize  int `env:"WS_SEND_QUEUE_SIZE" envDefault:"64"`

	// Resource limits (from container)
	CPULimit    float64 `env:"WS_CPU_LIMIT" envDefault:"1.0"`
	MemoryLimit int64   `env:"WS_MEMORY_LIMIT" envDefault:"536870912"` // 512MB

	// Rate limiting
	MaxGoroutines       int     `env:"WS_MAX_GOROUTINES" envDefault:"20000"`
	InboundFramesPerSec float64 `env:"WS_INBOUND_RATE" envDefault:"20"`
	InboundBurst        int     `env:"WS_INBOUND_BURST" envDefault:"40"`

	// CPU safety thresholds (container-aware)
	CPURejectThreshold float64 `env:"WS_CPU_REJECT_THRESHOLD" envDefault:"75.0"`

	// Worker pool backing the fan-out dispatcher (C6)
	WorkerPoolSize  int `env:"WS_WORKER_POOL_SIZE" envDefault:"16"`
	WorkerQueueSize int `env:"WS_WORKER_QUEUE_SIZE" envDefault:"4096"`

	// Presence roster TTL, refreshed on every join/leave mutation
	PresenceTTL time.Duration `env:"PRESENCE_TTL" envDefault:"24h"`

	// Connection timeouts
	ActivityTimeout time.Duration `env:"WS_ACTIVITY_TIMEOUT" envDefault:"120s"`
	ActivityGrace   time.Duration `env:"WS_ACTIVITY_GRACE" envDefault:"30s"`

	// Monitoring
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// LoadConfig reads configuration from a .env file and the process environment.
// Priority: env vars > .env file > defaults.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		} else {
			fmt.Println("info: no .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("SERVER_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("WS_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.AppKey == "" {
		return fmt.Errorf("APP_KEY is required")
	}
	if c.AppSecret == "" {
		return fmt.Errorf("APP_SECRET is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// Print logs configuration for debugging (human-readable format).
func (c *Config) Print() {
	fmt.Println("=== Server Configuration ===")
	fmt.Printf("Environment:     %s\n", c.Environment)
	fmt.Printf("Address:         %s\n", c.Addr)
	fmt.Printf("NATS URL:        %s\n", c.NatsURL)
	fmt.Printf("Redis URL:       %s\n", c.RedisURL)
	fmt.Println("\n=== Capacity ===")
	fmt.Printf("Max Connections: %d\n", c.MaxConnections)
	fmt.Printf("Send Queue Size: %d\n", c.SendQueueSize)
	fmt.Printf("Worker Pool:     %d workers, %d queue\n", c.WorkerPoolSize, c.WorkerQueueSize)
	fmt.Println("\n=== Safety Thresholds ===")
	fmt.Printf("CPU Reject:      %.1f%%\n", c.CPURejectThreshold)
	fmt.Printf("Max Goroutines:  %d\n", c.MaxGoroutines)
	fmt.Println("\n=== Logging ===")
	fmt.Printf("Level:           %s\n", c.LogLevel)
	fmt.Printf("Format:          %s\n", c.LogFormat)
	fmt.Println("============================")
}

// LogConfig logs configuration using structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("nats_url", c.NatsURL).
		Str("redis_url", c.RedisURL).
		Int("max_connections", c.MaxConnections).
		Int("send_queue_size", c.SendQueueSize).
		Int("worker_pool_size", c.WorkerPoolSize).
		Int("worker_queue_size", c.WorkerQueueSize).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Int("max_goroutines", c.MaxGoroutines).
		Dur("presence_ttl", c.PresenceTTL).
		Dur("activity_timeout", c.ActivityTimeout).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("server configuration loaded")
}
