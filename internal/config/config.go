// Package config loads and sanitizes runtime configuration for the realtime
// service from environment variables (optionally seeded from a .env file).
package config

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Config holds the service configuration, including transport limits,
// security controls, and storage paths.
type Config struct {
	Port           string `env:"SERVER_PORT,default=:8080"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`

	// MaxMessageSize must leave headroom over the 4000-character message
	// content cap for envelope framing and worst-case JSON escaping.
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE,default=32768"`
	SendBufferSize  int           `env:"SEND_BUFFER_SIZE,default=256"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST,default=20"`
	RateLimitRefill time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`

	BadgerFilepath string `env:"BADGER_FILEPATH,default=data/realtime"`

	AuthRequired bool          `env:"AUTH_REQUIRED,default=false"`
	JWTSecret    string        `env:"JWT_SECRET"`
	AuthTokenTTL time.Duration `env:"AUTH_TOKEN_TTL,default=24h"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.sanitize()

	if cfg.AuthRequired && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: AUTH_REQUIRED is set but JWT_SECRET is empty")
	}
	return &cfg, nil
}

// sanitize replaces out-of-range values with safe defaults rather than
// failing startup over a single bad variable.
func (c *Config) sanitize() {
	if c.Port == "" {
		c.Port = ":8080"
	}
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 32768
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 256
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 20
	}
	if c.RateLimitRefill <= 0 {
		c.RateLimitRefill = time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Origins returns the configured origin allow-list as a slice.
func (c *Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
