package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every runtime knob of the land server. All values come from
// the environment; unset values fall back to development defaults.
type Config struct {
	AppEnv  string
	AppName string

	// HTTP / WebSocket listener.
	AppPort     string
	MetricsPort string

	LogLevel  string
	JWTSecret string

	// Join handshake must complete within this window or the session is
	// rejected and disconnected.
	JoinTimeout time.Duration

	// When set, a bare connect is treated as an implicit guest join using the
	// session id as the player id.
	EnableLegacyJoin bool

	// Redis event relay. Empty RedisHost disables the relay.
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:        os.Getenv("APP_ENV"),
		AppName:       os.Getenv("APP_NAME"),
		AppPort:       os.Getenv("APP_PORT"),
		MetricsPort:   os.Getenv("METRICS_PORT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     os.Getenv("REDIS_PORT"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}
	if cfg.AppName == "" {
		cfg.AppName = "landnet"
	}
	if cfg.AppPort == "" {
		cfg.AppPort = "8090"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.RedisPort == "" {
		cfg.RedisPort = "6379"
	}

	cfg.JoinTimeout = 5 * time.Second
	if v := os.Getenv("JOIN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid JOIN_TIMEOUT: %w", err)
		}
		cfg.JoinTimeout = d
	}
	if v := os.Getenv("ENABLE_LEGACY_JOIN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ENABLE_LEGACY_JOIN: %w", err)
		}
		cfg.EnableLegacyJoin = b
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = n
	}
	return cfg, nil
}

// RedisAddr returns the host:port pair for the relay, or "" when disabled.
func (c *Config) RedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return c.RedisHost + ":" + c.RedisPort
}
