// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8090"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	PingInterval   time.Duration `env:"PING_INTERVAL" default:"30s"`
	PongTimeout    time.Duration `env:"PONG_TIMEOUT" default:"5s"`
	SendBufferSize int           `env:"SEND_BUFFER_SIZE" default:"16"`

	MaxConnections      int64 `env:"MAX_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP int   `env:"MAX_CONNECTIONS_PER_IP" default:"32"`

	HandshakeRatePerSecond float64 `env:"HANDSHAKE_RATE_PER_SECOND" default:"5"`
	HandshakeBurst         int     `env:"HANDSHAKE_BURST" default:"10"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.PingInterval <= 0 {
		return fmt.Errorf("PING_INTERVAL must be positive, got %v", cfg.PingInterval)
	}
	if cfg.PongTimeout <= 0 {
		return fmt.Errorf("PONG_TIMEOUT must be positive, got %v", cfg.PongTimeout)
	}
	if cfg.PongTimeout >= cfg.PingInterval {
		return fmt.Errorf("PONG_TIMEOUT (%v) must be shorter than PING_INTERVAL (%v)", cfg.PongTimeout, cfg.PingInterval)
	}
	if cfg.SendBufferSize <= 0 {
		return fmt.Errorf("SEND_BUFFER_SIZE must be positive, got %d", cfg.SendBufferSize)
	}
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS must be positive, got %d", cfg.MaxConnections)
	}
	if cfg.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_IP must be positive, got %d", cfg.MaxConnectionsPerIP)
	}
	return nil
}
