package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`

	// Defaults point at the bundled development backend.
	APIBaseURL  string `env:"API_BASE_URL" envDefault:"http://localhost:8000/api/v1" validate:"required,url"`
	RealtimeURL string `env:"REALTIME_URL" envDefault:"ws://localhost:8000/ws" validate:"required"`

	RequestTimeoutSec    int `env:"REQUEST_TIMEOUT_SEC" envDefault:"15" validate:"min=1,max=300"`
	ConnectTimeoutSec    int `env:"CONNECT_TIMEOUT_SEC" envDefault:"10" validate:"min=1,max=120"`
	PollIntervalSec      int `env:"POLL_INTERVAL_SEC" envDefault:"30" validate:"min=5,max=600"`
	ReconnectBaseMS      int `env:"RECONNECT_BASE_MS" envDefault:"1000" validate:"min=50,max=60000"`
	ReconnectMaxAttempts int `env:"RECONNECT_MAX_ATTEMPTS" envDefault:"5" validate:"min=1,max=20"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9091"`

	// Development backend.
	DevServerPort    string `env:"DEVSERVER_PORT" envDefault:"8000"`
	DevServerTickMS  int    `env:"DEVSERVER_TICK_MS" envDefault:"1000" validate:"min=10,max=60000"`
	DevServerStepPct int    `env:"DEVSERVER_STEP_PCT" envDefault:"10" validate:"min=1,max=100"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) RequestTimeout() time.Duration { return time.Duration(c.RequestTimeoutSec) * time.Second }
func (c *Config) ConnectTimeout() time.Duration { return time.Duration(c.ConnectTimeoutSec) * time.Second }
func (c *Config) PollInterval() time.Duration   { return time.Duration(c.PollIntervalSec) * time.Second }
func (c *Config) ReconnectBase() time.Duration  { return time.Duration(c.ReconnectBaseMS) * time.Millisecond }

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
