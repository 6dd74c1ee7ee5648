package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Config holds all environment-driven settings. Engine tuning knobs default
// to the documented values; only the listen port is strictly required.
type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// RedisURL enables the inbound event feed when set.
	RedisURL      string `env:"REDIS_URL"`
	IngestChannel string `env:"INGEST_CHANNEL" default:"tally:updates"`

	// DatabaseURL enables the Postgres option-label catalog when set.
	DatabaseURL     string        `env:"DATABASE_URL"`
	CatalogCacheTTL time.Duration `env:"CATALOG_CACHE_TTL" default:"30s"`

	ThrottleInterval     time.Duration `env:"THROTTLE_INTERVAL" default:"100ms"`
	BatchSize            int           `env:"BATCH_SIZE" default:"10"`
	QueueCapacity        int           `env:"QUEUE_CAPACITY" default:"50"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS" default:"5"`
	ReconnectBaseDelay   time.Duration `env:"RECONNECT_BASE_DELAY" default:"1s"`

	MaxClientsPerTopic int           `env:"MAX_CLIENTS_PER_TOPIC" default:"50"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" default:"1m"`
	MaxIdle            time.Duration `env:"MAX_IDLE" default:"5m"`
}

// Load reads configuration from the environment, with an optional .env file
// for development.
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
	if cfg.Port == "" {
		return errors.New("PORT is required")
	}
	if cfg.ThrottleInterval <= 0 {
		return errors.New("THROTTLE_INTERVAL must be positive")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("BATCH_SIZE must be positive")
	}
	if cfg.QueueCapacity <= 0 {
		return errors.New("QUEUE_CAPACITY must be positive")
	}
	if cfg.HeartbeatInterval <= 0 {
		return errors.New("HEARTBEAT_INTERVAL must be positive")
	}
	if cfg.MaxReconnectAttempts <= 0 {
		return errors.New("MAX_RECONNECT_ATTEMPTS must be positive")
	}
	if cfg.MaxClientsPerTopic <= 0 {
		return errors.New("MAX_CLIENTS_PER_TOPIC must be positive")
	}
	return nil
}
