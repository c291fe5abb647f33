// Package config loads service configuration from config.yaml with
// environment variable overrides.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App      App      `yaml:"app"`
	HTTP     HTTP     `yaml:"http"`
	Log      Log      `yaml:"log"`
	Store    Store    `yaml:"store"`
	NATS     NATS     `yaml:"nats"`
	Retry    Retry    `yaml:"retry"`
	Dispatch Dispatch `yaml:"dispatch"`
	Gateway  Gateway  `yaml:"gateway"`
}

type App struct {
	Name string `yaml:"name" env:"APP_NAME" env-default:"eventcore"`
}

type HTTP struct {
	Addr string `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Store struct {
	// Backend selects the event store: "memory" or "nats".
	Backend string `yaml:"backend" env:"STORE_BACKEND" env-default:"memory"`
}

type NATS struct {
	URL            string `yaml:"url" env:"NATS_URL" env-default:"nats://localhost:4222"`
	StreamName     string `yaml:"stream_name" env:"NATS_STREAM_NAME" env-default:"EVENTCORE"`
	SnapshotBucket string `yaml:"snapshot_bucket" env:"NATS_SNAPSHOT_BUCKET" env-default:"eventcore_snapshots"`
}

type Retry struct {
	MaxAttempts int           `yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS" env-default:"3"`
	Strategy    string        `yaml:"strategy" env:"RETRY_STRATEGY" env-default:"exponential"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"RETRY_BASE_DELAY" env-default:"50ms"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"RETRY_MAX_DELAY" env-default:"2s"`
	Jitter      bool          `yaml:"jitter" env:"RETRY_JITTER" env-default:"true"`
}

type Dispatch struct {
	BufferSize int `yaml:"buffer_size" env:"DISPATCH_BUFFER_SIZE" env-default:"64"`
}

type Gateway struct {
	PingInterval time.Duration `yaml:"ping_interval" env:"GATEWAY_PING_INTERVAL" env-default:"30s"`
}

func New() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// fallback to env vars if file not found
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else {
		// env vars override the config file
		cleanenv.ReadEnv(cfg)
	}

	return cfg, nil
}
