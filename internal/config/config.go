package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration, parsed from the environment.
type Config struct {
	Port      string `env:"TIDYTOAD_PORT" envDefault:"8080"`
	DBPath    string `env:"TIDYTOAD_DB_PATH" envDefault:"tidytoad.db"`
	LogLevel  string `env:"TIDYTOAD_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"TIDYTOAD_LOG_FORMAT" envDefault:"text"`

	// VAPID keys for web push. Push delivery is disabled when unset.
	VAPIDPublicKey  string `env:"TIDYTOAD_VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `env:"TIDYTOAD_VAPID_PRIVATE_KEY"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
