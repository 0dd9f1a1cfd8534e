package client

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the CLI configuration, read from the environment.
type Config struct {
	Server   string        `env:"FILEDROP_SERVER" env-default:"http://localhost:8080"`
	Password string        `env:"FILEDROP_PASSWORD"`
	CacheTTL time.Duration `env:"FILEDROP_CACHE_TTL" env-default:"5m"`
}

// LoadConfig reads Config from the process environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read client config: %w", err)
	}
	return &cfg, nil
}
