// Package config loads the process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Addr    string `envconfig:"ADDR" default:":9999"`
	DataDir string `envconfig:"DATA_DIR" default:"./data"`

	// PageCapacity is the number of message IDs a room message page holds
	// before it seals.
	PageCapacity int `envconfig:"PAGE_CAPACITY" default:"100"`
	// MaxCatchUp caps the number of messages a single catch-up fetch returns.
	MaxCatchUp int `envconfig:"MAX_CATCHUP" default:"500"`

	TokenSecret string        `envconfig:"TOKEN_SECRET" required:"true"`
	TokenTTL    time.Duration `envconfig:"TOKEN_TTL" default:"120h"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads the configuration from the environment, after loading a .env
// file if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}
	if c.PageCapacity <= 0 {
		return nil, fmt.Errorf("PAGE_CAPACITY must be positive, got %d", c.PageCapacity)
	}
	if c.MaxCatchUp <= 0 {
		return nil, fmt.Errorf("MAX_CATCHUP must be positive, got %d", c.MaxCatchUp)
	}
	return &c, nil
}

// SlogLevel maps the configured log level onto slog.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
}
