package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime settings for the dedupe hub
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Debug       bool   `envconfig:"MATCH_DEBUG" default:"false"`

	DatabaseURL      string `envconfig:"DATABASE_URL"`
	DBMaxConnections int    `envconfig:"DB_MAX_CONNECTIONS" default:"10"`

	WebHost string `envconfig:"WEB_HOST" default:"0.0.0.0"`
	WebPort int    `envconfig:"WEB_PORT" default:"8080"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	QueueStream   string `envconfig:"QUEUE_STREAM" default:"dedupe:match"`
	QueueGroup    string `envconfig:"QUEUE_GROUP" default:"dedupe-hub"`

	AutomaticThreshold float64 `envconfig:"AUTOMATIC_THRESHOLD" default:"0.8"`
	GazetteerThreshold float64 `envconfig:"GAZETTEER_THRESHOLD" default:"0.5"`
	MaxBlockSize       int     `envconfig:"MAX_BLOCK_SIZE" default:"2000"`
	MatchWorkers       int     `envconfig:"MATCH_WORKERS" default:"4"`

	SettingsPath   string `envconfig:"SETTINGS_PATH"`
	MatcherConfig  string `envconfig:"MATCHER_CONFIG"`
	RefreshChannel string `envconfig:"REFRESH_CHANNEL" default:"dedupe_hub_refresh"`

	// ModelWeights overrides the default pair model weights, keyed by feature name
	ModelWeights map[string]float64 `ignored:"true"`
}

// Load reads the configuration from the environment and applies the optional
// matcher YAML file
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.MatcherConfig) != "" {
		overrides, err := LoadMatcherFile(cfg.MatcherConfig)
		if err != nil {
			return nil, err
		}
		overrides.Apply(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks value ranges. The database URL is checked separately by
// RequireDatabase since in-memory runs do without it.
func (c *Config) Validate() error {
	if c.GazetteerThreshold <= 0 || c.GazetteerThreshold > 1 {
		return fmt.Errorf("GAZETTEER_THRESHOLD must be in (0, 1], got %v", c.GazetteerThreshold)
	}
	if c.AutomaticThreshold <= 0 || c.AutomaticThreshold > 1 {
		return fmt.Errorf("AUTOMATIC_THRESHOLD must be in (0, 1], got %v", c.AutomaticThreshold)
	}
	if c.GazetteerThreshold > c.AutomaticThreshold {
		return fmt.Errorf("GAZETTEER_THRESHOLD (%v) cannot exceed AUTOMATIC_THRESHOLD (%v)",
			c.GazetteerThreshold, c.AutomaticThreshold)
	}
	if c.MaxBlockSize < 1 {
		return fmt.Errorf("MAX_BLOCK_SIZE must be >= 1")
	}
	if c.MatchWorkers < 1 {
		return fmt.Errorf("MATCH_WORKERS must be >= 1")
	}
	if c.DBMaxConnections < 1 {
		return fmt.Errorf("DB_MAX_CONNECTIONS must be >= 1")
	}
	if c.WebPort < 1 || c.WebPort > 65535 {
		return fmt.Errorf("WEB_PORT must be a valid port, got %d", c.WebPort)
	}
	return nil
}

// RequireDatabase fails when no database URL is configured
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// QueueEnabled reports whether a Redis queue is configured
func (c *Config) QueueEnabled() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}

// WebAddr is the listen address of the HTTP API
func (c *Config) WebAddr() string {
	return fmt.Sprintf("%s:%d", c.WebHost, c.WebPort)
}
