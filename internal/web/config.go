package web

import (
	"time"

	"github.com/opensupplyhub/dedupe-hub/internal/config"
)

// Config represents the web server configuration
type Config struct {
	Host string
	Port int
	// EnqueueEnabled exposes POST /api/match/enqueue
	EnqueueEnabled bool

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a default configuration. Matching a large list
// synchronously takes minutes, hence the long write timeout.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    10 * time.Minute,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// ConfigFrom builds the server configuration from the service configuration
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	c.Host = cfg.WebHost
	c.Port = cfg.WebPort
	c.EnqueueEnabled = cfg.QueueEnabled()
	return c
}
