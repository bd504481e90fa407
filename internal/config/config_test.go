package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/oshub")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.AutomaticThreshold)
	assert.Equal(t, 0.5, cfg.GazetteerThreshold)
	assert.Equal(t, 2000, cfg.MaxBlockSize)
	assert.Equal(t, 4, cfg.MatchWorkers)
	assert.Equal(t, "dedupe:match", cfg.QueueStream)
	assert.False(t, cfg.QueueEnabled())
	assert.NoError(t, cfg.RequireDatabase())
	assert.Equal(t, "0.0.0.0:8080", cfg.WebAddr())
}

func TestLoadRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("AUTOMATIC_THRESHOLD", "0.4")
	t.Setenv("GAZETTEER_THRESHOLD", "0.6")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot exceed")
}

func TestRequireDatabase(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.RequireDatabase())
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			AutomaticThreshold: 0.8,
			GazetteerThreshold: 0.5,
			MaxBlockSize:       10,
			MatchWorkers:       2,
			DBMaxConnections:   5,
			WebPort:            8080,
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{name: "valid", mutate: func(c *Config) {}, ok: true},
		{name: "zero gazetteer threshold", mutate: func(c *Config) { c.GazetteerThreshold = 0 }, ok: false},
		{name: "automatic above one", mutate: func(c *Config) { c.AutomaticThreshold = 1.2 }, ok: false},
		{name: "equal thresholds", mutate: func(c *Config) { c.GazetteerThreshold = 0.8 }, ok: true},
		{name: "no workers", mutate: func(c *Config) { c.MatchWorkers = 0 }, ok: false},
		{name: "bad port", mutate: func(c *Config) { c.WebPort = 70000 }, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestMatcherFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matcher.yaml")
	content := []byte("automatic_threshold: 0.9\nmax_block_size: 50\nweights:\n  bias: -8\n  name_jaro_winkler: 2.5\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("MATCHER_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.AutomaticThreshold)
	assert.Equal(t, 0.5, cfg.GazetteerThreshold)
	assert.Equal(t, 50, cfg.MaxBlockSize)
	assert.Equal(t, map[string]float64{"bias": -8, "name_jaro_winkler": 2.5}, cfg.ModelWeights)
}

func TestLoadMatcherFileMissing(t *testing.T) {
	_, err := LoadMatcherFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
