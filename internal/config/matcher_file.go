package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MatcherOverrides is the optional YAML file tuning thresholds and model weights
type MatcherOverrides struct {
	AutomaticThreshold *float64           `yaml:"automatic_threshold"`
	GazetteerThreshold *float64           `yaml:"gazetteer_threshold"`
	MaxBlockSize       *int               `yaml:"max_block_size"`
	Weights            map[string]float64 `yaml:"weights"`
}

// LoadMatcherFile reads matcher overrides from a YAML file
func LoadMatcherFile(path string) (*MatcherOverrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read matcher config: %w", err)
	}

	var overrides MatcherOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse matcher config %s: %w", path, err)
	}
	return &overrides, nil
}

// Apply copies every set override onto cfg
func (o *MatcherOverrides) Apply(cfg *Config) {
	if o.AutomaticThreshold != nil {
		cfg.AutomaticThreshold = *o.AutomaticThreshold
	}
	if o.GazetteerThreshold != nil {
		cfg.GazetteerThreshold = *o.GazetteerThreshold
	}
	if o.MaxBlockSize != nil {
		cfg.MaxBlockSize = *o.MaxBlockSize
	}
	if len(o.Weights) > 0 {
		cfg.ModelWeights = make(map[string]float64, len(o.Weights))
		for k, v := range o.Weights {
			cfg.ModelWeights[k] = v
		}
	}
}
