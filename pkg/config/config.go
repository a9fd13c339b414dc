// Package config loads and validates the engine's YAML configuration,
// the way the teacher repo's own pkg/config loads its Config: sensible
// defaults first, then an optional file overlay, then validation.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"repguard/internal/logging"
	"repguard/internal/reputation"
)

// Config is the top-level configuration structure.
type Config struct {
	Node    NodeConfig              `yaml:"node"`
	Engine  reputation.EngineConfig `yaml:"engine"`
	Logging logging.LogConfig       `yaml:"logging"`
}

// NodeConfig identifies this process, used as the node_id of every log
// entry and as the log file stem.
type NodeConfig struct {
	ID string `yaml:"id"`
}

// DefaultConfig returns the baseline configuration used when no file
// is present, or as the base a file's contents are merged onto.
func DefaultConfig() *Config {
	return &Config{
		Node:   NodeConfig{ID: "repguard-node-1"},
		Engine: reputation.DefaultEngineConfig(),
		Logging: logging.LogConfig{
			Level:         "info",
			EnableConsole: true,
			EnableFile:    false,
			BufferSize:    1000,
			LogDir:        "logs",
		},
	}
}

// Load reads and parses path, falling back to DefaultConfig if the
// file does not exist. A present-but-malformed file, or a file whose
// contents fail Validate, is an error.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("configuration file %s not found, using defaults\n", path)
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks the configuration for construction-time errors.
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id cannot be empty")
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}
