// Package config loads the phpunit-meta configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Sharom/phpunit/internal/discover"
	"github.com/Sharom/phpunit/internal/environment"
	"github.com/Sharom/phpunit/internal/grouping"
)

// DefaultMaxFileSize is the size above which source files are skipped.
const DefaultMaxFileSize = 1_000_000 // 1 MB

// Config is the complete phpunit-meta configuration.
type Config struct {
	// Include and Exclude are doublestar globs over repo-relative paths.
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`

	// MaxFileSize skips source files larger than this many bytes.
	MaxFileSize int `yaml:"max_file_size"`

	// BaseTypes are the framework test base types.
	BaseTypes []string `yaml:"base_types"`

	// Coverage selects the annotation family reported: covers or uses.
	Coverage string `yaml:"coverage"`

	// Environment describes the runtime requirements are checked against.
	// Only the fields it sets are layered over the probed or default
	// environment.
	Environment environment.Environment `yaml:"environment"`

	// Probe is a php binary queried for the environment. Probed values
	// are overridden by Environment.
	Probe string `yaml:"probe,omitempty"`
}

// DefaultConfig returns a Config with the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxFileSize: DefaultMaxFileSize,
		BaseTypes:   append([]string(nil), grouping.DefaultBaseTypes...),
		Coverage:    "covers",
	}
}

// Filter returns the discovery filter of the configuration.
func (c *Config) Filter() discover.Filter {
	return discover.Filter{Include: c.Include, Exclude: c.Exclude}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", c.MaxFileSize)
	}
	if c.Coverage != "covers" && c.Coverage != "uses" {
		return fmt.Errorf("coverage must be covers or uses, got %q", c.Coverage)
	}
	if err := c.Filter().Validate(); err != nil {
		return err
	}
	return nil
}

// Merge merges other into c. Non-zero values of other take precedence.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if len(other.Include) > 0 {
		c.Include = other.Include
	}
	if len(other.Exclude) > 0 {
		c.Exclude = other.Exclude
	}
	if other.MaxFileSize != 0 {
		c.MaxFileSize = other.MaxFileSize
	}
	if len(other.BaseTypes) > 0 {
		c.BaseTypes = other.BaseTypes
	}
	if other.Coverage != "" {
		c.Coverage = other.Coverage
	}
	if other.Probe != "" {
		c.Probe = other.Probe
	}
	c.Environment = c.Environment.Merge(other.Environment)
}

// LoadFromFile reads one configuration file. Fields the file omits are zero.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &cfg, nil
}

// Header starts every configuration file written by SaveToFile.
const Header = `# phpunit-meta configuration.
# Layered over ~/.config/phpunit-meta/config.yaml; --config files override it.
`

// Marshal returns the YAML form of the configuration, preceded by Header.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return append([]byte(Header), data...), nil
}

// SaveToFile writes the configuration to path, creating parent directories.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
