package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level config file.
	ProjectConfigFile = ".phpunit-meta.yaml"
	// UserConfigDir is the directory of the user-level config, relative to
	// the home directory.
	UserConfigDir = ".config/phpunit-meta"
	// UserConfigFile is the name of the user-level config file.
	UserConfigFile = "config.yaml"
)

// For mocking in tests.
var osUserHomeDir = os.UserHomeDir

// Loader loads configuration with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a Loader. A nil logger uses slog.Default().
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load layers the configuration of the project at root:
//  1. built-in defaults
//  2. user config (~/.config/phpunit-meta/config.yaml)
//  3. project config (<root>/.phpunit-meta.yaml)
//  4. the explicit file, when not empty
//
// Missing user and project files are skipped; a missing explicit file is an
// error.
func (l *Loader) Load(root, explicit string) (*Config, error) {
	cfg := DefaultConfig()

	if path := l.userConfigPath(); path != "" {
		if err := l.layer(cfg, path, false); err != nil {
			return nil, err
		}
	}
	if err := l.layer(cfg, filepath.Join(root, ProjectConfigFile), false); err != nil {
		return nil, err
	}
	if explicit != "" {
		if err := l.layer(cfg, explicit, true); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (l *Loader) layer(cfg *Config, path string, required bool) error {
	other, err := LoadFromFile(path)
	switch {
	case err == nil:
		l.logger.Debug("loaded config", slog.String("path", path))
		cfg.Merge(other)
		return nil
	case errors.Is(err, fs.ErrNotExist) && !required:
		l.logger.Debug("no config file", slog.String("path", path))
		return nil
	default:
		return err
	}
}

// userConfigPath returns the path of the user config file, or "" when the
// home directory is unknown.
func (l *Loader) userConfigPath() string {
	home, err := osUserHomeDir()
	if err != nil {
		l.logger.Warn("could not determine user config path", slog.String("error", err.Error()))
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}
