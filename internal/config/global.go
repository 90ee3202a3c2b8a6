package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// GlobalConfig holds per-user defaults stored in ~/.config/prec/config.yml.
// `prec init` seeds a new repository from it; the log settings apply to every command.
type GlobalConfig struct {
	Topics    int    `yaml:"topics,omitempty"`
	Backend   string `yaml:"backend,omitempty"`
	LogLevel  string `yaml:"log_level,omitempty"`
	LogFormat string `yaml:"log_format,omitempty"`
}

const (
	// GlobalConfigDir is the directory name under XDG_CONFIG_HOME.
	GlobalConfigDir = "prec"
	// GlobalConfigFile is the config file name.
	GlobalConfigFile = "config.yml"
)

// GlobalConfigPath returns the path to the global config file.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/prec/config.yml.
func GlobalConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, GlobalConfigDir, GlobalConfigFile)
}

// LoadGlobalConfig loads the global configuration file.
// Returns an empty config (not an error) if the file doesn't exist.
func LoadGlobalConfig() (*GlobalConfig, error) {
	path := GlobalConfigPath()
	if path == "" {
		return &GlobalConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &GlobalConfig{}, nil
		}
		return nil, fmt.Errorf("reading global config: %w", err)
	}

	var cfg GlobalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing global config: %w", err)
	}
	return &cfg, nil
}

// Seed returns the repository config for `prec init`. Explicit values win
// over global defaults; zero values fall back to them.
func (g *GlobalConfig) Seed(topics int, backend string) *Config {
	if topics == 0 {
		topics = g.Topics
	}
	cfg := Default(topics)
	switch {
	case backend != "":
		cfg.Backend = backend
	case g.Backend != "":
		cfg.Backend = g.Backend
	}
	cfg.LogLevel = g.LogLevel
	return cfg
}
