// Package config handles repository and global configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendGraph  = "graph"
)

// Config represents repository configuration stored in .prec/config.yml.
type Config struct {
	// Topics is the width K of every stored topic vector.
	Topics       int           `yaml:"topics"`
	Backend      string        `yaml:"backend"`
	CacheResults bool          `yaml:"cache_results"`
	LogLevel     string        `yaml:"log_level,omitempty"`
	Breaker      BreakerConfig `yaml:"breaker"`
	Server       ServerConfig  `yaml:"server"`
}

// BreakerConfig configures the storage circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// ServerConfig configures `prec serve`.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RateLimit is requests per second across all clients; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

const (
	PrecDir    = ".prec"
	ConfigFile = "config.yml"
	SQLiteFile = "prec.db"
	GraphFile  = "prec.bolt"
)

// Validation errors.
var (
	ErrNotRepository  = errors.New("not in a prec repository (no .prec directory found)")
	ErrInvalidTopics  = errors.New("topics must be at least 1")
	ErrInvalidBackend = errors.New("backend must be sqlite or graph")
	ErrInvalidServer  = errors.New("invalid server settings")
)

// Default returns the configuration written by `prec init`.
func Default(topics int) *Config {
	return &Config{
		Topics:       topics,
		Backend:      BackendSQLite,
		CacheResults: true,
		Breaker: BreakerConfig{
			MaxFailures: 5,
			OpenTimeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Addr:      "127.0.0.1:8087",
			RateLimit: 50,
			Burst:     100,
		},
	}
}

// PrecPath returns the path to the .prec directory from a root path.
func PrecPath(root string) string {
	return filepath.Join(root, PrecDir)
}

// ConfigPath returns the path to config.yml from a root path.
func ConfigPath(root string) string {
	return filepath.Join(root, PrecDir, ConfigFile)
}

// DataPath returns the database file for the configured backend.
func (c *Config) DataPath(root string) string {
	if c.Backend == BackendGraph {
		return filepath.Join(root, PrecDir, GraphFile)
	}
	return filepath.Join(root, PrecDir, SQLiteFile)
}

// IsRepository checks if the given path contains a prec repository.
func IsRepository(root string) bool {
	info, err := os.Stat(PrecPath(root))
	return err == nil && info.IsDir()
}

// FindRepository walks up from the given path to find a prec repository.
func FindRepository(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	for {
		if IsRepository(abs) {
			return abs, nil
		}

		parent := filepath.Dir(abs)
		if parent == abs {
			return "", ErrNotRepository
		}
		abs = parent
	}
}

// Load reads and validates configuration from the repository at the given root.
func Load(root string) (*Config, error) {
	data, err := os.ReadFile(ConfigPath(root))
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default(0)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to the repository at the given root.
func (c *Config) Save(root string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(ConfigPath(root), data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// Validate checks every field.
func (c *Config) Validate() error {
	if c.Topics < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidTopics, c.Topics)
	}
	if c.Backend != BackendSQLite && c.Backend != BackendGraph {
		return fmt.Errorf("%w: got %q", ErrInvalidBackend, c.Backend)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("%w: rate_limit %v is negative", ErrInvalidServer, c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.Burst < 1 {
		return fmt.Errorf("%w: burst must be at least 1 when rate_limit is set", ErrInvalidServer)
	}
	return nil
}
