package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPathFunctions(t *testing.T) {
	root := "/test/repo"

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"PrecPath", PrecPath(root), "/test/repo/.prec"},
		{"ConfigPath", ConfigPath(root), "/test/repo/.prec/config.yml"},
		{"DataPath sqlite", (&Config{Backend: BackendSQLite}).DataPath(root), "/test/repo/.prec/prec.db"},
		{"DataPath graph", (&Config{Backend: BackendGraph}).DataPath(root), "/test/repo/.prec/prec.bolt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestIsRepository(t *testing.T) {
	tmpDir := t.TempDir()

	if IsRepository(tmpDir) {
		t.Error("IsRepository() = true for non-repo directory")
	}

	if err := os.Mkdir(PrecPath(tmpDir), 0755); err != nil {
		t.Fatalf("Failed to create .prec: %v", err)
	}

	if !IsRepository(tmpDir) {
		t.Error("IsRepository() = false for repo directory")
	}
}

func TestIsRepository_FileNotDir(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.WriteFile(PrecPath(tmpDir), []byte("not a dir"), 0644); err != nil {
		t.Fatalf("Failed to create .prec file: %v", err)
	}

	if IsRepository(tmpDir) {
		t.Error("IsRepository() = true when .prec is a file")
	}
}

func TestFindRepository(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.Mkdir(PrecPath(tmpDir), 0755); err != nil {
		t.Fatalf("Failed to create .prec: %v", err)
	}
	nested := filepath.Join(tmpDir, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("Failed to create nested dir: %v", err)
	}

	got, err := FindRepository(nested)
	if err != nil {
		t.Fatalf("FindRepository() error = %v", err)
	}
	want, _ := filepath.Abs(tmpDir)
	if got != want {
		t.Errorf("FindRepository() = %q, want %q", got, want)
	}
}

func TestFindRepository_NotFound(t *testing.T) {
	_, err := FindRepository(t.TempDir())
	if !errors.Is(err, ErrNotRepository) {
		t.Errorf("FindRepository() error = %v, want ErrNotRepository", err)
	}
}

func TestSaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.Mkdir(PrecPath(tmpDir), 0755); err != nil {
		t.Fatalf("Failed to create .prec: %v", err)
	}

	cfg := Default(40)
	cfg.Backend = BackendGraph
	cfg.Breaker.OpenTimeout = 90 * time.Second
	if err := cfg.Save(tmpDir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("Load() = %+v, want %+v", *loaded, *cfg)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.Mkdir(PrecPath(tmpDir), 0755); err != nil {
		t.Fatalf("Failed to create .prec: %v", err)
	}
	content := "topics: 12\nbackend: sqlite\nbreaker:\n  open_timeout: 5s\n"
	if err := os.WriteFile(ConfigPath(tmpDir), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Topics != 12 {
		t.Errorf("Topics = %d, want 12", cfg.Topics)
	}
	if cfg.Breaker.OpenTimeout != 5*time.Second {
		t.Errorf("OpenTimeout = %v, want 5s", cfg.Breaker.OpenTimeout)
	}
	if cfg.Breaker.MaxFailures != 5 {
		t.Errorf("MaxFailures = %d, want default 5", cfg.Breaker.MaxFailures)
	}
	if cfg.Server.Addr == "" {
		t.Error("Server.Addr default lost")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr error
	}{
		{"default", func(c *Config) {}, nil},
		{"zero topics", func(c *Config) { c.Topics = 0 }, ErrInvalidTopics},
		{"unknown backend", func(c *Config) { c.Backend = "neo4j" }, ErrInvalidBackend},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }, ErrInvalidServer},
		{"rate without burst", func(c *Config) { c.Server.Burst = 0 }, ErrInvalidServer},
		{"no limiter", func(c *Config) { c.Server.RateLimit = 0; c.Server.Burst = 0 }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(10)
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
