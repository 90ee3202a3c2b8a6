package main

import (
	"errors"
	"testing"
	"time"

	"github.com/matsen/prec/internal/config"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"backend", "backend"},
		{"server.rate_limit", "server.rate-limit"},
		{"Server.Rate-Limit", "server.rate-limit"},
		{"CACHE_RESULTS", "cache-results"},
	}
	for _, tt := range tests {
		if got := normalizeKey(tt.in); got != tt.want {
			t.Errorf("normalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSetConfigValue(t *testing.T) {
	tests := []struct {
		key, value string
		check      func(c *config.Config) bool
	}{
		{"backend", "graph", func(c *config.Config) bool { return c.Backend == config.BackendGraph }},
		{"cache-results", "false", func(c *config.Config) bool { return !c.CacheResults }},
		{"log-level", "debug", func(c *config.Config) bool { return c.LogLevel == "debug" }},
		{"breaker.max-failures", "9", func(c *config.Config) bool { return c.Breaker.MaxFailures == 9 }},
		{"breaker.open-timeout", "1m", func(c *config.Config) bool { return c.Breaker.OpenTimeout == time.Minute }},
		{"server.addr", ":9000", func(c *config.Config) bool { return c.Server.Addr == ":9000" }},
		{"server.rate-limit", "2.5", func(c *config.Config) bool { return c.Server.RateLimit == 2.5 }},
		{"server.burst", "7", func(c *config.Config) bool { return c.Server.Burst == 7 }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := config.Default(10)
			if err := setConfigValue(cfg, tt.key, tt.value); err != nil {
				t.Fatalf("setConfigValue() error = %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("%s not set to %s: %+v", tt.key, tt.value, *cfg)
			}
			if got := configValues(cfg)[tt.key]; got == "" {
				t.Errorf("configValues()[%q] is empty", tt.key)
			}
		})
	}
}

func TestSetConfigValue_Rejects(t *testing.T) {
	tests := []struct {
		name, key, value string
		wantErr          error
	}{
		{"unknown key", "pdf-root", "/tmp", errUnknownKey},
		{"bad backend", "backend", "neo4j", config.ErrInvalidBackend},
		{"negative rate", "server.rate-limit", "-1", config.ErrInvalidServer},
		{"zero burst", "server.burst", "0", config.ErrInvalidServer},
		{"topics", "topics", "20", nil},
		{"not a bool", "cache-results", "maybe", nil},
		{"not a duration", "breaker.open-timeout", "soon", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default(10)
			before := *cfg
			err := setConfigValue(cfg, tt.key, tt.value)
			if err == nil {
				t.Fatal("setConfigValue() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("setConfigValue() error = %v, want %v", err, tt.wantErr)
			}
			if *cfg != before {
				t.Errorf("config changed on error: %+v", *cfg)
			}
		})
	}
}
