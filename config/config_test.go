// ABOUTME: Tests for config loading, defaults, and validation.
// ABOUTME: Exercises YAML overlay behavior and the startup-refusal cases.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}
	if cfg.Addr != "127.0.0.1:4680" {
		t.Errorf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.Bridge.Mode != "proxy" {
		t.Errorf("expected proxy bridge mode, got %q", cfg.Bridge.Mode)
	}
	if cfg.Session.MaxAttempts != 5 {
		t.Errorf("expected 5 max attempts, got %d", cfg.Session.MaxAttempts)
	}
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appview.yaml")
	content := `
addr: "0.0.0.0:9000"
upstream:
  transport: http
  url: http://localhost:3000/mcp
bridge:
  mode: direct
session:
  max_attempts: 2
  connect_timeout: 3s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Addr != "0.0.0.0:9000" {
		t.Errorf("expected overridden addr, got %q", cfg.Addr)
	}
	if cfg.Upstream.Transport != "http" || cfg.Upstream.URL != "http://localhost:3000/mcp" {
		t.Errorf("expected http upstream, got %+v", cfg.Upstream)
	}
	if cfg.Bridge.Mode != "direct" {
		t.Errorf("expected direct bridge mode, got %q", cfg.Bridge.Mode)
	}
	if cfg.Session.MaxAttempts != 2 {
		t.Errorf("expected 2 max attempts, got %d", cfg.Session.MaxAttempts)
	}
	if cfg.Session.ConnectTimeout != 3*time.Second {
		t.Errorf("expected 3s connect timeout, got %v", cfg.Session.ConnectTimeout)
	}
	// Untouched sections keep their defaults.
	if cfg.Targets.Root != "targets" {
		t.Errorf("expected default targets root, got %q", cfg.Targets.Root)
	}
	if cfg.Build.Timeout != 5*time.Minute {
		t.Errorf("expected default build timeout, got %v", cfg.Build.Timeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("addr: [unclosed"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Upstream.Command = "my-mcp-server"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid stdio", func(c *Config) {}, ""},
		{"valid http", func(c *Config) {
			c.Upstream = UpstreamConfig{Transport: "http", URL: "http://localhost:3000"}
		}, ""},
		{"empty addr", func(c *Config) { c.Addr = "" }, "addr"},
		{"empty targets root", func(c *Config) { c.Targets.Root = "" }, "targets.root"},
		{"stdio without command", func(c *Config) { c.Upstream.Command = "" }, "upstream.command"},
		{"http without url", func(c *Config) {
			c.Upstream = UpstreamConfig{Transport: "http"}
		}, "upstream.url"},
		{"unknown transport", func(c *Config) { c.Upstream.Transport = "grpc" }, "transport"},
		{"unknown bridge mode", func(c *Config) { c.Bridge.Mode = "relay" }, "bridge mode"},
		{"zero attempts", func(c *Config) { c.Session.MaxAttempts = 0 }, "max_attempts"},
		{"factor below one", func(c *Config) { c.Session.BackoffFactor = 0.5 }, "backoff_factor"},
		{"zero build timeout", func(c *Config) { c.Build.Timeout = 0 }, "build.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRetryPolicyConversion(t *testing.T) {
	cfg := Default()
	cfg.Session.MaxAttempts = 7
	cfg.Session.InitialDelay = 50 * time.Millisecond

	policy := cfg.RetryPolicy()
	if policy.MaxAttempts != 7 {
		t.Errorf("expected 7 attempts, got %d", policy.MaxAttempts)
	}
	if policy.Backoff.InitialDelay != 50*time.Millisecond {
		t.Errorf("expected 50ms initial delay, got %v", policy.Backoff.InitialDelay)
	}
}
