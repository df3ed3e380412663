// ABOUTME: YAML configuration for the appview preview server.
// ABOUTME: Defaults give a usable local setup; Load overlays a config file and validates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389-research/appview/bridge"
	"github.com/2389-research/appview/session"
)

// Config is the full server configuration.
type Config struct {
	Addr    string `yaml:"addr"`
	DataDir string `yaml:"data_dir"`

	Targets  TargetsConfig  `yaml:"targets"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Session  SessionConfig  `yaml:"session"`
	Build    BuildConfig    `yaml:"build"`
}

// TargetsConfig locates the widget source trees.
type TargetsConfig struct {
	Root string `yaml:"root"`
}

// UpstreamConfig describes how to reach the MCP server under preview.
type UpstreamConfig struct {
	// Transport is "stdio" (spawn Command) or "http" (connect to URL).
	Transport string   `yaml:"transport"`
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	URL       string   `yaml:"url"`
}

// BridgeConfig selects how widget tool calls reach upstream.
type BridgeConfig struct {
	Mode string `yaml:"mode"`
}

// SessionConfig tunes the connect/retry behavior of the upstream session.
type SessionConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialDelay   time.Duration `yaml:"initial_delay"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	Jitter         bool          `yaml:"jitter"`
}

// BuildConfig tunes the bridge compile subprocess.
type BuildConfig struct {
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env"`
	Timeout time.Duration     `yaml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	policy := session.DefaultRetryPolicy()
	return Config{
		Addr:    "127.0.0.1:4680",
		DataDir: ".appview",
		Targets: TargetsConfig{Root: "targets"},
		Upstream: UpstreamConfig{
			Transport: "stdio",
		},
		Bridge: BridgeConfig{Mode: string(bridge.ModeProxy)},
		Session: SessionConfig{
			ConnectTimeout: 10 * time.Second,
			MaxAttempts:    policy.MaxAttempts,
			InitialDelay:   policy.Backoff.InitialDelay,
			BackoffFactor:  policy.Backoff.Factor,
			MaxDelay:       policy.Backoff.MaxDelay,
			Jitter:         policy.Backoff.Jitter,
		},
		Build: BuildConfig{
			Timeout: 5 * time.Minute,
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults unchanged. Validation happens separately so callers can overlay
// command-line flags first.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for the mistakes a startup should refuse
// rather than limp through.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if c.Targets.Root == "" {
		return fmt.Errorf("targets.root must not be empty")
	}

	switch c.Upstream.Transport {
	case "stdio":
		if c.Upstream.Command == "" {
			return fmt.Errorf("upstream.command is required for stdio transport")
		}
	case "http":
		if c.Upstream.URL == "" {
			return fmt.Errorf("upstream.url is required for http transport")
		}
	default:
		return fmt.Errorf("unknown upstream.transport %q (want %q or %q)", c.Upstream.Transport, "stdio", "http")
	}

	if _, err := bridge.ParseMode(c.Bridge.Mode); err != nil {
		return err
	}

	if c.Session.MaxAttempts < 1 {
		return fmt.Errorf("session.max_attempts must be at least 1")
	}
	if c.Session.BackoffFactor < 1 {
		return fmt.Errorf("session.backoff_factor must be at least 1")
	}
	if c.Session.InitialDelay <= 0 || c.Session.MaxDelay <= 0 {
		return fmt.Errorf("session backoff delays must be positive")
	}
	if c.Build.Timeout <= 0 {
		return fmt.Errorf("build.timeout must be positive")
	}
	return nil
}

// RetryPolicy converts session settings into the manager's policy type.
func (c *Config) RetryPolicy() session.RetryPolicy {
	return session.RetryPolicy{
		MaxAttempts: c.Session.MaxAttempts,
		Backoff: session.BackoffConfig{
			InitialDelay: c.Session.InitialDelay,
			Factor:       c.Session.BackoffFactor,
			MaxDelay:     c.Session.MaxDelay,
			Jitter:       c.Session.Jitter,
		},
	}
}
