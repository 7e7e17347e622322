// Package config defines the daemon configuration: defaults, YAML file
// loading, validation, and environment detection for managed container
// hosts.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/pagedock/pkg/security/urlguard"
)

// Duration is a time.Duration that unmarshals from YAML strings in Go
// duration syntax, e.g. "30s" or "5m".
type Duration time.Duration

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config represents the full daemon configuration.
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Browser launch configuration
	Browser BrowserConfig `yaml:"browser"`

	// Session lifecycle limits
	Sessions SessionsConfig `yaml:"sessions"`

	// Navigation policy
	Policy PolicyConfig `yaml:"policy"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig defines the HTTP listener behavior.
type ServerConfig struct {
	ListenAddress   string   `yaml:"listen_address"`
	ShutdownGrace   Duration `yaml:"shutdown_grace"`
	MaxRequestBytes int64    `yaml:"max_request_bytes"`
}

// BrowserConfig defines how browser instances are launched.
type BrowserConfig struct {
	// Headless controls whether browsers run without a visible window
	Headless bool `yaml:"headless"`

	// Args are extra Chromium flags appended at launch
	Args []string `yaml:"args"`

	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	// ScreenshotDir, when set, receives a <session-id>.png copy of every
	// screenshot as a side channel
	ScreenshotDir string `yaml:"screenshot_dir"`
}

// SessionsConfig bounds session resources.
type SessionsConfig struct {
	MaxSessions     int      `yaml:"max_sessions"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	ReclaimInterval Duration `yaml:"reclaim_interval"`
	AcquireTimeout  Duration `yaml:"acquire_timeout"`
}

// PolicyConfig restricts which URLs sessions may navigate to. Glob syntax,
// matched against the full URL. An empty allow list means everything except
// the denied patterns.
type PolicyConfig struct {
	AllowedURLs []string `yaml:"allowed_urls"`
	DeniedURLs  []string `yaml:"denied_urls"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	// Level is "debug" or "info"
	Level string `yaml:"level"`

	// Directory switches logging from stderr to a per-run file when set
	Directory string `yaml:"directory"`
}

// Environment identifies where the daemon is running.
type Environment string

const (
	// EnvLocal is a developer machine; headful browsing is permitted
	EnvLocal Environment = "local"

	// EnvCloud is a managed container host; headless is forced and the
	// hardened Chromium arg list applied
	EnvCloud Environment = "cloud"
)

// cloudBrowserArgs are the Chromium flags needed to run stably inside a
// constrained container (no sandbox helpers, tiny /dev/shm).
var cloudBrowserArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-accelerated-2d-canvas",
	"--no-first-run",
	"--no-zygote",
	"--single-process",
	"--disable-gpu",
}

// DefaultConfig returns a configuration suitable for local use.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:   ":8000",
			ShutdownGrace:   Duration(10 * time.Second),
			MaxRequestBytes: 1 << 20,
		},
		Browser: BrowserConfig{
			Headless:       true,
			ViewportWidth:  1280,
			ViewportHeight: 720,
		},
		Sessions: SessionsConfig{
			MaxSessions:     5,
			IdleTimeout:     Duration(5 * time.Minute),
			ReclaimInterval: Duration(time.Minute),
			AcquireTimeout:  Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults untouched.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Server.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown_grace cannot be negative")
	}
	if c.Server.MaxRequestBytes <= 0 {
		return fmt.Errorf("max_request_bytes must be positive")
	}

	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("viewport dimensions must be positive")
	}

	if c.Sessions.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive")
	}
	if c.Sessions.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}
	if c.Sessions.ReclaimInterval <= 0 {
		return fmt.Errorf("reclaim_interval must be positive")
	}
	if c.Sessions.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire_timeout must be positive")
	}

	// Compile the policy now so a bad pattern fails startup, not the first
	// navigation
	if _, err := urlguard.New(c.Policy.AllowedURLs, c.Policy.DeniedURLs); err != nil {
		return fmt.Errorf("invalid url policy: %w", err)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Level != "debug" && c.Logging.Level != "info" {
		return fmt.Errorf("invalid logging level: %s (must be 'debug' or 'info')", c.Logging.Level)
	}

	return nil
}

// DetectEnvironment reports EnvCloud when the process appears to be running
// on a managed container host, EnvLocal otherwise.
func DetectEnvironment() Environment {
	if os.Getenv("RENDER") != "" || os.Getenv("RENDER_EXTERNAL_URL") != "" {
		return EnvCloud
	}
	return EnvLocal
}

// ApplyEnvironment adjusts browser settings for the detected environment.
// Cloud hosts force headless, use the hardened arg list, and get a full
// desktop viewport.
func (c *Config) ApplyEnvironment(env Environment) {
	if env != EnvCloud {
		return
	}
	c.Browser.Headless = true
	c.Browser.Args = append([]string{}, cloudBrowserArgs...)
	c.Browser.ViewportWidth = 1920
	c.Browser.ViewportHeight = 1080
}
