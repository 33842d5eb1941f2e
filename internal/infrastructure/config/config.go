package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for USB Power Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Registry  RegistryConfig  `yaml:"registry"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Elevation ElevationConfig `yaml:"elevation"`
	Audit     AuditConfig     `yaml:"audit"`
}

// APIConfig contains HTTP API server settings.
//
// The API serves the local operator UI only. The default host is loopback;
// exposing the toggle endpoints beyond the local machine is not supported.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// DatabaseConfig contains SQLite database settings for the write-audit store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RegistryConfig contains device enumeration settings.
type RegistryConfig struct {
	// Root is the enumeration root under HKEY_LOCAL_MACHINE where USB
	// device configuration keys live.
	Root string `yaml:"root"`
}

// ReconcileConfig contains reconciliation loop settings.
type ReconcileConfig struct {
	// Interval is the periodic re-enumeration cadence.
	Interval time.Duration `yaml:"interval"`
}

// ElevationConfig contains settings for the elevated helper round-trip.
type ElevationConfig struct {
	// HelperPath is the path to the usbpower-helper binary.
	// If empty, the helper is expected next to the running executable.
	HelperPath string `yaml:"helper_path"`

	// Timeout bounds the wait for the helper's structured outcome report.
	// Covers the consent prompt, so it is deliberately generous.
	Timeout time.Duration `yaml:"timeout"`

	// PollInterval is how often the broker checks for the response file.
	PollInterval time.Duration `yaml:"poll_interval"`

	// WorkDir is where request/response exchange files are created.
	// If empty, the OS temp directory is used.
	WorkDir string `yaml:"work_dir"`
}

// AuditConfig contains write-audit retention settings.
type AuditConfig struct {
	// Retention is how long write outcomes are kept before pruning.
	Retention time.Duration `yaml:"retention"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: USBPOWER_SECTION_KEY
// For example: USBPOWER_DATABASE_PATH, USBPOWER_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := Default()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
//
// The defaults match the observed behaviour of the tool: a 3 second
// reconciliation cadence and a 75 second elevation timeout (long enough
// for the operator to answer the consent prompt).
func Default() *Config {
	return &Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8733,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 120, // Toggle requests block on the elevation round-trip
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Database: DatabaseConfig{
			Path:        "./data/usbpower.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Registry: RegistryConfig{
			Root: `SYSTEM\CurrentControlSet\Enum\USB`,
		},
		Reconcile: ReconcileConfig{
			Interval: 3 * time.Second,
		},
		Elevation: ElevationConfig{
			Timeout:      75 * time.Second,
			PollInterval: 400 * time.Millisecond,
		},
		Audit: AuditConfig{
			Retention: 30 * 24 * time.Hour,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: USBPOWER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// API
	if v := os.Getenv("USBPOWER_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("USBPOWER_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Database
	if v := os.Getenv("USBPOWER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Registry
	if v := os.Getenv("USBPOWER_REGISTRY_ROOT"); v != "" {
		cfg.Registry.Root = v
	}

	// Elevation
	if v := os.Getenv("USBPOWER_ELEVATION_HELPER"); v != "" {
		cfg.Elevation.HelperPath = v
	}

	// Logging
	if v := os.Getenv("USBPOWER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Registry.Root == "" {
		errs = append(errs, "registry.root is required")
	}

	if c.Reconcile.Interval <= 0 {
		errs = append(errs, "reconcile.interval must be positive")
	}

	if c.Elevation.Timeout <= 0 {
		errs = append(errs, "elevation.timeout must be positive")
	}
	if c.Elevation.PollInterval <= 0 {
		errs = append(errs, "elevation.poll_interval must be positive")
	}
	if c.Elevation.PollInterval > 0 && c.Elevation.Timeout > 0 && c.Elevation.PollInterval >= c.Elevation.Timeout {
		errs = append(errs, "elevation.poll_interval must be shorter than elevation.timeout")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
