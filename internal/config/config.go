// ABOUTME: Configuration loading and parsing for botbridge.
// ABOUTME: YAML with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the client timing surface.
const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultCallTimeout    = 60 * time.Second
	DefaultWaitTimeout    = 10 * time.Second
	DefaultProbeInterval  = 10 * time.Second
	DefaultExpiryGrace    = time.Second
)

// Config represents the complete botbridge configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Client   ClientConfig   `yaml:"client"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds socket client authentication configuration.
type AuthConfig struct {
	TokenSecret string `yaml:"token_secret"`
}

// ClientConfig holds timing configuration for outbound client interaction.
type ClientConfig struct {
	ConnectTimeout time.Duration `yaml:"-"`
	CallTimeout    time.Duration `yaml:"-"`
	WaitTimeout    time.Duration `yaml:"-"`
	ProbeInterval  time.Duration `yaml:"-"`
	ExpiryGrace    time.Duration `yaml:"-"`

	// DisableReachabilityCheck skips webhook probing; webhooks are then
	// assumed reachable whenever configured.
	DisableReachabilityCheck bool `yaml:"disable_reachability_check"`

	// Raw string values for YAML unmarshaling
	ConnectTimeoutRaw string `yaml:"connect_timeout"`
	CallTimeoutRaw    string `yaml:"call_timeout"`
	WaitTimeoutRaw    string `yaml:"wait_timeout"`
	ProbeIntervalRaw  string `yaml:"probe_interval"`
	ExpiryGraceRaw    string `yaml:"expiry_grace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with all defaults applied and no file input.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded and
// duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Client.ConnectTimeout <= 0 {
		c.Client.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Client.CallTimeout <= 0 {
		c.Client.CallTimeout = DefaultCallTimeout
	}
	if c.Client.WaitTimeout <= 0 {
		c.Client.WaitTimeout = DefaultWaitTimeout
	}
	if c.Client.ProbeInterval <= 0 {
		c.Client.ProbeInterval = DefaultProbeInterval
	}
	if c.Client.ExpiryGrace <= 0 {
		c.Client.ExpiryGrace = DefaultExpiryGrace
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// parseDurations converts the raw duration strings into time.Duration values.
func (c *Config) parseDurations() error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{c.Client.ConnectTimeoutRaw, "connect_timeout", &c.Client.ConnectTimeout},
		{c.Client.CallTimeoutRaw, "call_timeout", &c.Client.CallTimeout},
		{c.Client.WaitTimeoutRaw, "wait_timeout", &c.Client.WaitTimeout},
		{c.Client.ProbeIntervalRaw, "probe_interval", &c.Client.ProbeInterval},
		{c.Client.ExpiryGraceRaw, "expiry_grace", &c.Client.ExpiryGrace},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
