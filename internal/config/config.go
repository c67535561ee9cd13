// Package config loads the firewall's configuration: the listen address,
// exemption rules, policy table overrides, and the collaborators' settings
// (storage DSN, telemetry, optional redis broadcaster).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forkit/firewall/internal/policy"
)

// Config holds all configuration for the firewall.
type Config struct {
	Listen     string          `yaml:"listen"`
	Exemptions Exemptions      `yaml:"exemptions"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
	Control    ControlConfig   `yaml:"control"`
	Logging    LoggingConfig   `yaml:"logging"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	Storage    StorageConfig   `yaml:"storage"`
	Broadcast  BroadcastConfig `yaml:"broadcast"`
	Policies   map[string]PolicyOverride `yaml:"policies"`
}

// Exemptions is the exemption filter's configuration (spec.md §4.1): a set
// of exact paths plus a set of path prefixes, checked before anything else
// in the pipeline runs.
type Exemptions struct {
	ExactPaths []string `yaml:"exact_paths"`
	Prefixes   []string `yaml:"prefixes"`
}

// FingerprintConfig names the header that carries the opaque client
// fingerprint for policies with fingerprint_required=true.
type FingerprintConfig struct {
	Header string `yaml:"header"`
}

// ControlConfig holds the admin/control API's own listen address.
type ControlConfig struct {
	Listen  string            `yaml:"listen"`
	Enabled bool              `yaml:"enabled"`
	Auth    ControlAuthConfig `yaml:"auth"`
}

// ControlAuthConfig holds control API authentication settings.
type ControlAuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "otlp", "stdout", or "none"
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// StorageConfig holds the durable block-store configuration.
type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

// BroadcastConfig holds the optional cross-instance redis broadcaster's
// configuration. Addr == "" disables it entirely.
type BroadcastConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Topic    string `yaml:"topic"`
}

// PolicyOverride lets a deployment tune a named policy's parameters without
// recompiling; Validate (and the compiled-in caps) still apply after the
// override is merged onto the built-in Definition.
type PolicyOverride struct {
	Requests      int    `yaml:"requests"`
	WindowSeconds int    `yaml:"window_seconds"`
	EscalateAfter int    `yaml:"escalate_after"`
}

// Load reads and parses the configuration file, falling back to built-in
// defaults when absent.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path) // #nosec G304 -- config path from trusted CLI flag
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			if err := cfg.validate(); err != nil {
				return nil, fmt.Errorf("validating config: %w", err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config carrying the exemption list and fingerprint
// header from the original Python source's FirewallExceptions (spec.md
// §4.1, SPEC_FULL.md supplemented features).
func defaults() *Config {
	return &Config{
		Listen: ":8080",
		Exemptions: Exemptions{
			ExactPaths: []string{"/", "/status", "/auth/login", "/auth/register"},
			Prefixes:   []string{"/docs", "/redoc", "/openapi", "/static"},
		},
		Fingerprint: FingerprintConfig{
			Header: "X-Client-Fingerprint",
		},
		Control: ControlConfig{
			Listen:  ":9090",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Format: "json",
			Level:  "info",
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Exporter: "none",
			Endpoint: "localhost:4317",
			Insecure: true,
		},
		Storage: StorageConfig{
			DSN: "system_security.db",
		},
		Broadcast: BroadcastConfig{
			Topic: "firewall:blocks",
		},
	}
}

// applyEnvOverrides applies environment variable overrides, following the
// teacher's one-var-per-concern convention.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FIREWALL_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("FIREWALL_CONTROL_LISTEN"); v != "" {
		c.Control.Listen = v
	}
	if v := os.Getenv("FIREWALL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SECURITY_DB"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("FIREWALL_FINGERPRINT_HEADER"); v != "" {
		c.Fingerprint.Header = v
	}

	if os.Getenv("FIREWALL_TELEMETRY_ENABLED") == "true" {
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("FIREWALL_TELEMETRY_EXPORTER"); v != "" {
		c.Telemetry.Exporter = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Exporter = "otlp"
		c.Telemetry.Endpoint = v
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true" {
		c.Telemetry.Insecure = true
	}

	if v := os.Getenv("FIREWALL_REDIS_ADDR"); v != "" {
		c.Broadcast.Addr = v
	}
	if v := os.Getenv("FIREWALL_REDIS_PASSWORD"); v != "" {
		c.Broadcast.Password = v
	}

	if v := os.Getenv("FIREWALL_CONTROL_API_KEY"); v != "" {
		c.Control.Auth.APIKey = v
		c.Control.Auth.Enabled = true
	}
}

// validate checks the configuration is internally consistent.
func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage dsn is required")
	}
	if c.Fingerprint.Header == "" {
		return fmt.Errorf("fingerprint header is required")
	}
	return nil
}

// PolicyTable merges any configured PolicyOverrides onto policy.Definitions
// and validates the result against the compiled-in caps (spec.md §3, §7: a
// configuration out of range is fatal at startup).
func (c *Config) PolicyTable() (map[policy.Tag]policy.Definition, error) {
	table := make(map[policy.Tag]policy.Definition, len(policy.Definitions))
	for tag, def := range policy.Definitions {
		table[tag] = def
	}

	for name, override := range c.Policies {
		tag := policy.Tag(name)
		def, ok := table[tag]
		if !ok {
			return nil, fmt.Errorf("policy override for unknown tag %q", name)
		}
		if override.Requests > 0 {
			def.Requests = override.Requests
		}
		if override.WindowSeconds > 0 {
			def.Window = time.Duration(override.WindowSeconds) * time.Second
		}
		if override.EscalateAfter > 0 {
			def.EscalateAfter = override.EscalateAfter
		}
		table[tag] = def
	}

	if err := policy.ValidateTable(table); err != nil {
		return nil, err
	}
	return table, nil
}
