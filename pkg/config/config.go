// Package config provides configuration structures and loading logic for the trust bootstrap.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	trusttls "github.com/polisai/trustboot/internal/tls"
	"github.com/polisai/trustboot/pkg/runtimepatch"
	"gopkg.in/yaml.v3"
)

// Config holds the global configuration of the trust bootstrap host.
type Config struct {
	Trust     TrustConfig     `yaml:"trust"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
}

// TrustConfig describes the certificate stores and the audited root.
type TrustConfig struct {
	PlatformStore  StoreConfig    `yaml:"platform_store"`
	EmbeddedStore  EmbeddedConfig `yaml:"embedded_store"`
	Bundles        []*TrustBundle `yaml:"bundles,omitempty"`
	ExpectedRoot   string         `yaml:"expected_root"`
	LoadTimeout    time.Duration  `yaml:"load_timeout"`
	MinTLSVersion  string         `yaml:"min_tls_version"`
	ClientCertFile string         `yaml:"client_cert_file,omitempty"`
	ClientKeyFile  string         `yaml:"client_key_file,omitempty"`
}

// StoreConfig locates a certificate store on disk. An empty Path means discover.
type StoreConfig struct {
	Path       string `yaml:"path"`
	Format     string `yaml:"format"`
	Passphrase string `yaml:"passphrase"`
}

// EmbeddedConfig toggles the bundled supplemental root pack.
type EmbeddedConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig holds configuration for OpenTelemetry and the metrics endpoint.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	MetricsAddr  string `yaml:"metrics_addr"`
}

// RuntimeConfig describes the optional runtime dependency checked at startup.
type RuntimeConfig struct {
	Binary     string `yaml:"binary"`
	MinVersion string `yaml:"min_version"`
	Required   bool   `yaml:"required"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Trust: TrustConfig{
			PlatformStore: StoreConfig{
				Format:     string(trusttls.FormatAuto),
				Passphrase: trusttls.DefaultPlatformPassphrase,
			},
			EmbeddedStore: EmbeddedConfig{Enabled: true},
			ExpectedRoot:  trusttls.DefaultExpectedRoot,
			LoadTimeout:   5 * time.Second,
			MinTLSVersion: "1.2",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "trustboot",
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("TRUSTBOOT_PLATFORM_STORE"); val != "" {
		cfg.Trust.PlatformStore.Path = val
	}
	if val := os.Getenv("TRUSTBOOT_PLATFORM_PASSPHRASE"); val != "" {
		cfg.Trust.PlatformStore.Passphrase = val
	}
	if val := os.Getenv("TRUSTBOOT_EXPECTED_ROOT"); val != "" {
		cfg.Trust.ExpectedRoot = val
	}
	if val := os.Getenv("TRUSTBOOT_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("TRUSTBOOT_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
}

// Validate performs validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Trust.Validate(); err != nil {
		return fmt.Errorf("trust configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	if err := c.Runtime.Validate(); err != nil {
		return fmt.Errorf("runtime configuration: %w", err)
	}

	return nil
}

// Validate performs validation of trust configuration
func (c *TrustConfig) Validate() error {
	format, err := trusttls.ParseStoreFormat(c.PlatformStore.Format)
	if err != nil {
		return fmt.Errorf("platform_store: %w", err)
	}
	c.PlatformStore.Format = string(format)

	if _, err := trusttls.ParseTLSVersion(c.MinTLSVersion); err != nil {
		return fmt.Errorf("min_tls_version: %w", err)
	}

	if c.LoadTimeout <= 0 {
		return fmt.Errorf("load_timeout must be positive, got %s", c.LoadTimeout)
	}

	if (c.ClientCertFile == "") != (c.ClientKeyFile == "") {
		return fmt.Errorf("client_cert_file and client_key_file must be set together")
	}

	if strings.TrimSpace(c.ExpectedRoot) == "" {
		c.ExpectedRoot = trusttls.DefaultExpectedRoot
	}

	seen := make(map[string]bool, len(c.Bundles))
	for i, bundle := range c.Bundles {
		if bundle == nil {
			return fmt.Errorf("bundle %d is empty", i)
		}
		if strings.TrimSpace(bundle.Name) == "" {
			bundle.Name = fmt.Sprintf("bundle-%d", i)
		}
		if seen[bundle.Name] {
			return fmt.Errorf("duplicate bundle name %q", bundle.Name)
		}
		seen[bundle.Name] = true
		if strings.TrimSpace(bundle.Path) == "" && strings.TrimSpace(bundle.Inline) == "" {
			return fmt.Errorf("bundle %q: no path or inline data provided", bundle.Name)
		}
	}

	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
	default:
		return fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", c.Level)
	}

	format := strings.TrimSpace(strings.ToLower(c.Format))
	switch format {
	case "":
		c.Format = "json"
	case "json", "text":
		c.Format = format
	default:
		return fmt.Errorf("invalid log format %q (must be json or text)", c.Format)
	}

	return nil
}

// Validate performs validation of runtime configuration
func (c *RuntimeConfig) Validate() error {
	if c.Required && strings.TrimSpace(c.Binary) == "" {
		return fmt.Errorf("required runtime needs a binary")
	}
	if c.MinVersion != "" && !runtimepatch.ValidVersion(c.MinVersion) {
		return fmt.Errorf("invalid min_version %q (must be a semantic version)", c.MinVersion)
	}
	return nil
}
