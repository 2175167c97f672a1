package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Detection DetectionConfig `yaml:"detection"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Report    ReportConfig    `yaml:"report"`
	Viewer    ViewerConfig    `yaml:"viewer"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DetectionConfig holds the thresholds and allow-lists governing the five
// detection rules. It is immutable for the lifetime of one evaluation run.
type DetectionConfig struct {
	LowDurationSeconds   float64  `yaml:"low_duration_seconds"`
	HighDurationSeconds  float64  `yaml:"high_duration_seconds"`
	PortThreshold        int      `yaml:"port_threshold"`
	VolumeThreshold      int      `yaml:"volume_threshold"`
	AllowedProtocols     []string `yaml:"allowed_protocols"`
	ExpectedSuccessState string   `yaml:"expected_success_state"`
}

// IngestConfig contains log ingestion parameters
type IngestConfig struct {
	Paths []string `yaml:"paths"`
	// Strict aborts the run on the first malformed record instead of
	// dropping it with a warning.
	Strict bool `yaml:"strict"`
}

// ReportConfig contains export parameters
type ReportConfig struct {
	ExportDir    string `yaml:"export_dir"`
	ExportEnable bool   `yaml:"export_enable"`
}

// ViewerConfig contains result viewer (HTTP) parameters
type ViewerConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ConfigError reports an invalid configuration value. It is fatal to
// starting a run; no record is processed after it is raised.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Detection: DetectionConfig{
			LowDurationSeconds:   0.01,
			HighDurationSeconds:  1000,
			PortThreshold:        1024,
			VolumeThreshold:      100,
			AllowedProtocols:     []string{"tcp", "udp"},
			ExpectedSuccessState: "SF",
		},
		Ingest: IngestConfig{
			Paths:  []string{},
			Strict: false,
		},
		Report: ReportConfig{
			ExportDir:    "./anomalies",
			ExportEnable: false,
		},
		Viewer: ViewerConfig{
			ListenAddr:     ":8080",
			UpdateInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Detection.Validate(); err != nil {
		return err
	}

	// Validate log level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return &ConfigError{Field: "logging.level", Reason: fmt.Sprintf("unknown level %q", c.Logging.Level)}
	}

	// Validate log format
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return &ConfigError{Field: "logging.format", Reason: fmt.Sprintf("unknown format %q", c.Logging.Format)}
	}

	if c.Viewer.UpdateInterval <= 0 {
		return &ConfigError{Field: "viewer.update_interval", Reason: "must be positive"}
	}

	return nil
}

// Validate checks the rule thresholds and allow-lists
func (d *DetectionConfig) Validate() error {
	if d.LowDurationSeconds < 0 {
		return &ConfigError{Field: "detection.low_duration_seconds", Reason: "must not be negative"}
	}
	if d.HighDurationSeconds < 0 {
		return &ConfigError{Field: "detection.high_duration_seconds", Reason: "must not be negative"}
	}
	if d.LowDurationSeconds > d.HighDurationSeconds {
		return &ConfigError{Field: "detection.low_duration_seconds", Reason: "must not exceed high_duration_seconds"}
	}
	if d.PortThreshold < 0 || d.PortThreshold > 65535 {
		return &ConfigError{Field: "detection.port_threshold", Reason: fmt.Sprintf("port %d out of range", d.PortThreshold)}
	}
	if d.VolumeThreshold < 0 {
		return &ConfigError{Field: "detection.volume_threshold", Reason: "must not be negative"}
	}
	if len(d.AllowedProtocols) == 0 {
		return &ConfigError{Field: "detection.allowed_protocols", Reason: "allow-list must not be empty"}
	}
	for _, proto := range d.AllowedProtocols {
		if proto == "" {
			return &ConfigError{Field: "detection.allowed_protocols", Reason: "allow-list entry must not be empty"}
		}
	}
	if d.ExpectedSuccessState == "" {
		return &ConfigError{Field: "detection.expected_success_state", Reason: "must not be empty"}
	}
	return nil
}
