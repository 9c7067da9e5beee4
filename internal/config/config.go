package config

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// Config represents the seqqueue configuration
type Config struct {
	// Executor
	Queue QueueConfig `json:"queue" mapstructure:"queue"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Prometheus endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// OpenTelemetry
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Path of the jobs file run by `seqqueue run`
	JobsFile string `json:"jobs_file" mapstructure:"jobs_file"`
}

// QueueConfig holds executor settings
type QueueConfig struct {
	Name             string `json:"name" mapstructure:"name"`
	DefaultTimeoutMs int    `json:"default_timeout_ms" mapstructure:"default_timeout_ms"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`

	// AuditFile receives one JSON line per job run and queue lifecycle change.
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// MetricsConfig holds the metrics listener configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// TracingConfig holds tracer provider settings
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			Name:             "main",
			DefaultTimeoutMs: 3000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "seqqueue",
		},
	}
}

// DefaultTimeout returns the executor default deadline. Non-positive values are passed
// through; the executor falls back to its own default for them.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Queue.DefaultTimeoutMs) * time.Millisecond
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Queue.Name == "" {
		return fmt.Errorf("queue.name is required")
	}
	if c.Queue.DefaultTimeoutMs < 0 {
		return fmt.Errorf("queue.default_timeout_ms must not be negative, got %d", c.Queue.DefaultTimeoutMs)
	}

	if c.Logging.Level != "" {
		if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr %q: %w", c.Metrics.Addr, err)
		}
	}

	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		return fmt.Errorf("tracing.service_name is required when tracing is enabled")
	}

	return nil
}
