package telemetry

import (
	"fmt"
	"net/url"
	"time"

	"github.com/fyrsmithlabs/otelboot/internal/config"
)

// Exporter protocols.
const (
	ProtocolGRPC         = "grpc"
	ProtocolHTTPProtobuf = "http/protobuf"
)

// MetricExportInterval is how often the periodic reader pushes metrics.
const MetricExportInterval = 5000 * time.Millisecond

// Config holds telemetry configuration.
type Config struct {
	Enabled            bool                  `koanf:"enabled"`
	ServiceName        string                `koanf:"service_name"`
	ServiceVersion     string                `koanf:"service_version"`
	ResourceAttributes map[string]string     `koanf:"resource_attributes"`
	Traces             ExporterConfig        `koanf:"traces"`
	Metrics            ExporterConfig        `koanf:"metrics"`
	Logs               ExporterConfig        `koanf:"logs"` // empty URL turns log export off
	Instrumentation    InstrumentationConfig `koanf:"instrumentation"`
	Shutdown           ShutdownConfig        `koanf:"shutdown"`
}

// ExporterConfig describes one OTLP exporter.
type ExporterConfig struct {
	// URL is the full collector URL, e.g. http://collector:4317 for gRPC or
	// http://collector:4318/v1/metrics for HTTP. An http scheme means plaintext.
	URL           string                   `koanf:"url"`
	Protocol      string                   `koanf:"protocol"`
	Headers       map[string]config.Secret `koanf:"headers"`
	Timeout       config.Duration          `koanf:"timeout"`
	TLSSkipVerify bool                     `koanf:"tls_skip_verify"`
}

// InstrumentationConfig selects the probes started with the pipeline.
type InstrumentationConfig struct {
	Runtime    bool                `koanf:"runtime"`
	HTTPClient bool                `koanf:"http_client"`
	Database   DatabaseProbeConfig `koanf:"database"`
}

// DatabaseProbeConfig configures the single relational database probe.
type DatabaseProbeConfig struct {
	Enabled bool   `koanf:"enabled"`
	Driver  string `koanf:"driver"` // database/sql driver name to wrap
	System  string `koanf:"system"` // db.system attribute value
}

// ShutdownConfig controls graceful shutdown behavior.
type ShutdownConfig struct {
	Timeout config.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns the stock bootstrap configuration.
// Telemetry stays disabled until MONITORING_ENABLED=true or the config file enables it.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		ServiceName:    "api",
		ServiceVersion: "1.0",
		Traces: ExporterConfig{
			URL:      "http://localhost:4317",
			Protocol: ProtocolGRPC,
			Timeout:  config.Duration(10 * time.Second),
		},
		Metrics: ExporterConfig{
			URL:      "http://localhost:4318/v1/metrics",
			Protocol: ProtocolHTTPProtobuf,
			Timeout:  config.Duration(10 * time.Second),
		},
		Logs: ExporterConfig{
			URL:      "http://localhost:4318/v1/logs",
			Protocol: ProtocolHTTPProtobuf,
			Timeout:  config.Duration(10 * time.Second),
		},
		Instrumentation: InstrumentationConfig{
			Runtime:    true,
			HTTPClient: true,
			Database: DatabaseProbeConfig{
				Enabled: true,
				Driver:  "pgx",
				System:  "postgresql",
			},
		},
		Shutdown: ShutdownConfig{
			Timeout: config.Duration(5 * time.Second),
		},
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil // No validation needed if disabled
	}

	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required when telemetry is enabled")
	}
	if err := c.Traces.validate("traces"); err != nil {
		return err
	}
	if err := c.Metrics.validate("metrics"); err != nil {
		return err
	}
	if c.Logs.URL != "" {
		if err := c.Logs.validate("logs"); err != nil {
			return err
		}
	}
	if c.Instrumentation.Database.Enabled {
		if c.Instrumentation.Database.Driver == "" {
			return fmt.Errorf("instrumentation.database.driver is required when the database probe is enabled")
		}
	}
	if c.Shutdown.Timeout.Duration() <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive")
	}
	return nil
}

func (e *ExporterConfig) validate(signal string) error {
	if e.URL == "" {
		return fmt.Errorf("%s.url is required when telemetry is enabled", signal)
	}
	u, err := url.Parse(e.URL)
	if err != nil {
		return fmt.Errorf("%s.url is invalid: %w", signal, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s.url must use http or https, got %q", signal, e.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("%s.url must include a host, got %q", signal, e.URL)
	}
	switch e.protocol() {
	case ProtocolGRPC, ProtocolHTTPProtobuf:
	default:
		return fmt.Errorf("%s.protocol must be %q or %q, got %q", signal, ProtocolGRPC, ProtocolHTTPProtobuf, e.Protocol)
	}
	if e.Timeout.Duration() < 0 {
		return fmt.Errorf("%s.timeout must not be negative", signal)
	}
	return nil
}

func (e *ExporterConfig) protocol() string {
	if e.Protocol == "" {
		return ProtocolGRPC
	}
	return e.Protocol
}

func (e *ExporterConfig) headers() map[string]string {
	if len(e.Headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.Headers))
	for k, v := range e.Headers {
		out[k] = v.Value()
	}
	return out
}
