// Package config loads client settings from flags, environment variables and
// an optional JSON or YAML file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	DefaultTimeout     = 5 * time.Minute
	DefaultTokenHeader = "X-Consul-Token"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
)

type Config struct {
	Address        string            `mapstructure:"address"`
	MaxConnections int               `mapstructure:"max_connections"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	Token          string            `mapstructure:"token"`
	TokenFile      string            `mapstructure:"token_file"`
	TokenEnv       string            `mapstructure:"token_env"`
	TokenHeader    string            `mapstructure:"token_header"`
	Headers        map[string]string `mapstructure:"headers"`
	Rate           int               `mapstructure:"rate"`
	Burst          int               `mapstructure:"burst"`
	Retries        int               `mapstructure:"retries"`
	LogLevel       string            `mapstructure:"log_level"`
	LogFormat      string            `mapstructure:"log_format"`
	Tracing        TracingConfig     `mapstructure:"tracing"`
	ConfigFile     string            `mapstructure:"-"`
}

// TracingConfig configures OpenTelemetry export. Tracing is enabled when an
// endpoint is set here or through OTEL_EXPORTER_OTLP_ENDPOINT.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"`
}

func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether W3C trace headers are injected. An explicit
// Propagate value wins; otherwise propagation follows Enabled.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Timeout:     DefaultTimeout,
		TokenHeader: DefaultTokenHeader,
		Headers:     map[string]string{},
		LogLevel:    DefaultLogLevel,
		LogFormat:   DefaultLogFormat,
		Tracing:     TracingConfig{SampleRate: 1.0},
	}
}

// BaseURL parses Address. An empty address yields nil.
func (c Config) BaseURL() (*url.URL, error) {
	addr := strings.TrimSpace(c.Address)
	if addr == "" {
		return nil, nil
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("address: %w", err)
	}
	return u, nil
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if addr := strings.TrimSpace(c.Address); addr != "" {
		u, err := c.BaseURL()
		if err != nil || u.Host == "" {
			issues = append(issues, fmt.Sprintf("address %q is not a valid URL", addr))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			issues = append(issues, fmt.Sprintf("address scheme must be http or https, got %q", u.Scheme))
		}
	}
	if c.MaxConnections < 0 {
		issues = append(issues, "max_connections must be >= 0")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if c.Burst < 0 {
		issues = append(issues, "burst must be >= 0")
	}
	if c.Retries < 0 {
		issues = append(issues, "retries must be >= 0")
	}
	if strings.TrimSpace(c.TokenHeader) == "" {
		issues = append(issues, "token_header must not be empty")
	}
	if c.Token != "" && c.TokenFile != "" {
		issues = append(issues, "token and token_file are mutually exclusive")
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		issues = append(issues, fmt.Sprintf("log_format must be text or json, got %q", c.LogFormat))
	}

	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateTracingConfig(t TracingConfig) []string {
	var issues []string
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing.sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing.protocol must be grpc or http, got %q", t.Protocol))
	}
	return issues
}
