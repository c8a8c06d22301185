package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestDecodeSetting(t *testing.T) {
	var (
		str  string
		num  int
		rate float64
		flag bool
		opt  *bool
		dur  time.Duration
		hdrs map[string]string
	)
	tests := []struct {
		name  string
		raw   any
		dst   any
		check func() bool
	}{
		{"string trimmed", "  http://consul:8500 ", &str, func() bool { return str == "http://consul:8500" }},
		{"string from number", 123, &str, func() bool { return str == "123" }},
		{"int from string", "456", &num, func() bool { return num == 456 }},
		{"int from float", float64(10), &num, func() bool { return num == 10 }},
		{"int empty string", " ", &num, func() bool { return num == 0 }},
		{"float from string", "0.25", &rate, func() bool { return rate == 0.25 }},
		{"bool from string", "true", &flag, func() bool { return flag }},
		{"optional bool", false, &opt, func() bool { return opt != nil && !*opt }},
		{"duration string", "1m", &dur, func() bool { return dur == time.Minute }},
		{"duration bare seconds", "90", &dur, func() bool { return dur == 90*time.Second }},
		{"duration int seconds", 10, &dur, func() bool { return dur == 10*time.Second }},
		{"duration value", time.Second, &dur, func() bool { return dur == time.Second }},
		{"string map", map[string]any{"x-a": 1}, &hdrs, func() bool { return hdrs["x-a"] == "1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := decodeSetting(tt.raw, tt.dst); err != nil {
				t.Fatalf("decodeSetting(%v) error = %v", tt.raw, err)
			}
			if !tt.check() {
				t.Errorf("decodeSetting(%v) stored the wrong value", tt.raw)
			}
		})
	}
}

func TestDecodeSettingErrors(t *testing.T) {
	var (
		num  int
		dur  time.Duration
		hdrs map[string]string
	)
	tests := []struct {
		name string
		raw  any
		dst  any
	}{
		{"int", "many", &num},
		{"duration", "soon", &dur},
		{"map", []any{"x"}, &hdrs},
		{"unsupported target", "x", new(complex128)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := decodeSetting(tt.raw, tt.dst); err == nil {
				t.Errorf("decodeSetting(%v) error = nil, want error", tt.raw)
			}
		})
	}
}

func TestApplyConfigSettingsKeepsDefaults(t *testing.T) {
	cfg := Default()
	if err := applyConfigSettings(cfg, map[string]any{"log_level": "", "token_header": " "}); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}
	if cfg.LogLevel != DefaultLogLevel || cfg.TokenHeader != DefaultTokenHeader {
		t.Errorf("defaults overwritten: level=%q header=%q", cfg.LogLevel, cfg.TokenHeader)
	}
}

func TestApplyConfigSettings(t *testing.T) {
	cfg := Default()
	settings := map[string]any{
		"address":         "http://127.0.0.1:8500",
		"max_connections": 6,
		"timeout":         "5s",
		"token_header":    "Authorization",
		"headers": map[string]any{
			"x-request-source": "ui",
		},
		"tracing": map[string]any{
			"endpoint":    "localhost:4317",
			"sample_rate": 0.25,
			"propagate":   false,
		},
	}

	if err := applyConfigSettings(cfg, settings); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}

	if cfg.Address != "http://127.0.0.1:8500" {
		t.Errorf("Address = %q", cfg.Address)
	}
	if cfg.MaxConnections != 6 {
		t.Errorf("MaxConnections = %d, want 6", cfg.MaxConnections)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if cfg.TokenHeader != "Authorization" {
		t.Errorf("TokenHeader = %q, want Authorization", cfg.TokenHeader)
	}
	if cfg.Headers["X-Request-Source"] != "ui" {
		t.Errorf("Headers = %v, want canonical X-Request-Source", cfg.Headers)
	}
	if cfg.Tracing.Endpoint != "localhost:4317" || cfg.Tracing.SampleRate != 0.25 {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
	if cfg.Tracing.ShouldPropagate() {
		t.Error("ShouldPropagate() = true, want false")
	}
}

func TestApplyConfigSettingsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
	}{
		{"max_connections", map[string]any{"max_connections": "many"}},
		{"timeout", map[string]any{"timeout": "soon"}},
		{"headers", map[string]any{"headers": []any{"x"}}},
		{"tracing", map[string]any{"tracing": "on"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := applyConfigSettings(Default(), tt.settings); err == nil {
				t.Errorf("applyConfigSettings(%v) error = nil, want error", tt.settings)
			}
		})
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := Default()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	configureFlags(fs)

	args := []string{
		"--max-connections=4",
		"--token-header=x-custom-token",
		"--header=x-test=123",
		"--tracing-propagate=false",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if err := applyFlagOverrides(cfg, fs); err != nil {
		t.Fatalf("applyFlagOverrides() error = %v", err)
	}

	if cfg.MaxConnections != 4 {
		t.Errorf("MaxConnections = %d, want 4", cfg.MaxConnections)
	}
	if cfg.TokenHeader != "X-Custom-Token" {
		t.Errorf("TokenHeader = %q, want X-Custom-Token", cfg.TokenHeader)
	}
	if cfg.Headers["X-Test"] != "123" {
		t.Errorf("Headers[X-Test] = %q, want 123", cfg.Headers["X-Test"])
	}
	if cfg.Tracing.Propagate == nil || *cfg.Tracing.Propagate {
		t.Errorf("Tracing.Propagate = %v, want false", cfg.Tracing.Propagate)
	}
}

func TestApplyFlagOverridesBadHeader(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	configureFlags(fs)
	if err := fs.Parse([]string{"--header=novalue"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := applyFlagOverrides(Default(), fs); err == nil {
		t.Error("applyFlagOverrides() error = nil, want key=value error")
	}
}

func TestEnvName(t *testing.T) {
	if got := envName("tracing.sample_rate"); got != "LEASH_TRACING_SAMPLE_RATE" {
		t.Errorf("envName() = %q", got)
	}
}
