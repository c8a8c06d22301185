package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/leash/internal/config"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Address != "" {
		t.Errorf("Address = %q, want empty", cfg.Address)
	}
	if cfg.MaxConnections != 0 {
		t.Errorf("MaxConnections = %d, want 0", cfg.MaxConnections)
	}
	if cfg.Timeout != config.DefaultTimeout {
		t.Errorf("Timeout = %s, want %s", cfg.Timeout, config.DefaultTimeout)
	}
	if cfg.TokenHeader != "X-Consul-Token" {
		t.Errorf("TokenHeader = %q, want X-Consul-Token", cfg.TokenHeader)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("log = %s/%s, want info/text", cfg.LogLevel, cfg.LogFormat)
	}
	if len(cfg.Headers) != 0 {
		t.Errorf("Headers len = %d, want 0", len(cfg.Headers))
	}
	if cfg.Tracing.SampleRate != 1.0 {
		t.Errorf("Tracing.SampleRate = %g, want 1", cfg.Tracing.SampleRate)
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{
		"address": "https://consul.example.com",
		"max_connections": 6,
		"timeout": "45s",
		"token": "abc",
		"headers": {"X-Source": "ui"},
		"rate": 10,
		"burst": 5,
		"retries": 2,
		"log_level": "debug",
		"tracing": {"endpoint": "otel:4318", "protocol": "http"}
	}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, path)
	}
	if cfg.Address != "https://consul.example.com" {
		t.Errorf("Address = %q", cfg.Address)
	}
	if cfg.MaxConnections != 6 {
		t.Errorf("MaxConnections = %d, want 6", cfg.MaxConnections)
	}
	if cfg.Timeout != 45*time.Second {
		t.Errorf("Timeout = %s, want 45s", cfg.Timeout)
	}
	if cfg.Token != "abc" {
		t.Errorf("Token = %q, want abc", cfg.Token)
	}
	if cfg.Headers["X-Source"] != "ui" {
		t.Errorf("Headers = %v", cfg.Headers)
	}
	if cfg.Rate != 10 || cfg.Burst != 5 || cfg.Retries != 2 {
		t.Errorf("Rate/Burst/Retries = %d/%d/%d, want 10/5/2", cfg.Rate, cfg.Burst, cfg.Retries)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Tracing.Endpoint != "otel:4318" || cfg.Tracing.Protocol != "http" {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`
address: 127.0.0.1:8500
max_connections: 4
token_file: /tmp/settings.yaml
log_format: json
tracing:
  sample_rate: 0.5
  insecure: true
`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	u, err := cfg.BaseURL()
	if err != nil {
		t.Fatalf("BaseURL() error = %v", err)
	}
	if u.String() != "http://127.0.0.1:8500" {
		t.Errorf("BaseURL() = %q, want http://127.0.0.1:8500", u)
	}
	if cfg.MaxConnections != 4 || cfg.TokenFile != "/tmp/settings.yaml" || cfg.LogFormat != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Tracing.SampleRate != 0.5 || !cfg.Tracing.Insecure {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})
	if err == nil {
		t.Fatal("Load() error = nil, want missing file error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Run("prefixed", func(t *testing.T) {
		t.Setenv("LEASH_MAX_CONNECTIONS", "8")
		t.Setenv("LEASH_TIMEOUT", "2m")
		t.Setenv("LEASH_TRACING_ENDPOINT", "collector:4317")

		cfg, err := config.NewLoader().Load(nil)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.MaxConnections != 8 {
			t.Errorf("MaxConnections = %d, want 8", cfg.MaxConnections)
		}
		if cfg.Timeout != 2*time.Minute {
			t.Errorf("Timeout = %s, want 2m", cfg.Timeout)
		}
		if cfg.Tracing.Endpoint != "collector:4317" {
			t.Errorf("Tracing.Endpoint = %q", cfg.Tracing.Endpoint)
		}
	})

	t.Run("legacy max connections", func(t *testing.T) {
		t.Setenv("CONSUL_HTTP_MAX_CONNECTIONS", "5")

		cfg, err := config.NewLoader().Load(nil)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.MaxConnections != 5 {
			t.Errorf("MaxConnections = %d, want 5", cfg.MaxConnections)
		}
	})

	t.Run("prefixed beats legacy", func(t *testing.T) {
		t.Setenv("LEASH_MAX_CONNECTIONS", "3")
		t.Setenv("CONSUL_HTTP_MAX_CONNECTIONS", "5")

		cfg, err := config.NewLoader().Load(nil)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.MaxConnections != 3 {
			t.Errorf("MaxConnections = %d, want 3", cfg.MaxConnections)
		}
	})

	t.Run("flag beats env", func(t *testing.T) {
		t.Setenv("LEASH_MAX_CONNECTIONS", "3")

		cfg, err := config.NewLoader().Load([]string{"--max-connections", "7"})
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.MaxConnections != 7 {
			t.Errorf("MaxConnections = %d, want 7", cfg.MaxConnections)
		}
	})
}

func TestLoadHelp(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--help"})
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Errorf("Load(--help) error = %v, want ErrHelpRequested", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"negative max connections", func(c *config.Config) { c.MaxConnections = -1 }, "max_connections"},
		{"negative rate", func(c *config.Config) { c.Rate = -1 }, "rate"},
		{"bad scheme", func(c *config.Config) { c.Address = "ftp://host" }, "scheme"},
		{"token and file", func(c *config.Config) { c.Token, c.TokenFile = "a", "b" }, "mutually exclusive"},
		{"empty token header", func(c *config.Config) { c.TokenHeader = "" }, "token_header"},
		{"log level", func(c *config.Config) { c.LogLevel = "loud" }, "log_level"},
		{"log format", func(c *config.Config) { c.LogFormat = "xml" }, "log_format"},
		{"sample rate", func(c *config.Config) { c.Tracing.SampleRate = 2 }, "sample_rate"},
		{"tracing protocol", func(c *config.Config) { c.Tracing.Protocol = "thrift" }, "tracing.protocol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			var verr config.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error type = %T, want ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %q, want mention of %q", err, tt.want)
			}
			if len(verr.Issues()) == 0 {
				t.Error("Issues() empty")
			}
		})
	}

	if err := config.Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestTracingConfig(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	var tc config.TracingConfig
	if tc.Enabled() || tc.ShouldPropagate() {
		t.Error("zero TracingConfig enabled, want disabled")
	}
	tc.Endpoint = "localhost:4317"
	if !tc.Enabled() || !tc.ShouldPropagate() {
		t.Error("TracingConfig with endpoint disabled, want enabled")
	}
	off := false
	tc.Propagate = &off
	if tc.ShouldPropagate() {
		t.Error("ShouldPropagate() = true with explicit false")
	}
}
