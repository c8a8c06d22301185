package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LEASH_MAX_CONNECTIONS.
const EnvPrefix = "LEASH"

// Loader handles loading configuration from files, environment and flags.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// settingKeys lists every key that may come from a file or the environment.
var settingKeys = []string{
	"address", "max_connections", "timeout",
	"token", "token_file", "token_env", "token_header", "headers",
	"rate", "burst", "retries", "log_level", "log_format",
	"tracing.endpoint", "tracing.protocol", "tracing.service_name",
	"tracing.sample_rate", "tracing.insecure", "tracing.propagate",
}

// legacyEnv maps keys to environment variables honoured after the prefixed one.
var legacyEnv = map[string][]string{
	"max_connections": {"CONSUL_HTTP_MAX_CONNECTIONS"},
}

func NewLoader() *Loader {
	return &Loader{}
}

// Load parses args with the full flag set and returns a validated Config.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, ErrHelpRequested
		}
		return nil, err
	}
	return l.LoadFlags(cmd.Flags())
}

// LoadFlags builds a Config from an already parsed flag set. Precedence from
// lowest to highest: defaults, config file, environment, changed flags.
func (Loader) LoadFlags(fs *pflag.FlagSet) (*Config, error) {
	var configPath string
	if f := fs.Lookup("config"); f != nil {
		configPath = strings.TrimSpace(f.Value.String())
	}

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}
	for _, key := range settingKeys {
		names := append([]string{envName(key)}, legacyEnv[key]...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, v.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, fs); err != nil {
		return nil, err
	}

	cfg.Address = strings.TrimSpace(cfg.Address)
	cfg.TokenHeader = http.CanonicalHeaderKey(strings.TrimSpace(cfg.TokenHeader))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// settingField binds a file or environment key, with its accepted spellings,
// to the Config field it fills.
type settingField struct {
	keys   []string
	target func(*Config) any
	// keepDefault leaves the default in place when the value is empty.
	keepDefault bool
}

var configFields = []settingField{
	{keys: []string{"address"}, target: func(c *Config) any { return &c.Address }},
	{keys: []string{"max_connections", "maxconnections", "max-connections"}, target: func(c *Config) any { return &c.MaxConnections }},
	{keys: []string{"timeout"}, target: func(c *Config) any { return &c.Timeout }},
	{keys: []string{"token"}, target: func(c *Config) any { return &c.Token }},
	{keys: []string{"token_file", "tokenfile", "token-file"}, target: func(c *Config) any { return &c.TokenFile }},
	{keys: []string{"token_env", "tokenenv", "token-env"}, target: func(c *Config) any { return &c.TokenEnv }},
	{keys: []string{"token_header", "tokenheader", "token-header"}, target: func(c *Config) any { return &c.TokenHeader }, keepDefault: true},
	{keys: []string{"rate"}, target: func(c *Config) any { return &c.Rate }},
	{keys: []string{"burst"}, target: func(c *Config) any { return &c.Burst }},
	{keys: []string{"retries"}, target: func(c *Config) any { return &c.Retries }},
	{keys: []string{"log_level", "loglevel", "log-level"}, target: func(c *Config) any { return &c.LogLevel }, keepDefault: true},
	{keys: []string{"log_format", "logformat", "log-format"}, target: func(c *Config) any { return &c.LogFormat }, keepDefault: true},
}

var tracingFields = []struct {
	keys   []string
	target func(*TracingConfig) any
}{
	{[]string{"endpoint"}, func(t *TracingConfig) any { return &t.Endpoint }},
	{[]string{"protocol"}, func(t *TracingConfig) any { return &t.Protocol }},
	{[]string{"service_name", "servicename", "service-name"}, func(t *TracingConfig) any { return &t.ServiceName }},
	{[]string{"sample_rate", "samplerate", "sample-rate"}, func(t *TracingConfig) any { return &t.SampleRate }},
	{[]string{"insecure"}, func(t *TracingConfig) any { return &t.Insecure }},
	{[]string{"propagate"}, func(t *TracingConfig) any { return &t.Propagate }},
}

// applyConfigSettings applies settings from a config file or the environment.
func applyConfigSettings(cfg *Config, settings map[string]any) error {
	if len(settings) == 0 {
		return nil
	}

	for _, f := range configFields {
		raw, ok := lookup(settings, f.keys...)
		if !ok {
			continue
		}
		if f.keepDefault {
			if s, isString := raw.(string); isString && strings.TrimSpace(s) == "" {
				continue
			}
		}
		if err := decodeSetting(raw, f.target(cfg)); err != nil {
			return fmt.Errorf("%s: %w", f.keys[0], err)
		}
	}

	if raw, ok := lookup(settings, "headers"); ok {
		var hdrs map[string]string
		if err := decodeSetting(raw, &hdrs); err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range hdrs {
			if strings.TrimSpace(k) == "" {
				return fmt.Errorf("headers: header name cannot be empty")
			}
			cfg.Headers[http.CanonicalHeaderKey(strings.TrimSpace(k))] = v
		}
	}

	if raw, ok := lookup(settings, "tracing"); ok {
		if err := applyTracingSettings(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}
	return nil
}

func applyTracingSettings(t *TracingConfig, value any) error {
	settings, err := cast.ToStringMapE(value)
	if err != nil {
		return err
	}
	for _, f := range tracingFields {
		raw, ok := lookup(settings, f.keys...)
		if !ok {
			continue
		}
		if err := decodeSetting(raw, f.target(t)); err != nil {
			return fmt.Errorf("%s: %w", f.keys[0], err)
		}
	}
	t.Protocol = strings.ToLower(t.Protocol)
	return nil
}
