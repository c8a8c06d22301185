package config

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers the client flags as persistent flags on cmd so every
// subcommand accepts them.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.PersistentFlags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "leash",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	configureFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Connection flags
	flags.StringP("address", "a", "", "Base address that relative request URLs resolve against")
	flags.Int("max-connections", 0, "Maximum simultaneously open connections (0 means unlimited)")
	flags.Duration("timeout", DefaultTimeout, "Per-request timeout (0 disables it)")
	flags.IntP("rate", "r", 0, "Requests per second limit (0 means unlimited)")
	flags.Int("burst", 0, "Burst size for the rate limiter (defaults to 1)")
	flags.Int("retries", 0, "Times to re-issue a request that was aborted")

	// Token flags
	flags.String("token", "", "ACL token secret")
	flags.String("token-file", "", "Settings file holding the ACL token")
	flags.String("token-env", "", "Environment variable holding the ACL token")
	flags.String("token-header", DefaultTokenHeader, "Header the token is sent in")
	flags.StringSliceP("header", "H", nil, "Default request header in key=value form")

	// Logging flags
	flags.String("log-level", DefaultLogLevel, "Log level: debug, info, warn or error")
	flags.String("log-format", DefaultLogFormat, "Log format: text or json")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported with spans")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of requests traced (0.0 to 1.0)")
	flags.Bool("tracing-insecure", false, "Disable TLS to the collector")
	flags.Bool("tracing-propagate", true, "Inject W3C trace context headers")
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file and environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("address") {
		val, err := fs.GetString("address")
		if err != nil {
			return err
		}
		cfg.Address = strings.TrimSpace(val)
	}
	if fs.Changed("max-connections") {
		val, err := fs.GetInt("max-connections")
		if err != nil {
			return err
		}
		cfg.MaxConnections = val
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("rate") {
		val, err := fs.GetInt("rate")
		if err != nil {
			return err
		}
		cfg.Rate = val
	}
	if fs.Changed("burst") {
		val, err := fs.GetInt("burst")
		if err != nil {
			return err
		}
		cfg.Burst = val
	}
	if fs.Changed("retries") {
		val, err := fs.GetInt("retries")
		if err != nil {
			return err
		}
		cfg.Retries = val
	}
	if fs.Changed("token") {
		val, err := fs.GetString("token")
		if err != nil {
			return err
		}
		cfg.Token = val
		cfg.TokenFile = ""
	}
	if fs.Changed("token-file") {
		val, err := fs.GetString("token-file")
		if err != nil {
			return err
		}
		cfg.TokenFile = strings.TrimSpace(val)
		cfg.Token = ""
	}
	if fs.Changed("token-env") {
		val, err := fs.GetString("token-env")
		if err != nil {
			return err
		}
		cfg.TokenEnv = strings.TrimSpace(val)
	}
	if fs.Changed("token-header") {
		val, err := fs.GetString("token-header")
		if err != nil {
			return err
		}
		cfg.TokenHeader = http.CanonicalHeaderKey(strings.TrimSpace(val))
	}
	if fs.Changed("header") {
		vals, err := fs.GetStringSlice("header")
		if err != nil {
			return err
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, entry := range vals {
			key, value, ok := strings.Cut(entry, "=")
			if !ok {
				return fmt.Errorf("header must be in key=value format: %s", entry)
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return fmt.Errorf("header key cannot be empty: %s", entry)
			}
			cfg.Headers[http.CanonicalHeaderKey(key)] = strings.TrimSpace(value)
		}
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(val))
	}
	return applyTracingFlags(&cfg.Tracing, fs)
}

func applyTracingFlags(t *TracingConfig, fs *pflag.FlagSet) error {
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		t.ServiceName = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		t.SampleRate = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		t.Insecure = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		t.Propagate = &val
	}
	return nil
}
