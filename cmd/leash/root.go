package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/torosent/leash/internal/client"
	"github.com/torosent/leash/internal/config"
	"github.com/torosent/leash/internal/environment"
	"github.com/torosent/leash/internal/logging"
	"github.com/torosent/leash/internal/metrics"
	"github.com/torosent/leash/internal/settings"
	"github.com/torosent/leash/internal/tracing"
	"github.com/torosent/leash/internal/transport"
)

const shutdownTimeout = 5 * time.Second

// app holds what every subcommand shares once flags are parsed.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	env     *environment.Visibility
	client  *client.Client
	tracer  *tracing.Provider
	metrics *metrics.Collector
	stdout  io.Writer
	stderr  io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "leash",
		Short:         "Resource-bounded HTTP client for Consul-style APIs",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	config.RegisterFlags(root)
	root.AddCommand(newRequestCmd(a), newWatchCmd(a), newTokenCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.NewLoader().LoadFlags(cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.stdout = cmd.OutOrStdout()
	a.stderr = cmd.ErrOrStderr()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, a.stderr)
	if err != nil {
		return err
	}
	a.logger = logger

	a.tracer, err = tracing.Init(cmd.Context(), cfg.Tracing)
	if err != nil {
		return err
	}

	base, err := cfg.BaseURL()
	if err != nil {
		return err
	}
	opts := []transport.HTTPOption{
		transport.WithTimeout(cfg.Timeout),
		transport.WithLogger(logger),
	}
	if base != nil {
		opts = append(opts, transport.WithBaseURL(base))
	}
	tr := transport.NewHTTPTransport(transport.NewClient(cfg.MaxConnections), opts...)

	var limiter *rate.Limiter
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}

	a.env = environment.NewVisibility()
	a.metrics = metrics.NewCollector()
	a.client, err = client.New(client.Options{
		Transport:      tr,
		Tokens:         tokenStore(cfg),
		Environment:    a.env,
		MaxConnections: cfg.MaxConnections,
		TokenHeader:    cfg.TokenHeader,
		DefaultHeaders: cfg.Headers,
		Limiter:        limiter,
		Tracer:         a.tracer,
		Metrics:        a.metrics,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	logger.Debug("client ready",
		"address", cfg.Address,
		"max_connections", cfg.MaxConnections,
		"timeout", cfg.Timeout,
		"tracing", cfg.Tracing.Enabled(),
	)
	return nil
}

// runE wraps a subcommand so the client and tracer are released however it
// returns.
func (a *app) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if terr := a.teardown(); err == nil {
				err = terr
			}
		}()
		return fn(cmd, args)
	}
}

func (a *app) teardown() error {
	if a.client != nil {
		a.client.Close()
	}
	if a.tracer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.tracer.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracing shutdown: %w", err)
	}
	return nil
}

// tokenStore resolves the token from, in order, the literal flag, the named
// environment variable and the settings file.
func tokenStore(cfg *config.Config) settings.TokenStore {
	var chain settings.Chain
	if cfg.Token != "" {
		chain = append(chain, settings.NewStaticStore(cfg.Token))
	}
	if cfg.TokenEnv != "" {
		chain = append(chain, settings.NewEnvStore(cfg.TokenEnv))
	}
	if cfg.TokenFile != "" {
		chain = append(chain, settings.NewFileStore(cfg.TokenFile))
	}
	return chain
}

func retryPolicy(cfg *config.Config) client.RetryPolicy {
	return client.RetryPolicy{
		MaxAttempts: cfg.Retries + 1,
		DelayFunc:   backoff,
	}
}

// backoff doubles from baseRetryDelay up to maxRetryDelay.
func backoff(attempt int, _ error) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return maxRetryDelay
	}
	delay := baseRetryDelay << (attempt - 1)
	if delay <= 0 || delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

const (
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)
