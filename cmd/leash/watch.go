package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/torosent/leash/internal/client"
	"github.com/torosent/leash/internal/dashboard"
	"github.com/torosent/leash/internal/environment"
	"github.com/torosent/leash/internal/extractor"
	"github.com/torosent/leash/internal/reqtemplate"
	"github.com/torosent/leash/internal/sse"
	"github.com/torosent/leash/internal/tui"
)

const (
	defaultIndexHeader = "X-Consul-Index"
	indexVar           = "index"
)

type watchOptions struct {
	file        string
	vars        []string
	indexHeader string
	selector    string
	interval    time.Duration
	dashboard   bool
	interactive bool
}

func newWatchCmd(a *app) *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch [LINE...]",
		Short: "Re-issue a blocking query whenever its result changes",
		Long: `Re-issue a blocking query in a loop. The {{index}} placeholder carries the
last index header seen, starting at 0:

  leash watch 'GET /v1/catalog/services?index={{index}}&wait=5m'

Event-stream responses are printed as they arrive and reconnected when they
end. SIGUSR1 hides the environment, purging open connections; SIGUSR2 shows it
again and aborted requests restart.`,
	}
	cmd.RunE = a.runE(func(cmd *cobra.Command, args []string) error {
		return a.runWatch(cmd.Context(), args, opts)
	})

	flags := cmd.Flags()
	flags.StringVarP(&opts.file, "file", "f", "", "Read the request template from a file (- for stdin)")
	flags.StringArrayVar(&opts.vars, "var", nil, "Template variable as name=value (repeatable)")
	flags.StringVar(&opts.indexHeader, "index-header", defaultIndexHeader, "Response header carrying the blocking index")
	flags.StringVar(&opts.selector, "select", "", "Report only the value at this JSON path")
	flags.DurationVar(&opts.interval, "interval", 5*time.Second, "Delay between polls when no index header is returned")
	flags.BoolVar(&opts.dashboard, "dashboard", false, "Show a live dashboard")
	flags.BoolVar(&opts.interactive, "interactive", false, "Interactive view; terminal focus hides and shows the environment")
	cmd.MarkFlagsMutuallyExclusive("dashboard", "interactive")
	return cmd
}

func (a *app) runWatch(ctx context.Context, args []string, opts watchOptions) error {
	text, err := readTemplate(args, opts.file, os.Stdin)
	if err != nil {
		return err
	}
	vars, err := parseVars(opts.vars)
	if err != nil {
		return err
	}
	// Fail fast on missing placeholders before the loop starts.
	if _, err := buildTemplate(text, withVar(vars, indexVar, "0")); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	environment.WatchSignals(ctx, a.env, syscall.SIGUSR1, syscall.SIGUSR2)

	w := &watcher{
		client:      a.client,
		text:        text,
		vars:        vars,
		indexHeader: opts.indexHeader,
		selector:    opts.selector,
		interval:    opts.interval,
		hidden:      a.env.Hidden,
	}

	switch {
	case opts.dashboard:
		dash, err := dashboard.New(a.client, dashboard.Config{
			Target:      a.cfg.Address,
			Query:       firstLine(text),
			Timeout:     a.cfg.Timeout,
			Rate:        float64(a.cfg.Rate),
			ConfigFile:  a.cfg.ConfigFile,
			Environment: a.env,
			Toggle:      func() { a.env.SetHidden(!a.env.Hidden()) },
			Shutdown:    cancel,
		})
		if err != nil {
			return err
		}
		dash.Start()
		defer dash.Stop()
		w.emit = dash.Push
		w.status = dash.Push
		return w.run(ctx)

	case opts.interactive:
		msgs := make(chan tea.Msg, 64)
		send := func(msg tea.Msg) {
			select {
			case msgs <- msg:
			case <-ctx.Done():
			}
		}
		w.emit = func(line string) { send(tui.EventMsg(line)) }
		w.status = func(line string) { send(tui.StatusMsg(line)) }

		errc := make(chan error, 1)
		go func() { errc <- w.run(ctx) }()
		model := tui.NewModel(firstLine(text), a.env, cancel)
		if err := tui.Run(ctx, model, msgs); err != nil {
			return err
		}
		cancel()
		return <-errc

	default:
		w.emit = func(line string) { fmt.Fprintln(a.stdout, line) }
		w.status = func(line string) { a.logger.Info(line) }
		return w.run(ctx)
	}
}

type fetcher interface {
	Fetch(ctx context.Context, tpl reqtemplate.Template) (*client.Response, error)
	RestartWhenAvailable(ctx context.Context, err error) error
}

// watcher runs a blocking query loop.
type watcher struct {
	client      fetcher
	text        string
	vars        map[string]any
	indexHeader string
	selector    string
	interval    time.Duration
	emit        func(string)
	status      func(string)
	// hidden reports whether the environment is hidden; nil means never.
	hidden func() bool
	// delay overrides backoff.
	delay func(attempt int, err error) time.Duration
}

// run loops until ctx is done. Requests aborted because the environment was
// hidden are re-issued once it is visible again; every other failure, and a
// stream that ends without events, backs off exponentially.
func (w *watcher) run(ctx context.Context) error {
	index := "0"
	failures := 0
	retry := func(err error) bool {
		failures++
		return sleep(ctx, w.retryDelay(failures, err))
	}
	for ctx.Err() == nil {
		tpl, err := buildTemplate(w.text, withVar(w.vars, indexVar, index))
		if err != nil {
			return err
		}
		resp, err := w.client.Fetch(ctx, tpl)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			waited, rerr := w.awaitVisible(ctx, err)
			if rerr != nil {
				if ctx.Err() != nil {
					return nil
				}
				return rerr
			}
			if waited {
				failures = 0
				continue
			}
			w.status(fmt.Sprintf("request failed: %v", err))
			if !retry(err) {
				return nil
			}
			continue
		}

		if stream, ok := resp.Body.(*sse.Stream); ok {
			if w.follow(ctx, stream) > 0 {
				failures = 0
				continue
			}
			if ctx.Err() == nil && !retry(nil) {
				return nil
			}
			continue
		}
		failures = 0

		next, changed := nextIndex(index, resp.Headers[w.indexHeader])
		if changed || next == "" {
			w.emit(w.describe(resp.Body))
		}
		if next == "" {
			if !sleep(ctx, w.interval) {
				return nil
			}
			continue
		}
		index = next
		w.status(fmt.Sprintf("index %s", index))
	}
	return nil
}

// awaitVisible waits out an abort caused by the environment being hidden. It
// reports whether a wait actually happened.
func (w *watcher) awaitVisible(ctx context.Context, err error) (bool, error) {
	if !client.IsAbort(err) || w.hidden == nil || !w.hidden() {
		return false, nil
	}
	w.status("connection aborted, waiting for the environment")
	if rerr := w.client.RestartWhenAvailable(ctx, err); rerr != nil {
		return false, rerr
	}
	return !w.hidden(), nil
}

func (w *watcher) retryDelay(attempt int, err error) time.Duration {
	if w.delay != nil {
		return w.delay(attempt, err)
	}
	return backoff(attempt, err)
}

// follow emits stream events until the stream ends and returns how many it saw.
func (w *watcher) follow(ctx context.Context, stream *sse.Stream) int {
	defer stream.Close()
	w.status("stream open")
	events := 0
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if !errors.Is(err, sse.ErrClosed) && ctx.Err() == nil {
				w.status(fmt.Sprintf("stream error: %v", err))
			}
			return events
		}
		events++
		line := ev.Data
		if ev.Event != "" {
			line = ev.Event + ": " + line
		}
		w.emit(line)
	}
}

func (w *watcher) describe(body any) string {
	if w.selector != "" {
		if value, ok := extractor.Select(body, w.selector); ok {
			return value
		}
		return ""
	}
	data, err := extractor.Bytes(body)
	if err != nil {
		return fmt.Sprint(body)
	}
	return string(data)
}

// nextIndex returns the index for the next request and whether the result
// changed. An index that goes backwards resets to 0; an empty header yields
// an empty index.
func nextIndex(current, header string) (string, bool) {
	if header == "" {
		return "", true
	}
	if header == current {
		return current, false
	}
	next, err := strconv.ParseUint(header, 10, 64)
	if err != nil {
		return header, true
	}
	prev, err := strconv.ParseUint(current, 10, 64)
	if err == nil && next < prev {
		return "0", true
	}
	return header, true
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
