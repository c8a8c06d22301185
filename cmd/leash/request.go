package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/torosent/leash/internal/client"
	"github.com/torosent/leash/internal/extractor"
	"github.com/torosent/leash/internal/output"
	"github.com/torosent/leash/internal/sse"
)

type requestOptions struct {
	file     string
	vars     []string
	include  bool
	selector string
	extract  []string
	stats    bool
	json     bool
}

func newRequestCmd(a *app) *cobra.Command {
	var opts requestOptions
	cmd := &cobra.Command{
		Use:   "request [LINE...]",
		Short: "Issue one templated request",
		Long: `Issue one templated request. Arguments are joined with newlines into a
request template: the first line is "METHOD URL", following lines are headers,
and a blank line introduces the body. {{name}} placeholders are filled from
--var; a placeholder after the blank line contributes to the body.

  leash request 'PUT /v1/kv/{{key}}' '' '{{body}}' --var key=app/config --var body='{"a":1}'`,
	}
	cmd.RunE = a.runE(func(cmd *cobra.Command, args []string) error {
		return a.runRequest(cmd.Context(), args, opts)
	})

	flags := cmd.Flags()
	flags.StringVarP(&opts.file, "file", "f", "", "Read the request template from a file (- for stdin)")
	flags.StringArrayVar(&opts.vars, "var", nil, "Template variable as name=value (repeatable)")
	flags.BoolVarP(&opts.include, "include", "i", false, "Print the status line and response headers")
	flags.StringVar(&opts.selector, "select", "", "Print only the value at this JSON path")
	flags.StringArrayVar(&opts.extract, "extract", nil, "Print name=path or name=~regex extractions (repeatable)")
	flags.BoolVar(&opts.stats, "stats", false, "Print client statistics to stderr when done")
	flags.BoolVar(&opts.json, "json", false, "Print statistics as JSON")
	return cmd
}

func (a *app) runRequest(ctx context.Context, args []string, opts requestOptions) error {
	text, err := readTemplate(args, opts.file, os.Stdin)
	if err != nil {
		return err
	}
	vars, err := parseVars(opts.vars)
	if err != nil {
		return err
	}
	tpl, err := buildTemplate(text, vars)
	if err != nil {
		return err
	}
	extractors := make([]extractor.Extractor, 0, len(opts.extract))
	for _, spec := range opts.extract {
		ex, err := extractor.Parse(spec)
		if err != nil {
			return err
		}
		extractors = append(extractors, ex)
	}

	if opts.stats {
		defer a.printStats(opts.json)
	}

	resp, err := a.client.Do(ctx, tpl, retryPolicy(a.cfg))
	if err != nil {
		return err
	}
	if opts.include {
		writeHead(a.stdout, resp)
	}
	return a.writeBody(ctx, resp.Body, opts, extractors)
}

func (a *app) printStats(asJSON bool) {
	stats := a.client.Stats()
	if asJSON {
		if err := output.PrintJSON(a.stderr, stats); err != nil {
			a.logger.Warn("failed to print stats", "error", err)
		}
		return
	}
	output.PrintReport(a.stderr, stats)
}

func (a *app) writeBody(ctx context.Context, body any, opts requestOptions, extractors []extractor.Extractor) error {
	if stream, ok := body.(*sse.Stream); ok {
		return a.drainStream(ctx, stream)
	}

	switch {
	case opts.selector != "":
		value, ok := extractor.Select(body, opts.selector)
		if !ok {
			return fmt.Errorf("path %q not found in response", opts.selector)
		}
		fmt.Fprintln(a.stdout, value)
	case len(extractors) > 0:
		data, err := extractor.Bytes(body)
		if err != nil {
			return err
		}
		values := extractor.ExtractAll(data, extractors, a.logger)
		for _, ex := range extractors {
			fmt.Fprintf(a.stdout, "%s=%s\n", ex.Name, values[ex.Name])
		}
	default:
		return writeValue(a.stdout, body)
	}
	return nil
}

func (a *app) drainStream(ctx context.Context, stream *sse.Stream) error {
	defer stream.Close()
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, sse.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if ev.Event != "" {
			fmt.Fprintf(a.stdout, "event: %s\n", ev.Event)
		}
		fmt.Fprintf(a.stdout, "data: %s\n\n", ev.Data)
	}
}

func readTemplate(args []string, file string, stdin io.Reader) (string, error) {
	if file == "" {
		if len(args) == 0 {
			return "", errors.New("a request template is required")
		}
		return strings.Join(args, "\n"), nil
	}
	if len(args) > 0 {
		return "", errors.New("use either --file or template arguments, not both")
	}
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	return string(data), nil
}

func writeHead(w io.Writer, resp *client.Response) {
	fmt.Fprintf(w, "HTTP %d\n", resp.StatusCode)
	names := make([]string, 0, len(resp.Headers))
	for name := range resp.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s: %s\n", name, resp.Headers[name])
	}
	fmt.Fprintln(w)
}

func writeValue(w io.Writer, body any) error {
	switch v := body.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		_, err := fmt.Fprintln(w, strings.TrimRight(v, "\n"))
		return err
	default:
		return output.PrintJSON(w, v)
	}
}
