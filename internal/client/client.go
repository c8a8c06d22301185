// Package client issues templated HTTP requests through a bounded connection
// pool. When the host environment is hidden the pool is purged, and callers
// can wait for it to become visible again before re-issuing aborted requests.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/torosent/leash/internal/environment"
	"github.com/torosent/leash/internal/headers"
	"github.com/torosent/leash/internal/logging"
	"github.com/torosent/leash/internal/metrics"
	"github.com/torosent/leash/internal/pool"
	"github.com/torosent/leash/internal/reqtemplate"
	"github.com/torosent/leash/internal/request"
	"github.com/torosent/leash/internal/settings"
	"github.com/torosent/leash/internal/tracing"
	"github.com/torosent/leash/internal/transport"
	"github.com/torosent/leash/internal/urlbuilder"
)

// Options configures a Client. Transport is required.
type Options struct {
	Transport   transport.Transport
	Tokens      settings.TokenStore
	Environment environment.Environment
	// MaxConnections caps simultaneously open requests. Zero means no cap,
	// in which case hiding the environment does not purge the pool.
	MaxConnections int
	TokenHeader    string
	DefaultHeaders map[string]string
	Limiter        *rate.Limiter
	Tracer         *tracing.Provider
	Metrics        *metrics.Collector
	Logger         *slog.Logger
}

// Respond hands a response's headers and body to cb and returns cb's error.
type Respond func(cb func(headers map[string]string, body any) error) error

// Send issues the request described by a template.
type Send func(fragments []string, values ...any) (Respond, error)

// Response is a successful reply. Body is the decoded JSON value, the raw
// text, or an *sse.Stream for event-stream responses.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       any
}

func (r *Response) Respond(cb func(headers map[string]string, body any) error) error {
	return cb(r.Headers, r.Body)
}

// Stats is a snapshot of client activity.
type Stats struct {
	OpenConnections int                  `json:"open_connections"`
	MaxConnections  int                  `json:"max_connections"`
	Pool            metrics.PoolSnapshot `json:"pool"`
	Requests        *metrics.Stats       `json:"requests,omitempty"`
}

type Client struct {
	transport      transport.Transport
	tokens         settings.TokenStore
	env            environment.Environment
	pool           *pool.ConnectionPool
	counters       *metrics.PoolCounters
	maxConnections int
	tokenHeader    string
	defaults       map[string]string
	limiter        *rate.Limiter
	tracer         *tracing.Provider
	metrics        *metrics.Collector
	logger         *slog.Logger

	mu        sync.Mutex
	closed    bool
	done      chan struct{}
	hiddenSub environment.Subscription
}

func New(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, errors.New("client: transport is required")
	}
	if opts.MaxConnections < 0 {
		return nil, fmt.Errorf("client: max connections must be >= 0, got %d", opts.MaxConnections)
	}

	env := opts.Environment
	if env == nil {
		env = environment.NewVisibility()
	}
	tokenHeader := strings.TrimSpace(opts.TokenHeader)
	if tokenHeader == "" {
		tokenHeader = headers.DefaultTokenHeader
	}
	logger := logging.OrDiscard(opts.Logger)
	counters := &metrics.PoolCounters{}

	c := &Client{
		transport:      opts.Transport,
		tokens:         opts.Tokens,
		env:            env,
		counters:       counters,
		maxConnections: opts.MaxConnections,
		tokenHeader:    http.CanonicalHeaderKey(tokenHeader),
		defaults:       headers.Merge(opts.DefaultHeaders),
		limiter:        opts.Limiter,
		tracer:         opts.Tracer,
		metrics:        opts.Metrics,
		logger:         logger,
		done:           make(chan struct{}),
		pool: pool.NewConnectionPool(opts.MaxConnections, pool.StreamingDisposer{},
			pool.WithCounters(counters),
			pool.WithLogger(logger),
		),
	}

	if c.maxConnections > 0 {
		c.hiddenSub = env.Subscribe(func(e environment.Event) {
			if !e.Hidden {
				return
			}
			c.logger.Debug("environment hidden, purging connections", "open", c.pool.Len())
			c.pool.Purge()
		})
	}
	return c, nil
}

// Request runs build with a Send bound to ctx and returns build's error.
func (c *Client) Request(ctx context.Context, build func(send Send) error) error {
	send := func(fragments []string, values ...any) (Respond, error) {
		resp, err := c.Fetch(ctx, reqtemplate.New(fragments, values...))
		if err != nil {
			return nil, err
		}
		return resp.Respond, nil
	}
	return build(send)
}

// Fetch issues tpl and waits for the response headers. Event-stream
// responses stay in the pool until their stream is closed.
func (c *Client) Fetch(ctx context.Context, tpl reqtemplate.Template) (*Response, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	req, err := reqtemplate.Parse(tpl)
	if err != nil {
		return nil, err
	}

	token, err := c.findToken(ctx)
	if err != nil {
		return nil, err
	}

	requestHeaders := headers.Parse(req.HeaderLines)
	merged := headers.Merge(
		map[string]string{headers.ContentType: headers.JSONContentType},
		c.defaults,
		map[string]string{c.tokenHeader: token.SecretID},
		requestHeaders,
	)
	// Cache-Control is never sent; it is echoed back onto the response.
	cacheControl, echoCacheControl := requestHeaders[headers.CacheControl]
	delete(merged, headers.CacheControl)

	contentType := merged[headers.ContentType]
	target, payload := req.URL, req.Body
	if req.Method == http.MethodGet {
		if u, ok := appendQuery(req.URL, req.Body); ok {
			target, payload = u, nil
		}
	}
	body, err := encodeBody(req.Method, contentType, payload)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	call := transport.Call{
		Method:      req.Method,
		URL:         target,
		Headers:     make(http.Header, len(merged)),
		ContentType: contentType,
		Body:        body,
	}
	headers.Apply(call.Headers, merged)

	var span trace.Span
	if c.tracer != nil {
		ctx, span = tracing.StartRequestSpan(ctx, c.tracer.Tracer(), req.Method, target)
		if c.tracer.ShouldPropagate() {
			tracing.InjectHTTPHeaders(ctx, call.Headers)
		}
	}

	start := time.Now()
	resp, err := c.roundTrip(ctx, call, request.Options{
		Method:      req.Method,
		URL:         target,
		Body:        req.Body,
		ContentType: contentType,
		Headers:     merged,
	})
	if c.metrics != nil {
		c.metrics.RecordRequest(time.Since(start), err)
	}
	if span != nil {
		status, _ := StatusCode(err)
		if resp != nil {
			status = resp.StatusCode
		}
		tracing.EndSpan(span, status, err)
	}
	if err != nil {
		c.logger.Debug("request failed", "method", req.Method, "url", target, "error", err)
		return nil, err
	}

	if echoCacheControl {
		resp.Headers[headers.CacheControl] = cacheControl
	}
	return resp, nil
}

type outcome struct {
	resp *Response
	err  error
}

func (c *Client) roundTrip(ctx context.Context, call transport.Call, desc request.Options) (*Response, error) {
	results := make(chan outcome, 1)
	completed := make(chan struct{})
	deliver := func(o outcome) {
		select {
		case results <- o:
		default:
		}
	}

	var (
		idMu sync.Mutex
		id   string
	)
	c.transport.Submit(ctx, call, transport.Callbacks{
		OnSend: func(h request.Handle) {
			acquired := c.pool.Acquire(request.NewDescriptor(desc, h))
			idMu.Lock()
			id = acquired
			idMu.Unlock()
		},
		OnSuccess: func(status int, lines []string, body any) {
			deliver(outcome{resp: &Response{
				StatusCode: status,
				Headers:    headers.Parse(lines),
				Body:       body,
			}})
		},
		OnError: func(f transport.Failure) {
			deliver(outcome{err: fromFailure(f)})
		},
		OnComplete: func() {
			idMu.Lock()
			acquired := id
			idMu.Unlock()
			if acquired != "" {
				c.pool.Release(acquired)
			}
			close(completed)
		},
	})

	select {
	case o := <-results:
		return o.resp, o.err
	case <-ctx.Done():
		return nil, &HTTPError{Kind: KindAbort, Err: ctx.Err()}
	case <-completed:
		select {
		case o := <-results:
			return o.resp, o.err
		default:
			return nil, &HTTPError{Kind: KindTransport, Message: "request completed without a response"}
		}
	}
}

func (c *Client) findToken(ctx context.Context) (settings.Token, error) {
	if c.tokens == nil {
		return settings.Token{}, nil
	}
	token, err := c.tokens.FindToken(ctx)
	if err != nil {
		return settings.Token{}, fmt.Errorf("resolve token: %w", err)
	}
	return token, nil
}

// encodeBody serializes the request body. Writes with a JSON content type are
// marshalled; empty object bodies send nothing; strings and bytes go out as
// they are; objects under other content types are form encoded.
func encodeBody(method, contentType string, body any) ([]byte, error) {
	if body == nil || isEmptyObject(body) {
		return nil, nil
	}
	if method != http.MethodGet && strings.Contains(strings.ToLower(contentType), "json") {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		return data, nil
	}
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case map[string]any:
		return []byte(formValues(v).Encode()), nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		return data, nil
	}
}

// appendQuery form-encodes a non-empty object body onto the query string of
// rawURL. GET requests carry their parameters this way.
func appendQuery(rawURL string, body any) (string, bool) {
	m, ok := body.(map[string]any)
	if !ok || len(m) == 0 {
		return rawURL, false
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + formValues(m).Encode(), true
}

func formValues(m map[string]any) url.Values {
	form := make(url.Values, len(m))
	for k, val := range m {
		form.Set(k, fmt.Sprint(val))
	}
	return form
}

func isEmptyObject(body any) bool {
	m, ok := body.(map[string]any)
	return ok && len(m) == 0
}

// Abort purges every open connection. id is accepted for call-site symmetry;
// individual requests cannot be targeted.
func (c *Client) Abort(id string) {
	c.logger.Debug("aborting connections", "id", id, "open", c.pool.Len())
	c.pool.Purge()
}

// WhenAvailable delivers cause once requests may be re-issued. With a
// connection cap and a hidden environment that is after the next visibility
// change; otherwise immediately. The channel is closed after delivery, or
// without a value if ctx ends or the client is closed first.
func (c *Client) WhenAvailable(ctx context.Context, cause error) <-chan error {
	ch := make(chan error, 1)
	if c.maxConnections <= 0 || !c.env.Hidden() {
		ch <- cause
		close(ch)
		return ch
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch
	}
	done := c.done
	c.mu.Unlock()

	changed := make(chan struct{})
	var once sync.Once
	fire := func() { once.Do(func() { close(changed) }) }
	sub := c.env.Subscribe(func(environment.Event) { fire() })
	// The environment may have changed between the check and the subscribe.
	if !c.env.Hidden() {
		fire()
	}

	go func() {
		defer close(ch)
		defer sub.Unsubscribe()
		select {
		case <-changed:
			ch <- cause
		case <-ctx.Done():
		case <-done:
		}
	}()
	return ch
}

// RestartWhenAvailable returns nil, after waiting for WhenAvailable, when err
// is a status 0 failure and the request should be re-issued. Any other error
// is returned unchanged.
func (c *Client) RestartWhenAvailable(ctx context.Context, err error) error {
	if !isRestartable(err) {
		return err
	}
	if _, ok := <-c.WhenAvailable(ctx, err); !ok {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrClosed
	}
	return nil
}

// URL renders a URL template with percent-encoded values.
func (c *Client) URL(fragments []string, values ...any) string {
	return urlbuilder.Build(fragments, values...)
}

// Body splits a request template into its merged body and the values left
// for the request head.
func (c *Client) Body(fragments []string, values ...any) (any, []any, error) {
	return reqtemplate.SplitBody(fragments, values)
}

func (c *Client) Stats() Stats {
	s := Stats{
		OpenConnections: c.pool.Len(),
		MaxConnections:  c.maxConnections,
		Pool:            c.counters.Snapshot(),
	}
	if c.metrics != nil {
		stats := c.metrics.Stats(c.metrics.Elapsed())
		s.Requests = &stats
	}
	return s
}

// Close stops listening to the environment, releases pending WhenAvailable
// waiters and purges the pool. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	sub := c.hiddenSub
	c.hiddenSub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	c.pool.Purge()
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
