package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/torosent/leash/internal/headers"
	"github.com/torosent/leash/internal/request"
	"github.com/torosent/leash/internal/sse"
)

const maxErrorBody = 64 << 10

var (
	errAborted  = errors.New("request aborted")
	errTimedOut = errors.New("request timed out")
)

// NewClient returns an *http.Client tuned for many concurrent long-lived
// requests. maxConnsPerHost of zero leaves connections unlimited. Timeouts are
// applied per call by HTTPTransport, so the client itself has none.
func NewClient(maxConnsPerHost int) *http.Client {
	if maxConnsPerHost < 0 {
		maxConnsPerHost = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
	}
}

// HTTPTransport submits calls with net/http.
type HTTPTransport struct {
	client  *http.Client
	base    *url.URL
	timeout time.Duration
	logger  *slog.Logger
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithBaseURL resolves relative call URLs against base.
func WithBaseURL(base *url.URL) HTTPOption {
	return func(t *HTTPTransport) { t.base = base }
}

// WithTimeout bounds each call. For event streams the bound covers the wait
// for response headers only.
func WithTimeout(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) { t.timeout = d }
}

func WithLogger(l *slog.Logger) HTTPOption {
	return func(t *HTTPTransport) { t.logger = l }
}

func NewHTTPTransport(client *http.Client, opts ...HTTPOption) *HTTPTransport {
	if client == nil {
		client = NewClient(0)
	}
	t := &HTTPTransport{client: client}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.New(slog.DiscardHandler)
	}
	return t
}

// Submit runs the call on its own goroutine.
func (t *HTTPTransport) Submit(ctx context.Context, call Call, cb Callbacks) {
	go t.run(ctx, call, cb)
}

func (t *HTTPTransport) run(parent context.Context, call Call, cb Callbacks) {
	ctx, cancel := context.WithCancelCause(parent)
	h := &handle{cancel: cancel}

	target, err := t.resolve(call.URL)
	if err != nil {
		cancel(err)
		h.setState(request.Done)
		cb.fail(Failure{Kind: FailureNetwork, Err: err})
		cb.complete()
		return
	}

	var body io.Reader
	if call.Body != nil {
		body = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, target, body)
	if err != nil {
		cancel(err)
		h.setState(request.Done)
		cb.fail(Failure{Kind: FailureNetwork, Err: err})
		cb.complete()
		return
	}
	for k, vals := range call.Headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if call.ContentType != "" {
		req.Header.Set(headers.ContentType, call.ContentType)
	}

	h.setState(request.Opened)
	cb.send(h)

	var timer *time.Timer
	if t.timeout > 0 {
		timer = time.AfterFunc(t.timeout, func() { cancel(errTimedOut) })
	}
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}

	t.logger.Debug("dispatching request", "method", call.Method, "url", target)
	resp, err := t.client.Do(req)
	if err != nil {
		stopTimer()
		h.setState(request.Done)
		cb.fail(classify(ctx, err))
		cancel(nil)
		cb.complete()
		return
	}
	h.setState(request.HeadersReceived)
	lines := headers.Lines(resp.Header)

	if isSuccess(resp.StatusCode) && headers.IsEventStream(resp.Header.Get(headers.ContentType)) {
		stopTimer()
		h.setState(request.Loading)
		stream := sse.NewStream(resp.Body, func() {
			h.setState(request.Done)
			cancel(nil)
			cb.complete()
		})
		cb.success(resp.StatusCode, lines, stream)
		return
	}

	h.setState(request.Loading)
	data, err := readBody(resp, isSuccess(resp.StatusCode))
	resp.Body.Close()
	stopTimer()
	h.setState(request.Done)

	switch {
	case err != nil:
		cb.fail(classify(ctx, err))
	case !isSuccess(resp.StatusCode):
		cb.fail(Failure{Kind: FailureStatus, StatusCode: resp.StatusCode, Text: string(data)})
	default:
		cb.success(resp.StatusCode, lines, DecodeBody(data))
	}
	cancel(nil)
	cb.complete()
}

func (t *HTTPTransport) resolve(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.IsAbs() || t.base == nil {
		return u.String(), nil
	}
	return t.base.ResolveReference(u).String(), nil
}

func readBody(resp *http.Response, ok bool) ([]byte, error) {
	if ok {
		return io.ReadAll(resp.Body)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
}

func isSuccess(status int) bool {
	return (status >= 200 && status < 300) || status == http.StatusNotModified
}

func classify(ctx context.Context, err error) Failure {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errAborted):
		return Failure{Kind: FailureAbort, Err: err}
	case errors.Is(cause, errTimedOut), errors.Is(cause, context.DeadlineExceeded):
		return Failure{Kind: FailureTimeout, Err: err}
	case errors.Is(cause, context.Canceled):
		return Failure{Kind: FailureAbort, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Failure{Kind: FailureTimeout, Err: err}
	}
	return Failure{Kind: FailureNetwork, Err: err}
}

// DecodeBody parses JSON bodies and returns anything else as a string.
func DecodeBody(data []byte) any {
	if len(data) == 0 || !gjson.ValidBytes(data) {
		return string(data)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	return v
}

type handle struct {
	state   atomic.Int32
	cancel  context.CancelCauseFunc
	aborted sync.Once
}

func (h *handle) ReadyState() request.ReadyState {
	return request.ReadyState(h.state.Load())
}

func (h *handle) setState(s request.ReadyState) {
	h.state.Store(int32(s))
}

// Abort cancels the call. Calls already done are unaffected.
func (h *handle) Abort() error {
	if h.ReadyState() == request.Done {
		return nil
	}
	h.aborted.Do(func() { h.cancel(errAborted) })
	return nil
}
