package main

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/torosent/leash/internal/client"
	"github.com/torosent/leash/internal/reqtemplate"
	"github.com/torosent/leash/internal/sse"
	"github.com/torosent/leash/internal/urlbuilder"
)

type fetchResult struct {
	resp *client.Response
	err  error
}

// fakeFetcher replays results in order and cancels once they run out.
type fakeFetcher struct {
	mu       sync.Mutex
	results  []fetchResult
	urls     []string
	restarts int
	cancel   context.CancelFunc
	// onRestart runs inside RestartWhenAvailable.
	onRestart func()
}

func (f *fakeFetcher) Fetch(ctx context.Context, tpl reqtemplate.Template) (*client.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, urlbuilder.Build(tpl.Fragments, tpl.Values...))
	if len(f.results) == 0 {
		f.cancel()
		return nil, &client.HTTPError{Kind: client.KindAbort}
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r.resp, r.err
}

func (f *fakeFetcher) RestartWhenAvailable(ctx context.Context, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	if f.onRestart != nil {
		f.onRestart()
	}
	return nil
}

func indexed(index string, body any) fetchResult {
	return fetchResult{resp: &client.Response{
		StatusCode: 200,
		Headers:    map[string]string{"X-Consul-Index": index},
		Body:       body,
	}}
}

type watchRun struct {
	fetcher *fakeFetcher
	emitted []string
	delays  []int
}

func runWatcher(t *testing.T, text string, results ...fetchResult) (*fakeFetcher, []string) {
	t.Helper()
	run := runWatcherWith(t, nil, text, results...)
	return run.fetcher, run.emitted
}

// runWatcherWith runs a watcher over results, recording every backoff attempt
// instead of sleeping for it.
func runWatcherWith(t *testing.T, configure func(*watcher, *fakeFetcher), text string, results ...fetchResult) watchRun {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run := watchRun{fetcher: &fakeFetcher{results: results, cancel: cancel}}
	w := &watcher{
		client:      run.fetcher,
		text:        text,
		indexHeader: defaultIndexHeader,
		interval:    time.Millisecond,
		emit:        func(line string) { run.emitted = append(run.emitted, line) },
		status:      func(string) {},
		delay: func(attempt int, _ error) time.Duration {
			run.delays = append(run.delays, attempt)
			return time.Millisecond
		},
	}
	if configure != nil {
		configure(w, run.fetcher)
	}
	if err := w.run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	return run
}

func TestWatcherFollowsIndex(t *testing.T) {
	f, emitted := runWatcher(t, "GET /v1/catalog/services?index={{index}}",
		indexed("10", map[string]any{"web": []any{}}),
		indexed("10", map[string]any{"web": []any{}}),
		indexed("12", map[string]any{"web": []any{}, "db": []any{}}),
	)

	wantURLs := []string{
		"GET /v1/catalog/services?index=0",
		"GET /v1/catalog/services?index=10",
		"GET /v1/catalog/services?index=10",
		"GET /v1/catalog/services?index=12",
	}
	if strings.Join(f.urls, "\n") != strings.Join(wantURLs, "\n") {
		t.Errorf("urls = %q, want %q", f.urls, wantURLs)
	}
	if len(emitted) != 2 {
		t.Fatalf("emitted %d results, want 2: %q", len(emitted), emitted)
	}
	if !strings.Contains(emitted[1], `"db"`) {
		t.Errorf("emitted[1] = %q, want the changed result", emitted[1])
	}
}

func TestWatcherRestartsAbortedRequests(t *testing.T) {
	var mu sync.Mutex
	hidden := true
	run := runWatcherWith(t, func(w *watcher, f *fakeFetcher) {
		w.hidden = func() bool {
			mu.Lock()
			defer mu.Unlock()
			return hidden
		}
		f.onRestart = func() {
			mu.Lock()
			hidden = false
			mu.Unlock()
		}
	}, "GET /v1/health/state/any?index={{index}}",
		fetchResult{err: &client.HTTPError{Kind: client.KindAbort}},
		indexed("3", "[]"),
	)
	if run.fetcher.restarts != 1 {
		t.Errorf("restarts = %d, want 1", run.fetcher.restarts)
	}
	if len(run.delays) != 0 {
		t.Errorf("backoff attempts = %v, want none after waiting for the environment", run.delays)
	}
	if len(run.fetcher.urls) != 3 {
		t.Errorf("fetches = %d, want 3", len(run.fetcher.urls))
	}
}

func TestWatcherBacksOffNetworkFailures(t *testing.T) {
	dropped := fetchResult{err: &client.HTTPError{Kind: client.KindTransport, StatusCode: 0, Message: "connection refused"}}
	tests := []struct {
		name   string
		hidden bool
	}{
		{"visible", false},
		{"hidden", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := runWatcherWith(t, func(w *watcher, _ *fakeFetcher) {
				w.hidden = func() bool { return tt.hidden }
			}, "GET /v1/agent/self?index={{index}}",
				dropped, dropped, dropped,
				indexed("4", "ok"),
			)
			if want := []int{1, 2, 3}; !reflect.DeepEqual(run.delays, want) {
				t.Errorf("backoff attempts = %v, want %v", run.delays, want)
			}
			if run.fetcher.restarts != 0 {
				t.Errorf("restarts = %d, want 0", run.fetcher.restarts)
			}
		})
	}
}

func TestWatcherBacksOffAbortWhileVisible(t *testing.T) {
	run := runWatcherWith(t, func(w *watcher, _ *fakeFetcher) {
		w.hidden = func() bool { return false }
	}, "GET /v1/agent/self?index={{index}}",
		fetchResult{err: &client.HTTPError{Kind: client.KindAbort}},
		fetchResult{err: &client.HTTPError{Kind: client.KindAbort}},
		indexed("4", "ok"),
	)
	if want := []int{1, 2}; !reflect.DeepEqual(run.delays, want) {
		t.Errorf("backoff attempts = %v, want %v", run.delays, want)
	}
}

func TestWatcherBacksOffAbortWhenStillHidden(t *testing.T) {
	run := runWatcherWith(t, func(w *watcher, _ *fakeFetcher) {
		w.hidden = func() bool { return true }
	}, "GET /v1/agent/self?index={{index}}",
		fetchResult{err: &client.HTTPError{Kind: client.KindAbort}},
		indexed("4", "ok"),
	)
	if run.fetcher.restarts != 1 {
		t.Errorf("restarts = %d, want 1", run.fetcher.restarts)
	}
	if want := []int{1}; !reflect.DeepEqual(run.delays, want) {
		t.Errorf("backoff attempts = %v, want %v", run.delays, want)
	}
}

func TestWatcherBacksOffOnFailure(t *testing.T) {
	run := runWatcherWith(t, nil, "GET /v1/kv/x?index={{index}}",
		fetchResult{err: &client.HTTPError{Kind: client.KindTransport, StatusCode: 500, Message: "boom"}},
		indexed("1", "value"),
	)
	if run.fetcher.restarts != 0 {
		t.Errorf("restarts = %d, want 0", run.fetcher.restarts)
	}
	if want := []int{1}; !reflect.DeepEqual(run.delays, want) {
		t.Errorf("backoff attempts = %v, want %v", run.delays, want)
	}
	if len(run.emitted) != 1 || run.emitted[0] != "value" {
		t.Errorf("emitted = %q, want [value]", run.emitted)
	}
}

func TestWatcherBacksOffEmptyStreams(t *testing.T) {
	empty := func() fetchResult {
		stream := sse.NewStream(io.NopCloser(strings.NewReader("")), nil)
		return fetchResult{resp: &client.Response{StatusCode: 200, Headers: map[string]string{}, Body: stream}}
	}
	run := runWatcherWith(t, nil, "GET /v1/events?index={{index}}", empty(), empty())
	if want := []int{1, 2}; !reflect.DeepEqual(run.delays, want) {
		t.Errorf("backoff attempts = %v, want %v", run.delays, want)
	}
}

func TestWatcherFollowsStream(t *testing.T) {
	body := io.NopCloser(strings.NewReader("event: update\ndata: one\n\ndata: two\n\n"))
	stream := sse.NewStream(body, nil)

	_, emitted := runWatcher(t, "GET /v1/events?index={{index}}",
		fetchResult{resp: &client.Response{StatusCode: 200, Headers: map[string]string{}, Body: stream}},
	)
	want := []string{"update: one", "two"}
	if strings.Join(emitted, "|") != strings.Join(want, "|") {
		t.Errorf("emitted = %q, want %q", emitted, want)
	}
}

func TestWatcherSelect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &fakeFetcher{results: []fetchResult{indexed("5", map[string]any{"Value": "abc"})}, cancel: cancel}
	var emitted []string
	w := &watcher{
		client:      f,
		text:        "GET /v1/kv/x?index={{index}}",
		indexHeader: defaultIndexHeader,
		selector:    "Value",
		emit:        func(line string) { emitted = append(emitted, line) },
		status:      func(string) {},
	}
	if err := w.run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if len(emitted) != 1 || emitted[0] != "abc" {
		t.Errorf("emitted = %q, want [abc]", emitted)
	}
}

func TestNextIndex(t *testing.T) {
	tests := []struct {
		name        string
		current     string
		header      string
		want        string
		wantChanged bool
	}{
		{"first", "0", "42", "42", true},
		{"unchanged", "42", "42", "42", false},
		{"advanced", "42", "50", "50", true},
		{"went backwards", "42", "7", "0", true},
		{"missing header", "42", "", "", true},
		{"non numeric", "0", "abc", "abc", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := nextIndex(tt.current, tt.header)
			if got != tt.want || changed != tt.wantChanged {
				t.Errorf("nextIndex(%q, %q) = %q, %v; want %q, %v", tt.current, tt.header, got, changed, tt.want, tt.wantChanged)
			}
		})
	}
}

func TestSleep(t *testing.T) {
	if !sleep(context.Background(), time.Millisecond) {
		t.Error("sleep() = false, want true")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleep(ctx, time.Hour) {
		t.Error("sleep(cancelled) = true, want false")
	}
	if sleep(ctx, 0) {
		t.Error("sleep(cancelled, 0) = true, want false")
	}
}

func TestBackoff(t *testing.T) {
	if got := backoff(1, nil); got != baseRetryDelay {
		t.Errorf("backoff(1) = %v, want %v", got, baseRetryDelay)
	}
	if got := backoff(3, nil); got != 4*baseRetryDelay {
		t.Errorf("backoff(3) = %v, want %v", got, 4*baseRetryDelay)
	}
	if got := backoff(40, errors.New("x")); got != maxRetryDelay {
		t.Errorf("backoff(40) = %v, want %v", got, maxRetryDelay)
	}
}
