package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/torosent/leash/internal/request"
	"github.com/torosent/leash/internal/transport"
)

type fakeHandle struct {
	mu      sync.Mutex
	state   request.ReadyState
	aborted chan struct{}
	once    sync.Once
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{state: request.Opened, aborted: make(chan struct{})}
}

func (h *fakeHandle) ReadyState() request.ReadyState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *fakeHandle) set(s request.ReadyState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *fakeHandle) Abort() error {
	h.once.Do(func() { close(h.aborted) })
	return nil
}

type responder func(ctx context.Context, call transport.Call, h *fakeHandle, cb transport.Callbacks)

// fakeTransport answers each call with the next responder, repeating the last.
type fakeTransport struct {
	mu         sync.Mutex
	calls      []transport.Call
	responders []responder
}

func newFakeTransport(rs ...responder) *fakeTransport {
	return &fakeTransport{responders: rs}
}

func (f *fakeTransport) Submit(ctx context.Context, call transport.Call, cb transport.Callbacks) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, call)
	r := f.responders[len(f.responders)-1]
	if n < len(f.responders) {
		r = f.responders[n]
	}
	f.mu.Unlock()
	go r(ctx, call, newFakeHandle(), cb)
}

func (f *fakeTransport) Calls() []transport.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Call(nil), f.calls...)
}

func succeed(status int, lines []string, body any) responder {
	return func(ctx context.Context, call transport.Call, h *fakeHandle, cb transport.Callbacks) {
		cb.OnSend(h)
		h.set(request.Done)
		cb.OnSuccess(status, lines, body)
		cb.OnComplete()
	}
}

func failWith(f transport.Failure) responder {
	return func(ctx context.Context, call transport.Call, h *fakeHandle, cb transport.Callbacks) {
		cb.OnSend(h)
		h.set(request.Done)
		cb.OnError(f)
		cb.OnComplete()
	}
}

// hang keeps the call open until it is aborted or ctx ends.
func hang(ctx context.Context, call transport.Call, h *fakeHandle, cb transport.Callbacks) {
	cb.OnSend(h)
	select {
	case <-h.aborted:
	case <-ctx.Done():
	}
	h.set(request.Done)
	cb.OnError(transport.Failure{Kind: transport.FailureAbort})
	cb.OnComplete()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
