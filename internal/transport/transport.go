package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/torosent/leash/internal/request"
)

// FailureKind classifies why a call did not succeed.
type FailureKind int

const (
	// FailureStatus is a completed response with a non-success status.
	FailureStatus FailureKind = iota
	// FailureAbort is a call cancelled through its handle or context.
	FailureAbort
	// FailureTimeout is a call that ran past its deadline.
	FailureTimeout
	// FailureNetwork is a call that never produced a response.
	FailureNetwork
)

func (k FailureKind) String() string {
	switch k {
	case FailureStatus:
		return "status"
	case FailureAbort:
		return "abort"
	case FailureTimeout:
		return "timeout"
	case FailureNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Failure describes an unsuccessful call. StatusCode is the response status,
// or zero when no response arrived.
type Failure struct {
	Kind       FailureKind
	StatusCode int
	Text       string
	Err        error
}

func (f Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", f.Kind, f.StatusCode, f.Text)
}

// Call is a single request handed to a Transport.
type Call struct {
	Method      string
	URL         string
	Headers     http.Header
	ContentType string
	Body        []byte
}

// Callbacks receive the lifecycle of a call. OnSend fires before the request
// is dispatched; exactly one of OnSuccess and OnError follows unless the call
// could not be sent at all; OnComplete always fires last.
type Callbacks struct {
	OnSend     func(h request.Handle)
	OnSuccess  func(status int, headerLines []string, body any)
	OnError    func(f Failure)
	OnComplete func()
}

// Transport performs calls asynchronously. Submit returns immediately.
type Transport interface {
	Submit(ctx context.Context, call Call, cb Callbacks)
}

func (cb Callbacks) send(h request.Handle) {
	if cb.OnSend != nil {
		cb.OnSend(h)
	}
}

func (cb Callbacks) success(status int, lines []string, body any) {
	if cb.OnSuccess != nil {
		cb.OnSuccess(status, lines, body)
	}
}

func (cb Callbacks) fail(f Failure) {
	if cb.OnError != nil {
		cb.OnError(f)
	}
}

func (cb Callbacks) complete() {
	if cb.OnComplete != nil {
		cb.OnComplete()
	}
}
