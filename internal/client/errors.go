package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/torosent/leash/internal/transport"
)

// ErrClosed is returned by requests issued after Close.
var ErrClosed = errors.New("client closed")

// ErrorKind tags why a request failed.
type ErrorKind int

const (
	// KindTransport carries the response status and text, or status 0 when
	// no response arrived.
	KindTransport ErrorKind = iota
	// KindAbort is a cancelled request. Its status is always 0.
	KindAbort
	// KindTimeout is a request that ran out of time. Its status is always 408.
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAbort:
		return "abort"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// HTTPError represents a failed request with its status details.
type HTTPError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *HTTPError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("HTTP %d: %s: %v", e.StatusCode, e.Kind, e.Err)
	default:
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Kind)
	}
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// MetricLabel groups failures by kind and status in request metrics.
func (e *HTTPError) MetricLabel() string {
	return fmt.Sprintf("%s_%d", e.Kind, e.StatusCode)
}

func fromFailure(f transport.Failure) *HTTPError {
	switch f.Kind {
	case transport.FailureAbort:
		return &HTTPError{Kind: KindAbort, StatusCode: 0, Message: f.Text, Err: f.Err}
	case transport.FailureTimeout:
		return &HTTPError{Kind: KindTimeout, StatusCode: http.StatusRequestTimeout, Message: f.Text, Err: f.Err}
	default:
		return &HTTPError{Kind: KindTransport, StatusCode: f.StatusCode, Message: f.Text, Err: f.Err}
	}
}

// IsAbort reports whether err is an aborted request.
func IsAbort(err error) bool {
	var herr *HTTPError
	return errors.As(err, &herr) && herr.Kind == KindAbort
}

// IsTimeout reports whether err is a timed out request.
func IsTimeout(err error) bool {
	var herr *HTTPError
	return errors.As(err, &herr) && herr.Kind == KindTimeout
}

// StatusCode returns the status carried by err and whether err is an
// HTTPError at all.
func StatusCode(err error) (int, bool) {
	var herr *HTTPError
	if !errors.As(err, &herr) {
		return 0, false
	}
	return herr.StatusCode, true
}
