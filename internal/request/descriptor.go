// Package request defines the descriptor tracked for every in-flight request
// and the handle through which its live connection can be inspected and
// cancelled.
package request

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/leash/internal/headers"
)

// ReadyState mirrors the readiness of a live connection.
type ReadyState int

const (
	Unsent ReadyState = iota
	Opened
	HeadersReceived
	Loading
	Done
)

func (s ReadyState) String() string {
	switch s {
	case Unsent:
		return "unsent"
	case Opened:
		return "opened"
	case HeadersReceived:
		return "headers_received"
	case Loading:
		return "loading"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Handle is the live connection behind a descriptor.
type Handle interface {
	ReadyState() ReadyState
	Abort() error
}

// Descriptor records one in-flight request. It is immutable once created.
type Descriptor struct {
	id          string
	method      string
	url         string
	body        any
	contentType string
	headers     map[string]string
	handle      Handle
}

// Options describes the request a descriptor is created for.
type Options struct {
	Method      string
	URL         string
	Body        any
	ContentType string
	Headers     map[string]string
}

// NewDescriptor creates a descriptor with a fresh id.
func NewDescriptor(opts Options, handle Handle) *Descriptor {
	hdrs := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		hdrs[k] = v
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = hdrs[headers.ContentType]
	}
	return &Descriptor{
		id:          NewID(),
		method:      opts.Method,
		url:         opts.URL,
		body:        opts.Body,
		contentType: contentType,
		headers:     hdrs,
		handle:      handle,
	}
}

func (d *Descriptor) ID() string          { return d.id }
func (d *Descriptor) Method() string      { return d.method }
func (d *Descriptor) URL() string         { return d.url }
func (d *Descriptor) Body() any           { return d.body }
func (d *Descriptor) ContentType() string { return d.contentType }
func (d *Descriptor) Handle() Handle      { return d.handle }

// Headers returns a copy of the request headers.
func (d *Descriptor) Headers() map[string]string {
	out := make(map[string]string, len(d.headers))
	for k, v := range d.headers {
		out[k] = v
	}
	return out
}

// IsStreaming reports whether the descriptor represents a server-sent event
// stream.
func (d *Descriptor) IsStreaming() bool {
	return headers.IsEventStream(d.contentType)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a monotonic ULID string. Ids generated by one process never
// repeat.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
