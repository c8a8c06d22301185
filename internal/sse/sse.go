// Package sse reads server-sent events from an open response body.
package sse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ErrClosed is returned once the stream has been closed or reached EOF.
var ErrClosed = errors.New("sse: stream closed")

// Event represents a Server-Sent Event.
type Event struct {
	ID    string `json:"id,omitempty"`
	Event string `json:"event,omitempty"`
	Data  string `json:"data"`
}

// Metrics captures stream statistics.
type Metrics struct {
	ConnectionDuration time.Duration
	EventsReceived     int64
	BytesReceived      int64
	Errors             int64
}

// Stream parses events from a response body. Next must not be called
// concurrently; Close may be called from any goroutine.
type Stream struct {
	body    io.ReadCloser
	reader  *bufio.Reader
	opened  time.Time
	onClose func()

	mu        sync.Mutex
	closed    bool
	events    int64
	bytesRecv int64
	errors    int64
}

// NewStream wraps body. onClose, when non-nil, runs once after the body has
// been closed, whether by Close or by reaching the end of the stream.
func NewStream(body io.ReadCloser, onClose func()) *Stream {
	return &Stream{
		body:    body,
		reader:  bufio.NewReader(body),
		opened:  time.Now(),
		onClose: onClose,
	}
}

// Next reads the next event.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	if s.isClosed() {
		return Event{}, ErrClosed
	}

	event := Event{}
	var dataLines []string

	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		default:
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.Close()
				return Event{}, ErrClosed
			}
			s.recordError()
			if s.isClosed() {
				return Event{}, ErrClosed
			}
			return Event{}, fmt.Errorf("read line: %w", err)
		}

		s.recordBytes(len(line))
		line = strings.TrimRight(line, "\r\n")

		// Empty line marks end of event
		if line == "" {
			if len(dataLines) > 0 || event.Event != "" || event.ID != "" {
				event.Data = strings.Join(dataLines, "\n")
				s.recordEvent()
				return event, nil
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "id":
			event.ID = value
		case "event":
			event.Event = value
		case "data":
			dataLines = append(dataLines, value)
		}
	}
}

// Close closes the body. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.body.Close()
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

// Metrics returns the current metrics snapshot.
func (s *Stream) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Metrics{
		ConnectionDuration: time.Since(s.opened),
		EventsReceived:     s.events,
		BytesReceived:      s.bytesRecv,
		Errors:             s.errors,
	}
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) recordBytes(n int) {
	s.mu.Lock()
	s.bytesRecv += int64(n)
	s.mu.Unlock()
}

func (s *Stream) recordEvent() {
	s.mu.Lock()
	s.events++
	s.mu.Unlock()
}

func (s *Stream) recordError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}
