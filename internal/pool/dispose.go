package pool

import (
	"github.com/torosent/leash/internal/request"
)

// StreamingDisposer aborts event-stream connections that have not started
// receiving yet. Streams already receiving headers or data are left to finish
// so partially delivered messages are not lost. Other requests are never
// aborted.
type StreamingDisposer struct{}

func (StreamingDisposer) Dispose(d *request.Descriptor) error {
	if d == nil || !d.IsStreaming() {
		return nil
	}
	h := d.Handle()
	if h == nil {
		return nil
	}
	switch h.ReadyState() {
	case request.Unsent, request.Opened:
		return h.Abort()
	}
	return nil
}
