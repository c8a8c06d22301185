package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/leash/internal/client"
)

// StatsSource reports client activity. *client.Client implements it.
type StatsSource interface {
	Stats() client.Stats
}

// ProgressReporter rewrites a single status line at a fixed interval.
type ProgressReporter struct {
	source   StatsSource
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(source StatsSource, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		source:   source,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, "\r"+progressLine(p.source.Stats()))
		case <-p.done:
			return
		}
	}
}

func progressLine(stats client.Stats) string {
	line := fmt.Sprintf("Open: %d", stats.OpenConnections)
	if stats.MaxConnections > 0 {
		line += fmt.Sprintf("/%d", stats.MaxConnections)
	}
	if req := stats.Requests; req != nil {
		line += fmt.Sprintf(" | Requests: %d | Successes: %d | Failures: %d | P99: %.1fms",
			req.Total, req.Successes, req.Failures, req.P99LatencyMs)
	}
	if stats.Pool.Purged > 0 {
		line += fmt.Sprintf(" | Purged: %d", stats.Pool.Purged)
	}
	return line
}
