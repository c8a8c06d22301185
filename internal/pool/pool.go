package pool

import (
	"container/list"
	"fmt"
	"log/slog"
	"sync"

	"github.com/torosent/leash/internal/metrics"
	"github.com/torosent/leash/internal/request"
)

// Disposer releases whatever a descriptor still holds when it leaves the pool.
type Disposer interface {
	Dispose(d *request.Descriptor) error
}

// DisposerFunc adapts a function to the Disposer interface.
type DisposerFunc func(d *request.Descriptor) error

func (f DisposerFunc) Dispose(d *request.Descriptor) error { return f(d) }

// ConnectionPool tracks open request descriptors by id. When a capacity is set
// the pool never holds more entries than that; acquiring beyond it evicts the
// oldest entry first.
type ConnectionPool struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // of *request.Descriptor, oldest first
	disposer Disposer
	counters *metrics.PoolCounters
	logger   *slog.Logger
}

// Option configures a ConnectionPool.
type Option func(*ConnectionPool)

// WithCounters records pool activity into c.
func WithCounters(c *metrics.PoolCounters) Option {
	return func(p *ConnectionPool) { p.counters = c }
}

// WithLogger sets the logger used for disposal failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *ConnectionPool) { p.logger = l }
}

// NewConnectionPool creates a pool. A capacity of zero or less means the pool
// is unbounded. A nil disposer disposes nothing.
func NewConnectionPool(capacity int, disposer Disposer, opts ...Option) *ConnectionPool {
	if capacity < 0 {
		capacity = 0
	}
	if disposer == nil {
		disposer = DisposerFunc(func(*request.Descriptor) error { return nil })
	}
	p := &ConnectionPool{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		disposer: disposer,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// Capacity returns the configured capacity, zero when unbounded.
func (p *ConnectionPool) Capacity() int {
	return p.capacity
}

// Acquire registers d and returns its id. If the pool is full the
// least-recently acquired entry is disposed and evicted first.
func (p *ConnectionPool) Acquire(d *request.Descriptor) string {
	id := d.ID()

	p.mu.Lock()
	if el, ok := p.entries[id]; ok {
		el.Value = d
		p.mu.Unlock()
		return id
	}
	var evicted []*request.Descriptor
	for p.capacity > 0 && p.order.Len() >= p.capacity {
		oldest := p.order.Front()
		old := p.order.Remove(oldest).(*request.Descriptor)
		delete(p.entries, old.ID())
		evicted = append(evicted, old)
	}
	p.entries[id] = p.order.PushBack(d)
	p.mu.Unlock()

	for _, old := range evicted {
		p.counters.Evicted()
		p.logger.Debug("evicting connection", "id", old.ID(), "url", old.URL())
		p.dispose(old)
	}
	p.counters.Acquired()
	return id
}

// Release removes and disposes the entry with the given id. Unknown ids are
// ignored; completions racing a purge end up here.
func (p *ConnectionPool) Release(id string) {
	p.mu.Lock()
	el, ok := p.entries[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	d := p.order.Remove(el).(*request.Descriptor)
	delete(p.entries, id)
	p.mu.Unlock()

	p.counters.Released()
	p.dispose(d)
}

// Purge disposes and removes every entry.
func (p *ConnectionPool) Purge() {
	p.mu.Lock()
	all := make([]*request.Descriptor, 0, p.order.Len())
	for el := p.order.Front(); el != nil; el = el.Next() {
		all = append(all, el.Value.(*request.Descriptor))
	}
	p.entries = make(map[string]*list.Element)
	p.order.Init()
	p.mu.Unlock()

	if len(all) == 0 {
		return
	}
	p.counters.Purged(len(all))
	p.logger.Debug("purging connections", "count", len(all))
	for _, d := range all {
		p.dispose(d)
	}
}

// Len returns the number of tracked entries.
func (p *ConnectionPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// Has reports whether id is tracked.
func (p *ConnectionPool) Has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	return ok
}

// IDs returns the tracked ids, oldest first.
func (p *ConnectionPool) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, p.order.Len())
	for el := p.order.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(*request.Descriptor).ID())
	}
	return ids
}

// dispose never lets a failing handle reach the caller.
func (p *ConnectionPool) dispose(d *request.Descriptor) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Debug("dispose panicked", "id", d.ID(), "panic", fmt.Sprint(r))
		}
	}()
	if err := p.disposer.Dispose(d); err != nil {
		p.logger.Debug("dispose failed", "id", d.ID(), "error", err)
	}
}
