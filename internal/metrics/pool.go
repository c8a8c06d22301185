package metrics

import "sync/atomic"

// PoolCounters counts connection pool activity. A nil *PoolCounters ignores
// every call.
type PoolCounters struct {
	acquired atomic.Int64
	released atomic.Int64
	evicted  atomic.Int64
	purged   atomic.Int64
}

// PoolSnapshot is a point-in-time copy of PoolCounters.
type PoolSnapshot struct {
	Acquired int64 `json:"acquired"`
	Released int64 `json:"released"`
	Evicted  int64 `json:"evicted"`
	Purged   int64 `json:"purged"`
}

func (c *PoolCounters) Acquired() {
	if c != nil {
		c.acquired.Add(1)
	}
}

func (c *PoolCounters) Released() {
	if c != nil {
		c.released.Add(1)
	}
}

func (c *PoolCounters) Evicted() {
	if c != nil {
		c.evicted.Add(1)
	}
}

// Purged records n entries dropped by a purge.
func (c *PoolCounters) Purged(n int) {
	if c != nil {
		c.purged.Add(int64(n))
	}
}

func (c *PoolCounters) Snapshot() PoolSnapshot {
	if c == nil {
		return PoolSnapshot{}
	}
	return PoolSnapshot{
		Acquired: c.acquired.Load(),
		Released: c.released.Load(),
		Evicted:  c.evicted.Load(),
		Purged:   c.purged.Load(),
	}
}
