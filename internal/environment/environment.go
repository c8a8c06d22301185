// Package environment models the host surface the client runs behind: whether
// it is currently hidden (suspended) and a subscription to visibility changes.
package environment

import (
	"context"
	"os"
	"os/signal"
	"sync"
)

// Event is delivered on every visibility change.
type Event struct {
	Hidden bool
}

// Subscription removes a listener. Unsubscribe is safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

// Environment exposes the host's visibility state.
type Environment interface {
	Hidden() bool
	Subscribe(fn func(Event)) Subscription
}

// Visibility is an in-process Environment driven by SetHidden.
type Visibility struct {
	mu        sync.Mutex
	hidden    bool
	nextID    uint64
	listeners map[uint64]func(Event)
}

// NewVisibility returns a visible environment.
func NewVisibility() *Visibility {
	return &Visibility{listeners: make(map[uint64]func(Event))}
}

func (v *Visibility) Hidden() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hidden
}

// SetHidden updates the state and notifies listeners when it changed.
// Listeners run on the caller's goroutine, after the state is updated.
func (v *Visibility) SetHidden(hidden bool) {
	v.mu.Lock()
	if v.hidden == hidden {
		v.mu.Unlock()
		return
	}
	v.hidden = hidden
	fns := make([]func(Event), 0, len(v.listeners))
	for _, fn := range v.listeners {
		fns = append(fns, fn)
	}
	v.mu.Unlock()

	ev := Event{Hidden: hidden}
	for _, fn := range fns {
		fn(ev)
	}
}

func (v *Visibility) Subscribe(fn func(Event)) Subscription {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.listeners == nil {
		v.listeners = make(map[uint64]func(Event))
	}
	id := v.nextID
	v.nextID++
	v.listeners[id] = fn
	return &subscription{v: v, id: id}
}

// Listeners returns the number of registered listeners.
func (v *Visibility) Listeners() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.listeners)
}

type subscription struct {
	once sync.Once
	v    *Visibility
	id   uint64
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.v.mu.Lock()
		delete(s.v.listeners, s.id)
		s.v.mu.Unlock()
	})
}

// WatchSignals maps hide and show onto v until ctx is done.
func WatchSignals(ctx context.Context, v *Visibility, hide, show os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, hide, show)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				v.SetHidden(sig == hide)
			}
		}
	}()
}
