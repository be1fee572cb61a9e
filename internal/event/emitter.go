// Package event fans typed notifications out to subscribers.
package event

import (
	"slices"
	"sync"

	"github.com/tessro/atelier/internal/logging"
)

type subscriber[E any] struct {
	id int
	fn func(E)
}

// Emitter delivers each emitted value to every current subscriber, in
// subscription order, on the emitting goroutine. The zero value is ready
// to use.
type Emitter[E any] struct {
	mu sync.RWMutex
	// +checklocks:mu
	subs []subscriber[E]
	// +checklocks:mu
	next int
}

// OnEvent subscribes fn and returns a function that removes it. The
// returned function is safe to call more than once.
func (e *Emitter[E]) OnEvent(fn func(E)) (unsubscribe func()) {
	e.mu.Lock()
	e.next++
	id := e.next
	e.subs = append(e.subs, subscriber[E]{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.subs = slices.DeleteFunc(e.subs, func(s subscriber[E]) bool { return s.id == id })
	}
}

// Len returns the number of subscribers.
func (e *Emitter[E]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Emit calls every subscriber with v. Subscribers added or removed during
// delivery take effect on the next Emit. A panicking subscriber is logged
// and skipped. Must not be called with a lock the subscribers take.
func (e *Emitter[E]) Emit(v E) {
	e.mu.RLock()
	subs := slices.Clone(e.subs)
	e.mu.RUnlock()

	for _, s := range subs {
		deliver(s.fn, v)
	}
}

func deliver[E any](fn func(E), v E) {
	defer logging.LogPanic("event-subscriber", nil)
	fn(v)
}
