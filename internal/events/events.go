// Package events implements the kernel's lifecycle hook registry. The
// dispatcher fires a small set of well-known events around handler execution;
// host applications attach listeners at startup to observe or transform the
// request as it moves through the pipeline.
package events

import "sync"

// Well-known lifecycle event names.
const (
	// Before fires after route resolution, immediately before the handler.
	Before = "before"

	// After fires once the handler has run. Whether it also fires when the
	// handler fails is a dispatcher policy; the dispatcher documents its
	// choice.
	After = "after"

	// Output fires at most once while the response body is reconciled; the
	// listener's return value replaces the body verbatim.
	Output = "output"
)

// Listener observes or transforms an event payload. Returning nil leaves the
// payload unchanged; returning a value replaces it for the next listener in
// line.
type Listener func(payload any) any

// Bus is an ordered listener registry. Registration happens during
// application startup; firing happens on the request path, so reads take the
// cheap side of the lock.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
}

// NewBus returns an empty event bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[string][]Listener)}
}

// On appends a listener for the named event. Listeners run in registration
// order.
func (b *Bus) On(name string, fn Listener) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[name] = append(b.listeners[name], fn)
}

// Has reports whether at least one listener is registered for the event.
func (b *Bus) Has(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[name]) > 0
}

// Fire runs the event's listeners in order, threading the payload through
// them, and returns the final payload. With no listeners the payload comes
// back untouched.
func (b *Bus) Fire(name string, payload any) any {
	b.mu.RLock()
	chain := b.listeners[name]
	b.mu.RUnlock()

	for _, fn := range chain {
		if out := fn(payload); out != nil {
			payload = out
		}
	}
	return payload
}
