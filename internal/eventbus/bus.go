// Package eventbus implements a synchronous, in-process publish/subscribe
// bus with bounded history. It is the wiring fabric the orchestrator
// uses to report phase transitions, tool completions, and interrupts to
// any number of interested listeners (dashboards, the FSM bridge,
// tests) without those listeners being compiled into the loop itself.
// A handler is a plain function value, delivery is synchronous on the
// publisher's goroutine, and a panicking handler is isolated and logged
// rather than allowed to propagate.
package eventbus

import (
	"log/slog"
	"sync"
	"time"
)

// Event is a single published occurrence.
type Event struct {
	Type      string
	Data      any
	Source    string
	Timestamp time.Time
}

// Handler receives published events. A Handler must not block for long;
// delivery is synchronous on the publisher's goroutine.
type Handler func(Event)

// Bus is a synchronous publish/subscribe event bus with bounded history.
// Safe for concurrent use.
type Bus struct {
	mu          sync.Mutex
	log         *slog.Logger
	maxHistory  int
	history     []Event
	subscribers map[string][]Handler
	wildcard    []Handler
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithMaxHistory overrides the default bounded history size (200).
func WithMaxHistory(n int) Option {
	return func(b *Bus) { b.maxHistory = n }
}

// WithLogger attaches a logger used to report isolated handler panics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.log = l }
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		maxHistory:  200,
		subscribers: make(map[string][]Handler),
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for a specific event type.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, handler)
}

// Publish delivers data synchronously to every handler subscribed to
// eventType plus every wildcard handler, in subscription order. Handler
// panics are isolated: each handler is invoked in its own recover scope so
// one failing handler never prevents the rest from running.
//
// Ordering: FIFO within one Publish call (subscription order); across
// concurrent publishers from different goroutines, ordering is
// undefined; there is no global sequencing.
func (b *Bus) Publish(eventType string, data any, source string) {
	ev := Event{Type: eventType, Data: data, Source: source, Timestamp: time.Now()}

	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subscribers[eventType])+len(b.wildcard))
	handlers = append(handlers, b.subscribers[eventType]...)
	handlers = append(handlers, b.wildcard...)

	b.history = append(b.history, ev)
	if len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}
	b.mu.Unlock()

	for _, h := range handlers {
		b.dispatch(h, ev)
	}
}

// dispatch invokes a single handler, isolating any panic.
func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus: handler panicked", "event_type", ev.Type, "panic", r)
		}
	}()
	h(ev)
}

// History returns a defensive copy of the bounded in-memory event history.
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}
