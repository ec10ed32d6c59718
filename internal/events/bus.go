// Package events implements the topic-keyed listener registry that fans
// lifecycle and risk events out to any number of subscribers.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/edgebot/internal/domain"
)

// Listener handles one delivered event.
type Listener func(ctx context.Context, event domain.Event)

// Bus is an in-process pub/sub registry keyed by event type. Dispatch is
// synchronous and isolated: a panicking listener is logged and the
// remaining listeners still run. Emitters never learn about delivery.
type Bus struct {
	mu        sync.RWMutex
	listeners map[domain.EventType][]Listener
	all       []Listener
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[domain.EventType][]Listener)}
}

// Subscribe registers a listener for one event type.
func (b *Bus) Subscribe(typ domain.EventType, fn Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[typ] = append(b.listeners[typ], fn)
}

// SubscribeAll registers a listener for every event type. Used by the
// event journal and the console reporter.
func (b *Bus) SubscribeAll(fn Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, fn)
}

// Publish implements ports.EventSink. Listeners for the event's type run
// first, then the catch-all listeners, each shielded from the others.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	typed := b.listeners[event.Type]
	catchAll := b.all
	b.mu.RUnlock()

	for _, fn := range typed {
		b.deliver(ctx, fn, event)
	}
	for _, fn := range catchAll {
		b.deliver(ctx, fn, event)
	}
}

func (b *Bus) deliver(ctx context.Context, fn Listener, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event listener panicked",
				"event_type", event.Type,
				"strategy", event.Strategy,
				"panic", r,
			)
		}
	}()
	fn(ctx, event)
}
