package event

import (
	"reflect"
	"sync"
)

// Bus is a double-buffered event bus. Events emitted in tick N are readable
// in tick N+1. SwapBuffers() is called at tick start by EventDispatchSystem.
// Handlers are wrapped at Subscribe time so dispatch is a plain call.
type Bus struct {
	mu       sync.Mutex // protects both buffers and handler registration
	front    map[reflect.Type][]any
	back     map[reflect.Type][]any
	handlers map[reflect.Type][]func(any)
}

func NewBus() *Bus {
	return &Bus{
		front:    make(map[reflect.Type][]any),
		back:     make(map[reflect.Type][]any),
		handlers: make(map[reflect.Type][]func(any)),
	}
}

// Emit queues an event into the back buffer (readable next tick).
// Safe to call from off-loop goroutines (saver callbacks, flush loops).
func Emit[T any](b *Bus, event T) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.mu.Lock()
	b.back[t] = append(b.back[t], event)
	b.mu.Unlock()
}

// Subscribe registers a typed handler for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.mu.Lock()
	b.handlers[t] = append(b.handlers[t], func(ev any) { fn(ev.(T)) })
	b.mu.Unlock()
}

// SwapBuffers rotates back→front and clears the new back buffer.
// Called once at tick start.
func (b *Bus) SwapBuffers() {
	b.mu.Lock()
	b.front, b.back = b.back, b.front
	for k := range b.back {
		b.back[k] = b.back[k][:0]
	}
	b.mu.Unlock()
}

// DispatchAll delivers all front-buffer events to their subscribed handlers.
// Runs on the game loop; handlers must not block.
func (b *Bus) DispatchAll() {
	b.mu.Lock()
	type batch struct {
		events   []any
		handlers []func(any)
	}
	batches := make([]batch, 0, len(b.front))
	for t, events := range b.front {
		if len(events) == 0 {
			continue
		}
		batches = append(batches, batch{events: events, handlers: b.handlers[t]})
	}
	b.mu.Unlock()

	for _, bt := range batches {
		for _, ev := range bt.events {
			for _, h := range bt.handlers {
				h(ev)
			}
		}
	}
}
