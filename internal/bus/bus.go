// Package bus is a small in-process typed event bus. Handler faults are
// isolated per dispatch so one misbehaving observer cannot break delivery
// to the rest.
package bus

import (
	"sync"

	"github.com/rs/zerolog"
)

// Event is one published notification.
type Event struct {
	Kind string
	Data any
}

// Handler receives published events for one kind.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Bus fans events out to subscribed handlers, synchronously and in
// subscription order.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string][]subscription
	log    zerolog.Logger
}

func New(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[string][]subscription),
		log:  log,
	}
}

// Subscribe registers a handler for one event kind and returns a token for
// Unsubscribe.
func (b *Bus) Subscribe(kind string, fn Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[kind] = append(b.subs[kind], subscription{id: b.nextID, fn: fn})
	return b.nextID
}

func (b *Bus) Unsubscribe(kind string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[kind]
	for i, sub := range subs {
		if sub.id == id {
			b.subs[kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every handler subscribed to its kind. A panicking
// handler is logged and skipped; remaining handlers still run.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := make([]subscription, len(b.subs[ev.Kind]))
	copy(subs, b.subs[ev.Kind])
	b.mu.Unlock()

	for _, sub := range subs {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event", ev.Kind).
				Int("subscriber", sub.id).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	sub.fn(ev)
}

// Reset detaches every subscriber.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]subscription)
}
