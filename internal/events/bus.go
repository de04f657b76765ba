package events

import "sync"

// Handler receives published events.
type Handler func(Event)

// Bus is a synchronous in-process publish/subscribe dispatcher.
// Events are delivered in publish order per publisher; handlers run on
// the publishing goroutine and must not block.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[Kind]map[int]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Kind]map[int]Handler)}
}

// Subscribe registers a handler for one event kind and returns a token
// for Unsubscribe.
func (b *Bus) Subscribe(kind Kind, fn Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[int]Handler)
	}
	b.subs[kind][b.next] = fn
	return b.next
}

// Unsubscribe removes a previously registered handler. Unknown tokens
// are ignored.
func (b *Bus) Unsubscribe(kind Kind, token int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[kind], token)
}

// Publish delivers an event to every handler subscribed to its kind.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.EventKind()]))
	for _, fn := range b.subs[ev.EventKind()] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
