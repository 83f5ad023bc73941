package event

import "sync"

// Handler consumes events. Handlers run synchronously on the publishing
// goroutine and must not block.
type Handler interface {
	Handle(Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Event)

// Handle calls f(e).
func (f HandlerFunc) Handle(e Event) { f(e) }

// Publisher is implemented by anything events can be sent to.
type Publisher interface {
	Publish(events ...Event)
}

// Bus fans events out to its handlers in subscription order. Events
// published while a delivery is in progress, including from inside a handler,
// are queued and delivered after the current one, so every handler observes
// the same total order.
type Bus struct {
	mu         sync.Mutex
	handlers   []Handler
	queue      []Event
	delivering bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe appends h to the handler list.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish implements Publisher.
func (b *Bus) Publish(events ...Event) {
	b.mu.Lock()
	b.queue = append(b.queue, events...)
	if b.delivering {
		b.mu.Unlock()
		return
	}
	b.delivering = true
	for len(b.queue) > 0 {
		e := b.queue[0]
		b.queue = b.queue[1:]
		handlers := b.handlers
		b.mu.Unlock()

		for _, h := range handlers {
			h.Handle(e)
		}

		b.mu.Lock()
	}
	b.delivering = false
	b.mu.Unlock()
}

// Collector records every event it handles; useful as a Publisher in tests.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (c *Collector) Publish(events ...Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
}

// Handle implements Handler.
func (c *Collector) Handle(e Event) { c.Publish(e) }

// Events returns a copy of everything collected so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Kinds returns the kinds collected so far, in order.
func (c *Collector) Kinds() []Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]Kind, len(c.events))
	for i, e := range c.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Reset drops everything collected.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}
