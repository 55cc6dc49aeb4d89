package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryBus delivers every event to all current listeners before Publish
// returns. Listener order is unspecified.
type InMemoryBus struct {
	mu        sync.RWMutex
	listeners map[string]Listener
}

func NewBus() *InMemoryBus {
	return &InMemoryBus{
		listeners: make(map[string]Listener),
	}
}

func (b *InMemoryBus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	// Copy under the lock so a listener may unsubscribe itself.
	b.mu.RLock()
	targets := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		targets = append(targets, l)
	}
	b.mu.RUnlock()

	for _, l := range targets {
		l(e)
	}
}

func (b *InMemoryBus) Subscribe(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	b.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

func (b *InMemoryBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
