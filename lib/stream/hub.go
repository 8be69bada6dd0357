// Package stream fans detected changes out to live listeners.
package stream

import (
	"sync"

	"github.com/fiffu/registrywatch/lib/models"
)

// Hub broadcasts batches of changes. Slow listeners miss batches rather than
// hold up the poll loop.
type Hub struct {
	mu        sync.RWMutex
	listeners map[chan []models.Change]struct{}
	buffer    int
}

func NewHub() *Hub {
	return &Hub{listeners: map[chan []models.Change]struct{}{}, buffer: 16}
}

// Subscribe registers a listener. Call the returned function to unregister;
// the channel is closed then.
func (h *Hub) Subscribe() (<-chan []models.Change, func()) {
	ch := make(chan []models.Change, h.buffer)
	h.mu.Lock()
	h.listeners[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers changes to every listener with room in its buffer and
// returns how many listeners were skipped.
func (h *Hub) Publish(changes []models.Change) (dropped int) {
	if len(changes) == 0 {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.listeners {
		select {
		case ch <- changes:
		default:
			dropped++
		}
	}
	return dropped
}

func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}
