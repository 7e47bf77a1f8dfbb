// Fans out recorded events to currently connected live subscribers. Best-effort: no acks,
// no backlog for late joiners, subscribers that can't keep up are skipped.
package hub

import (
	"sync"

	"github.com/function61/doormonitor/pkg/dmdomain"
)

// how many undelivered messages a subscriber may have before it's considered not ready
const DefaultBufferSize = 16

type Subscription struct {
	messages chan dmdomain.LiveMessage
	once     sync.Once
}

// closed when the subscription is removed from the hub
func (s *Subscription) Messages() <-chan dmdomain.LiveMessage {
	return s.messages
}

type Hub struct {
	mu          sync.Mutex
	subscribers map[*Subscription]struct{}
	bufferSize  int
	skipped     func() // observes deliveries dropped because subscriber was not ready
}

func New() *Hub {
	return NewWithBufferSize(DefaultBufferSize)
}

func NewWithBufferSize(bufferSize int) *Hub {
	return &Hub{
		subscribers: map[*Subscription]struct{}{},
		bufferSize:  bufferSize,
		skipped:     func() {},
	}
}

func (h *Hub) OnSkipped(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.skipped = fn
}

func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		messages: make(chan dmdomain.LiveMessage, h.bufferSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.subscribers[sub] = struct{}{}

	return sub
}

// safe to call more than once
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subscribers, sub)

	sub.once.Do(func() { close(sub.messages) })
}

// holding the lock for the whole fan-out keeps broadcast(A) before broadcast(B) in that
// order for every subscriber. sends never block.
func (h *Hub) Broadcast(msg dmdomain.LiveMessage) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0

	for sub := range h.subscribers {
		select {
		case sub.messages <- msg:
			delivered++
		default:
			h.skipped()
		}
	}

	return delivered
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subscribers)
}
