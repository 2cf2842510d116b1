package agent

import (
	"sync"

	"github.com/mw10013/orgagent/pkg/models"
)

const subscriberBuffer = 16

// hub fans one tenant's events out to its connected observers. Publishing
// never blocks: a subscriber that cannot keep up has the event dropped rather
// than stalling the agent.
type hub struct {
	mu   sync.Mutex
	subs map[uint64]chan models.Event
	next uint64
}

func newHub() *hub {
	return &hub{subs: make(map[uint64]chan models.Event)}
}

func (h *hub) subscribe() (<-chan models.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan models.Event, subscriberBuffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (h *hub) publish(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
