package marketplace

import (
	"sync"

	"github.com/google/uuid"
)

// ChangeKind tells subscribers which part of the state moved
type ChangeKind string

const (
	ChangeSnapshot     ChangeKind = "snapshot"
	ChangeInventory    ChangeKind = "inventory"
	ChangeAuction      ChangeKind = "auction"
	ChangeHistory      ChangeKind = "history"
	ChangeActionFailed ChangeKind = "action_failed"
	ChangeSelection    ChangeKind = "selection"
)

// Change is a notification sent to subscribers after state changed.
// Subscribers read fresh views from the Marketplace; a Change carries no data.
type Change struct {
	Kind      ChangeKind
	AuctionID int64
	ActionID  uuid.UUID
	Err       error
}

// Subscription delivers change notifications until disposed
type Subscription struct {
	id  int
	ch  chan Change
	hub *hub
}

// Changes returns the notification channel. It is closed by Dispose.
func (s *Subscription) Changes() <-chan Change {
	return s.ch
}

// Dispose stops delivery and closes the channel. No notification is sent
// after Dispose returns. Calling it twice is a no-op.
func (s *Subscription) Dispose() {
	s.hub.remove(s.id)
}

// hub fans notifications out to subscribers. A subscriber whose buffer is
// full misses the notification; the next one still tells it to re-read.
type hub struct {
	mu     sync.Mutex
	subs   map[int]chan Change
	nextID int
	buffer int
}

func newHub(buffer int) *hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &hub{subs: make(map[int]chan Change), buffer: buffer}
}

func (h *hub) add() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ch := make(chan Change, h.buffer)
	h.subs[h.nextID] = ch
	return &Subscription{id: h.nextID, ch: ch, hub: h}
}

func (h *hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *hub) publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
