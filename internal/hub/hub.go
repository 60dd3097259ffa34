package hub

import (
	"log"
	"sync"
	"sync/atomic"

	"qms/token-sync/internal/models"
)

type Listener func(models.Event)

type Subscription struct {
	id     uint64
	hub    *Hub
	closed *atomic.Bool
	once   sync.Once
}

// Close releases the registration. A broadcast already running skips the
// listener if it has not reached it yet. Safe to call more than once.
func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.closed.Store(true)
		s.hub.remove(s.id)
	})
}

type entry struct {
	id       uint64
	listener Listener
	closed   *atomic.Bool
}

// Hub keeps listeners in registration order and delivers events to them
// synchronously on the caller's goroutine.
type Hub struct {
	mu      sync.RWMutex
	nextID  uint64
	entries []entry
}

func New() *Hub {
	return &Hub{}
}

func (h *Hub) Register(listener Listener) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	closed := new(atomic.Bool)
	h.entries = append(h.entries, entry{id: h.nextID, listener: listener, closed: closed})
	return &Subscription{id: h.nextID, hub: h, closed: closed}
}

func (h *Hub) Unregister(sub *Subscription) {
	if sub == nil || sub.hub != h {
		return
	}
	sub.Close()
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.entries {
		if e.id == id {
			h.entries = append(h.entries[:i:i], h.entries[i+1:]...)
			return
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Broadcast invokes every listener registered at the time of the call and
// still open when its turn comes. Listeners may register or unregister
// from inside the callback.
func (h *Hub) Broadcast(event models.Event) int {
	h.mu.RLock()
	targets := make([]entry, len(h.entries))
	copy(targets, h.entries)
	h.mu.RUnlock()

	delivered := 0
	for _, target := range targets {
		if target.closed.Load() {
			continue
		}
		if deliver(target, event) {
			delivered++
		}
	}
	return delivered
}

func deliver(target entry, event models.Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("listener panic listener=%d event=%s err=%v", target.id, event.Kind, r)
			ok = false
		}
	}()
	target.listener(event)
	return true
}
