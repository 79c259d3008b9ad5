package ocr

import (
	"log/slog"
	"sync"
	"time"
)

// subscriberBuffer bounds how many undrained events a connection may
// hold before it is considered broken.
const subscriberBuffer = 8

// Subscriber is one live result-waiting connection for an owner. Events
// arrive on the channel returned by Events; the channel is closed when
// the subscriber is replaced or unregistered.
type Subscriber struct {
	owner        string
	events       chan Event
	registeredAt time.Time
	closed       bool // guarded by the registry mutex
}

// Events returns the receive side of the subscriber's event channel.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Registry tracks at most one live subscriber per owner. All state
// transitions happen as single mutex-guarded steps, so a send can never
// race a close on the same channel.
type Registry struct {
	mu   sync.Mutex
	subs map[string]*Subscriber
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]*Subscriber)}
}

// Register creates a subscriber for owner, replacing and closing any
// previous one (last registration wins). The new subscriber receives a
// "connected" acknowledgment immediately.
func (r *Registry) Register(owner string) *Subscriber {
	sub := &Subscriber{
		owner:        owner,
		events:       make(chan Event, subscriberBuffer),
		registeredAt: time.Now(),
	}

	r.mu.Lock()
	if prev, ok := r.subs[owner]; ok {
		r.closeLocked(prev)
		slog.Debug("Replaced result subscriber", "owner", owner)
	}
	r.subs[owner] = sub
	sub.events <- Event{Type: "connected", Message: "Connected to receipt updates"}
	r.mu.Unlock()

	return sub
}

// Unregister removes the subscriber for owner only if the stored handle
// still matches sub. A stale unregister from a just-replaced connection
// must not evict its successor.
func (r *Registry) Unregister(owner string, sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.subs[owner]
	if !ok || current != sub {
		return
	}
	delete(r.subs, owner)
	r.closeLocked(current)
}

// Deliver pushes ev to the live subscriber for owner and reports whether
// a subscriber received it. A full event buffer means the connection is
// stalled or dead: the subscriber is evicted and Deliver returns false,
// same as if no subscriber existed.
func (r *Registry) Deliver(owner string, ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[owner]
	if !ok || sub.closed {
		return false
	}

	select {
	case sub.events <- ev:
		return true
	default:
		delete(r.subs, owner)
		r.closeLocked(sub)
		slog.Warn("Evicted stalled result subscriber", "owner", owner)
		return false
	}
}

// Len returns the number of live subscribers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *Registry) closeLocked(sub *Subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.events)
}
