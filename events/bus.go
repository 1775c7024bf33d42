// Package events is a small typed publish/subscribe registry. It lets the request
// pipeline signal the session store without holding a reference to it.
package events

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
)

// Event is the closed set of application events.
type Event int

const (
	// ForceLogout is emitted once per failed refresh cycle. It carries no payload.
	ForceLogout Event = iota + 1
)

var eventNames = map[Event]string{
	ForceLogout: "FORCE_LOGOUT",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// Handler is invoked synchronously by Emit.
type Handler func()

// Subscription identifies a registered handler so it can be removed with Off.
type Subscription string

type listener struct {
	id      Subscription
	handler Handler
}

// Bus maps each event to its ordered listener set.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Event][]listener
}

func NewBus() *Bus {
	listeners := make(map[Event][]listener, len(eventNames))
	for e := range eventNames {
		listeners[e] = nil
	}
	return &Bus{listeners: listeners}
}

// On registers h for event and returns the handle needed by Off.
func (b *Bus) On(event Event, h Handler) (Subscription, error) {
	if h == nil {
		return "", fmt.Errorf("[Bus On] nil handler for %s", event)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.listeners[event]
	if !ok {
		return "", apperrors.Wrapf(apperrors.ErrUnknownEvent, "[Bus On] %s", event)
	}
	id := Subscription(uuid.New().String())
	b.listeners[event] = append(existing, listener{id: id, handler: h})
	return id, nil
}

// Off removes a subscription. Removing an unknown subscription is a no-op.
func (b *Bus) Off(event Event, id Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing := b.listeners[event]
	for i, l := range existing {
		if l.id == id {
			// copy so a snapshot taken by a concurrent Emit is not mutated
			next := make([]listener, 0, len(existing)-1)
			next = append(next, existing[:i]...)
			b.listeners[event] = append(next, existing[i+1:]...)
			return
		}
	}
}

// Emit calls every handler subscribed to event at the moment of the call.
// Handlers run outside the lock, so they may subscribe or unsubscribe.
func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	snapshot := b.listeners[event]
	b.mu.RUnlock()

	for _, l := range snapshot {
		l.handler()
	}
}

// Count returns the number of handlers registered for event.
func (b *Bus) Count(event Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[event])
}
