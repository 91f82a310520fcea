// Package broadcast routes order status events to at most one observer per
// order id. Delivery is best effort: an observer that fails is dropped and
// the order itself is never affected.
package broadcast

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ksred/swaprouter/internal/types"
)

// Observer receives status events for a single order. Implementations must be
// comparable (pointer types) and safe to call from any goroutine.
type Observer interface {
	Send(event types.StatusEvent) error
}

type Broadcaster struct {
	mu        sync.RWMutex
	observers map[string]Observer
}

func New() *Broadcaster {
	return &Broadcaster{observers: make(map[string]Observer)}
}

// Register attaches obs to orderID, replacing any existing observer
func (b *Broadcaster) Register(orderID string, obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers[orderID] = obs
}

func (b *Broadcaster) Deregister(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.observers, orderID)
}

// Unregister removes obs only if it is still the observer for orderID, so a
// closing connection cannot evict the one that replaced it
func (b *Broadcaster) Unregister(orderID string, obs Observer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.observers[orderID]; ok && current == obs {
		delete(b.observers, orderID)
		return true
	}
	return false
}

// Send delivers event to the observer of orderID, if any. A failed delivery
// drops the observer; the error is logged and not returned.
func (b *Broadcaster) Send(orderID string, event types.StatusEvent) {
	b.mu.RLock()
	obs, ok := b.observers[orderID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	if err := obs.Send(event); err != nil {
		b.Unregister(orderID, obs)
		log.Debug().
			Err(err).
			Str("order_id", orderID).
			Str("status", string(event.Status)).
			Msg("observer send failed, dropping observer")
	}
}

// Len returns the number of registered observers
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}
