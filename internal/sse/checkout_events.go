package sse

import (
	"context"
	"sync"

	"ms-stepping/internal/models"
)

const clientBuffer = 10

// CheckoutEventEmitter fans completed checkouts out to SSE subscribers, keyed
// by organizer and by event.
type CheckoutEventEmitter struct {
	orgClients     map[string][]chan models.CheckoutEvent
	orgClientMutex sync.RWMutex

	eventClients     map[string][]chan models.CheckoutEvent
	eventClientMutex sync.RWMutex
}

func NewCheckoutEventEmitter() *CheckoutEventEmitter {
	return &CheckoutEventEmitter{
		orgClients:   make(map[string][]chan models.CheckoutEvent),
		eventClients: make(map[string][]chan models.CheckoutEvent),
	}
}

// SubscribeToOrganizer returns a channel of every checkout across the
// organizer's events. It is closed once ctx is done.
func (e *CheckoutEventEmitter) SubscribeToOrganizer(ctx context.Context, organizerID string) <-chan models.CheckoutEvent {
	return subscribe(ctx, &e.orgClientMutex, e.orgClients, organizerID)
}

// SubscribeToEvent returns a channel of checkouts for one event. It is closed
// once ctx is done.
func (e *CheckoutEventEmitter) SubscribeToEvent(ctx context.Context, eventID string) <-chan models.CheckoutEvent {
	return subscribe(ctx, &e.eventClientMutex, e.eventClients, eventID)
}

// EmitCheckoutEvent broadcasts to organizer and event subscribers. Slow
// clients with a full buffer miss the event rather than block the caller.
func (e *CheckoutEventEmitter) EmitCheckoutEvent(evt models.CheckoutEvent) {
	broadcast(&e.orgClientMutex, e.orgClients, evt.OrganizerID, evt)
	broadcast(&e.eventClientMutex, e.eventClients, evt.EventID, evt)
}

func (e *CheckoutEventEmitter) GetOrgClientCount(organizerID string) int {
	e.orgClientMutex.RLock()
	defer e.orgClientMutex.RUnlock()
	return len(e.orgClients[organizerID])
}

func (e *CheckoutEventEmitter) GetEventClientCount(eventID string) int {
	e.eventClientMutex.RLock()
	defer e.eventClientMutex.RUnlock()
	return len(e.eventClients[eventID])
}

func subscribe(ctx context.Context, mu *sync.RWMutex, clients map[string][]chan models.CheckoutEvent, key string) <-chan models.CheckoutEvent {
	ch := make(chan models.CheckoutEvent, clientBuffer)

	mu.Lock()
	clients[key] = append(clients[key], ch)
	mu.Unlock()

	go func() {
		<-ctx.Done()
		remove(mu, clients, key, ch)
	}()
	return ch
}

// broadcast sends under the read lock so remove cannot close a channel
// mid-send.
func broadcast(mu *sync.RWMutex, clients map[string][]chan models.CheckoutEvent, key string, evt models.CheckoutEvent) {
	if key == "" {
		return
	}
	mu.RLock()
	defer mu.RUnlock()
	for _, ch := range clients[key] {
		select {
		case ch <- evt:
		default:
		}
	}
}

func remove(mu *sync.RWMutex, clients map[string][]chan models.CheckoutEvent, key string, ch chan models.CheckoutEvent) {
	mu.Lock()
	defer mu.Unlock()

	list := clients[key]
	for i, c := range list {
		if c == ch {
			clients[key] = append(list[:i], list[i+1:]...)
			close(ch)
			break
		}
	}
	if len(clients[key]) == 0 {
		delete(clients, key)
	}
}
