package crm

import (
	"log/slog"
	"sync"
	"time"
)

// EventType identifies a state transition published on the Bus.
type EventType string

const (
	EventCustomerCreated  EventType = "customer_created"
	EventCustomerUpdated  EventType = "customer_updated"
	EventCustomerDeleted  EventType = "customer_deleted"
	EventInteractionAdded EventType = "interaction_added"
	EventChangeRecorded   EventType = "change_recorded"
	EventSyncStarted      EventType = "sync_started"
	EventSyncCompleted    EventType = "sync_completed"
	EventSyncFailed       EventType = "sync_failed"
	EventConflictDetected EventType = "conflict_detected"
	EventConflictResolved EventType = "conflict_resolved"
	EventNetworkOnline    EventType = "network_online"
	EventNetworkOffline   EventType = "network_offline"
)

// Event is delivered to subscribers. Data depends on Type: *Customer,
// *Interaction, *Change, *ConflictResolution, *SyncResult or error.
type Event struct {
	Type       EventType
	Timestamp  time.Time
	CustomerID string
	Data       any
}

// Handler receives events synchronously on the publishing goroutine.
type Handler func(Event)

// SubscriptionID identifies a registered handler.
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	typ     EventType // empty matches every event
	handler Handler
}

// Bus is a synchronous publish/subscribe hub. Handlers run in registration
// order; a panicking handler is recovered and logged.
type Bus struct {
	mu     sync.RWMutex
	nextID SubscriptionID
	subs   []subscription
	logger *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t EventType, h Handler) SubscriptionID {
	return b.add(t, h)
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) SubscriptionID {
	return b.add("", h)
}

func (b *Bus) add(t EventType, h Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, typ: t, handler: h})
	return b.nextID
}

// Unsubscribe removes a handler. It reports whether the id was registered.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers events in order to every matching handler.
func (b *Bus) Publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, ev := range events {
		for _, s := range subs {
			if s.typ != "" && s.typ != ev.Type {
				continue
			}
			b.deliver(s, ev)
		}
	}
}

func (b *Bus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panic recovered",
				"panic", r,
				"event", string(ev.Type),
				"subscription", uint64(s.id))
		}
	}()
	s.handler(ev)
}
