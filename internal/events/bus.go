package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the gateway
type EventType string

const (
	EventBreakerTripped   EventType = "BREAKER_TRIPPED"
	EventBreakerHalfOpen  EventType = "BREAKER_HALF_OPEN"
	EventBreakerClosed    EventType = "BREAKER_CLOSED"
	EventNonceRecovered   EventType = "NONCE_RECOVERED"
	EventNoncePersisted   EventType = "NONCE_PERSISTED"
	EventBalanceRefreshed EventType = "BALANCE_REFRESHED"
	EventBalanceStale     EventType = "BALANCE_STALE"
	EventWSTokenRefreshed EventType = "WS_TOKEN_REFRESHED"
	EventWSDisconnected   EventType = "WS_DISCONNECTED"
	EventGatewayStarted   EventType = "GATEWAY_STARTED"
	EventGatewayStopped   EventType = "GATEWAY_STOPPED"
	EventError            EventType = "ERROR"
)

// Event represents a gateway event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Subscribers run in goroutines to avoid blocking the publisher
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishBreakerTransition publishes a circuit breaker state change
func (eb *EventBus) PublishBreakerTransition(from, to, reason string) {
	eventType := EventBreakerClosed
	switch to {
	case "open":
		eventType = EventBreakerTripped
	case "half_open":
		eventType = EventBreakerHalfOpen
	}

	eb.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"from":   from,
			"to":     to,
			"reason": reason,
		},
	})
}

// PublishNonceRecovered publishes a nonce recovery jump
func (eb *EventBus) PublishNonceRecovered(before, after uint64) {
	eb.Publish(Event{
		Type: EventNonceRecovered,
		Data: map[string]interface{}{
			"before": before,
			"after":  after,
		},
	})
}

// PublishBalanceRefreshed publishes a successful balance refresh
func (eb *EventBus) PublishBalanceRefreshed(assets int) {
	eb.Publish(Event{
		Type: EventBalanceRefreshed,
		Data: map[string]interface{}{
			"assets": assets,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(component string, err error) {
	if err == nil {
		return
	}
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"component": component,
			"error":     err.Error(),
		},
	})
}
