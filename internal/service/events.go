package service

import "sync"

// EventType defines the type of event
type EventType string

const (
	EventSessionActivated     EventType = "session_activated"
	EventSessionDeactivated   EventType = "session_deactivated"
	EventTransportUnreachable EventType = "transport_unreachable"
	EventAssetResolved        EventType = "asset_resolved"
	EventAssetFailed          EventType = "asset_failed"
	EventDiscoveryComplete    EventType = "discovery_complete"
	EventDiscoveryFailed      EventType = "discovery_failed"
)

// Event represents something that happened in the coordinator, observable by
// the session owner
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// EventBus allows publishing and subscribing to events. A nil *EventBus
// drops everything, so components can be built without one.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan<- Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make([]chan<- Event, 0),
	}
}

// Subscribe adds a subscriber to receive events
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = append(eb.subscribers, ch)
}

// Unsubscribe removes a subscriber; the channel is not closed
func (eb *EventBus) Unsubscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, sub := range eb.subscribers {
		if sub == ch {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribers without blocking
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
