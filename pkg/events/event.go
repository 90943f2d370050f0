package events

import (
	"context"
	"time"
)

const (
	DocumentIngested = "DOCUMENT_INGESTED"
	DocumentDeleted  = "DOCUMENT_DELETED"
	TurnCompleted    = "TURN_COMPLETED"
)

// Event defines the contract for all domain events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "DOCUMENT_INGESTED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

func New(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now().UTC()}
}

// Publisher is implemented by the NATS publisher. Publishing is best effort
// for callers: domain operations never fail because an event was lost.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
