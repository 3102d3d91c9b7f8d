// Package shared contains common domain types, errors and events that are
// used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types.
const (
	// EventClusteringCompleted is published after a run was persisted.
	EventClusteringCompleted EventType = "clustering.completed"

	// EventClusteringFailed is published when a run ended with an error.
	EventClusteringFailed EventType = "clustering.failed"

	// EventClusteringSkipped is published when the run policy declined a run.
	EventClusteringSkipped EventType = "clustering.skipped"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Clustering Events
// ═══════════════════════════════════════════════════════════════════════════

// ClusteringCompletedEvent is emitted after a snapshot was stored.
// AggregateID is the run id.
type ClusteringCompletedEvent struct {
	BaseEvent
	TotalStudents int            `json:"total_students"`
	Clusters      int            `json:"clusters"`
	Inertia       float64        `json:"inertia"`
	LabelCounts   map[string]int `json:"label_counts"`
	Duration      time.Duration  `json:"duration"`
}

// Payload implements Event interface.
func (e ClusteringCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"total_students": e.TotalStudents,
		"clusters":       e.Clusters,
		"inertia":        e.Inertia,
		"label_counts":   e.LabelCounts,
		"duration_ms":    e.Duration.Milliseconds(),
	}
}

// NewClusteringCompletedEvent creates a new ClusteringCompletedEvent.
func NewClusteringCompletedEvent(runID string, total, clusters int, inertia float64, labelCounts map[string]int, d time.Duration) ClusteringCompletedEvent {
	return ClusteringCompletedEvent{
		BaseEvent:     NewBaseEvent(EventClusteringCompleted, runID),
		TotalStudents: total,
		Clusters:      clusters,
		Inertia:       inertia,
		LabelCounts:   labelCounts,
		Duration:      d,
	}
}

// ClusteringFailedEvent is emitted when a run fails.
type ClusteringFailedEvent struct {
	BaseEvent
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// Payload implements Event interface.
func (e ClusteringFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"kind":  e.Kind,
		"error": e.Error,
	}
}

// NewClusteringFailedEvent creates a new ClusteringFailedEvent.
func NewClusteringFailedEvent(runID string, err error) ClusteringFailedEvent {
	return ClusteringFailedEvent{
		BaseEvent: NewBaseEvent(EventClusteringFailed, runID),
		Kind:      ErrorKind(err),
		Error:     err.Error(),
	}
}

// ClusteringSkippedEvent is emitted when the run policy decided not to run.
type ClusteringSkippedEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

// Payload implements Event interface.
func (e ClusteringSkippedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"reason": e.Reason}
}

// NewClusteringSkippedEvent creates a new ClusteringSkippedEvent.
func NewClusteringSkippedEvent(reason string) ClusteringSkippedEvent {
	return ClusteringSkippedEvent{
		BaseEvent: NewBaseEvent(EventClusteringSkipped, ""),
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
