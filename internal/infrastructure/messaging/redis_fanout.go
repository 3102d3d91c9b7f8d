package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/learner-tiers/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS FANOUT
// ══════════════════════════════════════════════════════════════════════════════

// DefaultChannel is the Pub/Sub channel events are published on.
const DefaultChannel = "learner-tiers:events"

// RedisPublisher is the subset of the go-redis client used by RedisFanout.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisFanout publishes events as JSON envelopes on a Redis channel.
type RedisFanout struct {
	client  RedisPublisher
	channel string
	timeout time.Duration
}

// NewRedisFanout creates a publisher for channel (DefaultChannel when empty).
func NewRedisFanout(client RedisPublisher, channel string) (*RedisFanout, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisFanout{
		client:  client,
		channel: channel,
		timeout: 2 * time.Second,
	}, nil
}

// Publish implements shared.EventPublisher.
func (f *RedisFanout) Publish(event shared.Event) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	if err := f.client.Publish(ctx, f.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType(), err)
	}
	return nil
}

// Encode serializes event into a shared.EventEnvelope.
func Encode(event shared.Event) ([]byte, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	envelope := shared.EventEnvelope{
		ID:          uuid.NewString(),
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if base, ok := baseOf(event); ok {
		envelope.Version = base.Version
		envelope.CorrelationID = base.CorrelationID
	}

	return json.Marshal(envelope)
}

func baseOf(event shared.Event) (shared.BaseEvent, bool) {
	switch e := event.(type) {
	case shared.ClusteringCompletedEvent:
		return e.BaseEvent, true
	case shared.ClusteringFailedEvent:
		return e.BaseEvent, true
	case shared.ClusteringSkippedEvent:
		return e.BaseEvent, true
	}
	return shared.BaseEvent{}, false
}
