package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Domain event names emitted to rooms.
const (
	EventJobUpdate       = "job:update"
	EventReviewCompleted = "review:completed"
	EventIssueFound      = "issue:found"
	EventReportReady     = "report:ready"
)

// DomainEvent is a worker-originated event addressed to explicit rooms.
// It rides the same Redis channel as job lifecycle events.
type DomainEvent struct {
	Rooms   []string        `json:"rooms"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Publisher is what worker processors use to emit domain events.
type Publisher interface {
	PublishDomain(ctx context.Context, rooms []string, event string, payload any) error
}

// RedisPublisher publishes domain events on the worker→server channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) PublishDomain(ctx context.Context, rooms []string, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal domain payload: %w", err)
	}

	envelope := struct {
		Kind  string      `json:"kind"`
		Event DomainEvent `json:"event"`
	}{
		Kind:  "domain",
		Event: DomainEvent{Rooms: rooms, Event: event, Payload: data},
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal domain envelope: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish domain event: %w", err)
	}

	slog.DebugContext(ctx, "published domain event", "event", event, "rooms", rooms)
	return nil
}
