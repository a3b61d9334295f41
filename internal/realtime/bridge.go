package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/aakashsharma7/code-reviewer/common/logger"
	"github.com/aakashsharma7/code-reviewer/internal/scheduler"
)

// Bridge subscribes to the worker→server Redis channel and fans incoming
// events out to hub rooms. It is the server-side half of the sole
// coupling between the scheduler's lifecycle stream and the realtime
// layer.
type Bridge struct {
	client  *redis.Client
	channel string
	hub     *Hub

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewBridge(client *redis.Client, channel string, hub *Hub) *Bridge {
	return &Bridge{
		client:    client,
		channel:   channel,
		hub:       hub,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks consuming the channel until Stop is called or ctx ends.
func (b *Bridge) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "reviewer.realtime.bridge",
	})
	defer close(b.stoppedCh)

	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	slog.InfoContext(ctx, "realtime bridge started", "channel", b.channel)

	msgCh := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			slog.InfoContext(ctx, "realtime bridge stopping")
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			b.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (b *Bridge) Stop() {
	close(b.stopCh)
	<-b.stoppedCh
}

func (b *Bridge) handle(ctx context.Context, raw []byte) {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		slog.WarnContext(ctx, "malformed bridge message", "error", err)
		return
	}

	switch head.Kind {
	case "job_lifecycle":
		var envelope struct {
			Event scheduler.LifecycleEvent `json:"event"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			slog.WarnContext(ctx, "malformed lifecycle envelope", "error", err)
			return
		}
		b.fanOutLifecycle(ctx, envelope.Event)
	case "domain":
		var envelope struct {
			Event DomainEvent `json:"event"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			slog.WarnContext(ctx, "malformed domain envelope", "error", err)
			return
		}
		for _, room := range envelope.Event.Rooms {
			b.hub.Publish(ctx, room, envelope.Event.Event, envelope.Event.Payload)
		}
	default:
		slog.WarnContext(ctx, "unknown bridge message kind", "kind", head.Kind)
	}
}

// fanOutLifecycle publishes a job transition to every room matching the
// job's user, repository, and pull-request identifiers. Test jobs only
// reach the admin room so they stay out of externally visible history.
func (b *Bridge) fanOutLifecycle(ctx context.Context, ev scheduler.LifecycleEvent) {
	payload := map[string]any{
		"job_id": ev.JobID,
		"queue":  ev.Queue,
		"from":   ev.FromState,
		"to":     ev.ToState,
		"at":     ev.Timestamp,
	}
	if ev.ReviewID != 0 {
		payload["review_id"] = ev.ReviewID
	}

	b.hub.Publish(ctx, AdminRoom, EventJobUpdate, payload)
	if ev.IsTest {
		return
	}

	if ev.UserID != 0 {
		b.hub.Publish(ctx, UserRoom(ev.UserID), EventJobUpdate, payload)
	}
	if ev.RepositoryID != 0 {
		b.hub.Publish(ctx, RepositoryRoom(ev.RepositoryID), EventJobUpdate, payload)
	}
	if ev.PullRequestID != 0 {
		b.hub.Publish(ctx, PullRequestRoom(ev.PullRequestID), EventJobUpdate, payload)
	}
}
