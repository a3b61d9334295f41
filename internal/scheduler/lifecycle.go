package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aakashsharma7/code-reviewer/internal/model"
)

// LifecycleEvent records one job state transition. It is the sole
// coupling point between the scheduler and the realtime fanout layer.
type LifecycleEvent struct {
	JobID     int64           `json:"job_id"`
	Queue     model.QueueKind `json:"queue"`
	FromState model.JobState  `json:"from_state"`
	ToState   model.JobState  `json:"to_state"`
	Timestamp time.Time       `json:"timestamp"`

	// Routing hints extracted from the job payload so the fanout layer
	// can address user/repository/PR rooms without re-reading the job.
	UserID        int64 `json:"user_id,omitempty"`
	RepositoryID  int64 `json:"repository_id,omitempty"`
	PullRequestID int64 `json:"pull_request_id,omitempty"`
	ReviewID      int64 `json:"review_id,omitempty"`
	IsTest        bool  `json:"is_test,omitempty"`
}

// LifecycleListener receives every job state transition. Listeners must
// not block; slow consumers should hand off to their own goroutine.
type LifecycleListener interface {
	OnTransition(ctx context.Context, ev LifecycleEvent)
}

// RedisLifecyclePublisher forwards lifecycle events onto a Redis pub/sub
// channel so the server process (which hosts the websocket fanout) sees
// transitions performed in the worker process.
type RedisLifecyclePublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisLifecyclePublisher(client *redis.Client, channel string) *RedisLifecyclePublisher {
	return &RedisLifecyclePublisher{client: client, channel: channel}
}

func (p *RedisLifecyclePublisher) OnTransition(ctx context.Context, ev LifecycleEvent) {
	envelope := struct {
		Kind  string         `json:"kind"`
		Event LifecycleEvent `json:"event"`
	}{Kind: "job_lifecycle", Event: ev}

	data, err := json.Marshal(envelope)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal lifecycle event", "error", err, "job_id", ev.JobID)
		return
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		slog.WarnContext(ctx, "failed to publish lifecycle event",
			"error", err,
			"job_id", ev.JobID,
			"channel", p.channel)
	}
}
