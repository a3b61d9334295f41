package worker

import (
	"context"
	"encoding/json"

	"github.com/aakashsharma7/code-reviewer/internal/model"
	"github.com/aakashsharma7/code-reviewer/internal/queue"
	"github.com/aakashsharma7/code-reviewer/internal/scheduler"
)

// Consumer abstracts the stream consumer for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Reannounce(ctx context.Context, msg queue.Message, notBeforeMS int64) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// JobScheduler is the slice of the scheduler a worker pool drives.
type JobScheduler interface {
	Claim(ctx context.Context, jobID int64) (*model.Job, *scheduler.Lease, error)
	Heartbeat(ctx context.Context, lease *scheduler.Lease) (bool, error)
	Complete(ctx context.Context, lease *scheduler.Lease, result json.RawMessage) error
	Fail(ctx context.Context, lease *scheduler.Lease, cause error) error
	GetJob(ctx context.Context, jobID int64) (*model.Job, error)
}

// Enqueuer lets a processor chain follow-up jobs without seeing the
// whole scheduler.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind model.QueueKind, payload json.RawMessage, opts *scheduler.EnqueueOptions) (int64, error)
}

// Processor executes one claimed job and returns its result document.
type Processor interface {
	Queue() model.QueueKind
	Process(ctx context.Context, job *model.Job) (json.RawMessage, error)
}
