package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aakashsharma7/code-reviewer/common/logger"
	"github.com/aakashsharma7/code-reviewer/internal/fault"
	"github.com/aakashsharma7/code-reviewer/internal/model"
	"github.com/aakashsharma7/code-reviewer/internal/queue"
	"github.com/aakashsharma7/code-reviewer/internal/scheduler"
)

type PoolConfig struct {
	// Size is the number of concurrent consumers on this queue.
	Size int
}

// Pool drives one queue: a fixed set of goroutines reading announcements,
// claiming jobs through the scheduler, and running the processor under a
// heartbeated lease.
type Pool struct {
	consumer  Consumer
	scheduler JobScheduler
	processor Processor
	cfg       PoolConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewPool(consumer Consumer, sched JobScheduler, processor Processor, cfg PoolConfig) *Pool {
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	return &Pool{
		consumer:  consumer,
		scheduler: sched,
		processor: processor,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks until Stop is called or the context ends.
func (p *Pool) Run(ctx context.Context) {
	defer close(p.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: fmt.Sprintf("reviewer.worker.%s", p.processor.Queue()),
	})
	slog.InfoContext(ctx, "worker pool started", "queue", p.processor.Queue(), "size", p.cfg.Size)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.consumeLoop(ctx)
		}()
	}
	wg.Wait()
}

// Stop signals the pool to stop and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	close(p.stopCh)
	<-p.stoppedCh
}

func (p *Pool) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		messages, err := p.consumer.Read(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "stream read error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			p.handleMessage(ctx, msg)
		}
	}
}

// HandleMessage feeds one announcement through the claim path. Exported
// so the reclaimer can reuse it for reclaimed messages.
func (p *Pool) HandleMessage(ctx context.Context, msg queue.Message) error {
	p.handleMessage(ctx, msg)
	return nil
}

func (p *Pool) handleMessage(ctx context.Context, msg queue.Message) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     logger.Ptr(msg.JobID),
		MessageID: logger.Ptr(msg.ID),
	})

	// Announcements can arrive before the backoff gate opens (crash
	// between requeue and the delayed announce, or a sweeper re-announce).
	// Push them back instead of burning an attempt.
	if msg.NotBeforeMS > time.Now().UnixMilli() {
		if err := p.consumer.Reannounce(ctx, msg, msg.NotBeforeMS); err != nil {
			slog.ErrorContext(ctx, "failed to defer early announcement", "error", err)
		}
		return
	}

	job, lease, err := p.scheduler.Claim(ctx, msg.JobID)
	if err != nil {
		// Store unavailable: leave the message pending for redelivery.
		slog.ErrorContext(ctx, "claim failed, leaving message pending", "error", err)
		return
	}
	if job == nil {
		// Not claimable: duplicate announcement, backoff gate, cancel, or
		// exhausted attempts. Ack and move on.
		if err := p.consumer.Ack(ctx, msg); err != nil {
			slog.WarnContext(ctx, "failed to ack unclaimable message", "error", err)
		}
		return
	}

	p.runClaimed(ctx, job, lease)

	if err := p.consumer.Ack(ctx, msg); err != nil {
		slog.WarnContext(ctx, "failed to ack message", "error", err)
	}
}

func (p *Pool) runClaimed(ctx context.Context, job *model.Job, lease *scheduler.Lease) {
	slog.InfoContext(ctx, "job claimed",
		"queue", job.Queue,
		"attempt", job.AttemptCount,
		"max_attempts", job.MaxAttempts)

	// Cancellation is cooperative: checked before dispatch, again after.
	if job.Canceled {
		p.fail(ctx, lease, fault.Validation("job canceled"))
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go p.heartbeatLoop(hbCtx, lease)

	result, err := p.processSafe(ctx, job)

	if canceled := p.canceledNow(ctx, job.ID); canceled {
		p.fail(ctx, lease, fault.Validation("job canceled"))
		return
	}

	if err != nil {
		p.fail(ctx, lease, err)
		return
	}

	if err := p.scheduler.Complete(ctx, lease, result); err != nil {
		slog.ErrorContext(ctx, "failed to record completion", "error", err)
		return
	}
	slog.InfoContext(ctx, "job completed", "queue", job.Queue, "attempt", job.AttemptCount)
}

func (p *Pool) processSafe(ctx context.Context, job *model.Job) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in processor",
				"panic", r,
				"queue", job.Queue,
				"stack", string(debug.Stack()))
			err = fault.Transient(fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	return p.processor.Process(ctx, job)
}

func (p *Pool) fail(ctx context.Context, lease *scheduler.Lease, cause error) {
	slog.WarnContext(ctx, "job attempt failed",
		"error", logger.Truncate(cause.Error(), 500),
		"error_kind", fault.KindOf(cause))
	if err := p.scheduler.Fail(ctx, lease, cause); err != nil {
		slog.ErrorContext(ctx, "failed to record failure", "error", err)
	}
}

// canceledNow re-reads the cancellation flag after dispatch so a cancel
// raced with processing discards the result.
func (p *Pool) canceledNow(ctx context.Context, jobID int64) bool {
	job, err := p.scheduler.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	return job.Canceled
}

func (p *Pool) heartbeatLoop(ctx context.Context, lease *scheduler.Lease) {
	interval := lease.Timeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := p.scheduler.Heartbeat(ctx, lease)
			if err != nil {
				slog.WarnContext(ctx, "heartbeat error", "error", err, "job_id", lease.JobID)
				continue
			}
			if !held {
				slog.WarnContext(ctx, "lease lost", "job_id", lease.JobID)
				return
			}
		}
	}
}
