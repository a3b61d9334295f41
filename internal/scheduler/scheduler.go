package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aakashsharma7/code-reviewer/common/id"
	"github.com/aakashsharma7/code-reviewer/common/logger"
	"github.com/aakashsharma7/code-reviewer/internal/fault"
	"github.com/aakashsharma7/code-reviewer/internal/model"
	"github.com/aakashsharma7/code-reviewer/internal/queue"
	"github.com/aakashsharma7/code-reviewer/internal/store"
)

var (
	// ErrJobNotFound is returned when the requested job does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrRetryNotAllowed is returned when a manual retry is requested for
	// a job whose state does not allow it.
	ErrRetryNotAllowed = errors.New("retry not allowed")
	// ErrCancelNotAllowed is returned when cancellation is requested for
	// a terminal job.
	ErrCancelNotAllowed = errors.New("cancel not allowed")
)

// Policy is the per-queue default retry policy applied when an enqueue
// carries no override.
type Policy struct {
	MaxAttempts  int
	Backoff      model.BackoffPolicy
	LeaseTimeout time.Duration
}

// Scheduler owns the three typed queues and the job state machine. It is
// constructed explicitly and passed by reference to the ingestion gateway
// and the workers; there are no ambient queue handles. All job mutation
// flows through its transition methods, which emit lifecycle events.
type Scheduler struct {
	jobs      store.JobStore
	producers map[model.QueueKind]queue.Producer
	policies  map[model.QueueKind]Policy

	mu        sync.Mutex
	listeners []LifecycleListener

	stopCh  chan struct{}
	stopped sync.Once
	timers  sync.WaitGroup
}

type Option func(*Scheduler)

func WithListener(l LifecycleListener) Option {
	return func(s *Scheduler) {
		s.listeners = append(s.listeners, l)
	}
}

func New(jobs store.JobStore, producers map[model.QueueKind]queue.Producer, policies map[model.QueueKind]Policy, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:      jobs,
		producers: producers,
		policies:  policies,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a lifecycle listener. Safe to call after start.
func (s *Scheduler) Subscribe(l LifecycleListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Shutdown waits for pending delayed retry announcements to fire or be
// abandoned. Abandoned announcements are safe: the job row keeps
// not_before, and the reclaimer re-announces overdue queued jobs.
func (s *Scheduler) Shutdown() {
	s.stopped.Do(func() { close(s.stopCh) })
	s.timers.Wait()
}

// EnqueueOptions carries an optional per-job policy override.
type EnqueueOptions struct {
	MaxAttempts int
	Backoff     *model.BackoffPolicy
}

// Enqueue persists a new job in state queued and announces it on the
// queue's stream. Store or stream unavailability is fatal, never retried
// here.
func (s *Scheduler) Enqueue(ctx context.Context, kind model.QueueKind, payload json.RawMessage, opts *EnqueueOptions) (int64, error) {
	if !kind.Valid() {
		return 0, fault.Validation(fmt.Sprintf("unknown queue kind %q", kind))
	}

	policy, ok := s.policies[kind]
	if !ok {
		return 0, fault.Fatal(fmt.Sprintf("no policy configured for queue %q", kind), nil)
	}

	maxAttempts := policy.MaxAttempts
	backoff := policy.Backoff
	if opts != nil {
		if opts.MaxAttempts > 0 {
			maxAttempts = opts.MaxAttempts
		}
		if opts.Backoff != nil {
			backoff = *opts.Backoff
		}
	}

	job := &model.Job{
		ID:          id.New(),
		Queue:       kind,
		Payload:     payload,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		State:       model.JobQueued,
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return 0, fault.Fatal("queue unavailable", err)
	}

	if err := s.producers[kind].Enqueue(ctx, queue.JobMessage{
		JobID:   job.ID,
		Queue:   kind,
		Attempt: 1,
	}); err != nil {
		return 0, fault.Fatal("queue unavailable", err)
	}

	s.emit(ctx, job, "", model.JobQueued)
	return job.ID, nil
}

// GetJob returns the job or ErrJobNotFound.
func (s *Scheduler) GetJob(ctx context.Context, jobID int64) (*model.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fault.Fatal("loading job", err)
	}
	return job, nil
}

// Cancel cancels a job. Queued jobs move straight to dead; active jobs
// only get the cooperative flag raised - the worker observes it at its
// next checkpoint, there is no preemption.
func (s *Scheduler) Cancel(ctx context.Context, jobID int64) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.State {
	case model.JobQueued:
		ok, err := s.jobs.CancelQueued(ctx, jobID)
		if err != nil {
			return fault.Fatal("canceling job", err)
		}
		if ok {
			s.emit(ctx, job, model.JobQueued, model.JobDead)
			return nil
		}
		// Lost the race against a claim; fall through to best-effort flag
		fallthrough
	case model.JobActive:
		if err := s.jobs.SetCanceled(ctx, jobID); err != nil {
			return fault.Fatal("flagging job canceled", err)
		}
		slog.InfoContext(ctx, "cancellation flag set for active job", "job_id", jobID)
		return nil
	default:
		return ErrCancelNotAllowed
	}
}

// Retry manually re-admits a failed or dead job. The attempt count is
// preserved; a dead job already at its attempt cap gets the cap lifted by
// one so the retry can actually run.
func (s *Scheduler) Retry(ctx context.Context, jobID int64) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if job.State != model.JobFailed && job.State != model.JobDead {
		return ErrRetryNotAllowed
	}

	raiseCap := job.AttemptCount >= job.MaxAttempts
	ok, err := s.jobs.ReadmitFailed(ctx, jobID, raiseCap)
	if err != nil {
		return fault.Fatal("readmitting job", err)
	}
	if !ok {
		return ErrRetryNotAllowed
	}

	if err := s.producers[job.Queue].Enqueue(ctx, queue.JobMessage{
		JobID:   jobID,
		Queue:   job.Queue,
		Attempt: job.AttemptCount + 1,
	}); err != nil {
		return fault.Fatal("queue unavailable", err)
	}

	s.emit(ctx, job, job.State, model.JobQueued)
	return nil
}

// Lease is a worker's temporary exclusive claim on a job.
type Lease struct {
	JobID   int64
	Token   int64
	Timeout time.Duration
}

// Claim attempts to take an exclusive lease on a queued job. Returns
// (nil, nil, nil) when the job is not claimable - already claimed,
// canceled, in backoff, or attempts exhausted. Not an error: the caller
// acks the announcement and moves on.
func (s *Scheduler) Claim(ctx context.Context, jobID int64) (*model.Job, *Lease, error) {
	policyTimeout := 5 * time.Minute

	// Queue kind isn't known until the row is read, so look it up first.
	existing, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, fault.Fatal("loading job for claim", err)
	}
	if policy, ok := s.policies[existing.Queue]; ok && policy.LeaseTimeout > 0 {
		policyTimeout = policy.LeaseTimeout
	}

	token := id.New()
	claimed, job, err := s.jobs.ClaimQueued(ctx, jobID, token, policyTimeout)
	if err != nil {
		return nil, nil, fault.Fatal("claiming job", err)
	}
	if !claimed {
		return nil, nil, nil
	}

	s.emit(ctx, job, model.JobQueued, model.JobActive)
	return job, &Lease{JobID: jobID, Token: token, Timeout: policyTimeout}, nil
}

// Heartbeat extends the worker's lease. Returns false when the lease has
// been lost, in which case the worker must abandon the job and treat any
// later completion as a no-op.
func (s *Scheduler) Heartbeat(ctx context.Context, lease *Lease) (bool, error) {
	held, err := s.jobs.Heartbeat(ctx, lease.JobID, lease.Token, lease.Timeout)
	if err != nil {
		return false, fault.Fatal("heartbeating lease", err)
	}
	return held, nil
}

// Complete records a successful outcome. A stale lease makes this a
// silent no-op.
func (s *Scheduler) Complete(ctx context.Context, lease *Lease, result json.RawMessage) error {
	job, err := s.GetJob(ctx, lease.JobID)
	if err != nil {
		return err
	}

	committed, err := s.jobs.CompleteLeased(ctx, lease.JobID, lease.Token, result)
	if err != nil {
		return fault.Fatal("completing job", err)
	}
	if !committed {
		slog.WarnContext(ctx, "stale lease on completion, dropping result", "job_id", lease.JobID)
		return nil
	}

	s.emit(ctx, job, model.JobActive, model.JobCompleted)
	return nil
}

// Fail records a failed attempt and applies retry policy: transient
// failures are re-admitted after the backoff delay while attempts remain;
// everything else, and exhausted jobs, go to dead.
func (s *Scheduler) Fail(ctx context.Context, lease *Lease, cause error) error {
	kind := fault.KindOf(cause)

	failed, job, err := s.jobs.FailLeased(ctx, lease.JobID, lease.Token, cause.Error(), string(kind))
	if err != nil {
		return fault.Fatal("failing job", err)
	}
	if !failed {
		slog.WarnContext(ctx, "stale lease on failure, dropping outcome", "job_id", lease.JobID)
		return nil
	}

	s.emit(ctx, job, model.JobActive, model.JobFailed)

	if fault.Retryable(cause) && job.AttemptCount < job.MaxAttempts {
		return s.scheduleRetry(ctx, job)
	}

	dead, err := s.jobs.MarkDead(ctx, lease.JobID)
	if err != nil {
		return fault.Fatal("marking job dead", err)
	}
	if dead {
		s.emit(ctx, job, model.JobFailed, model.JobDead)
		slog.ErrorContext(ctx, "job exhausted",
			"job_id", job.ID,
			"queue", job.Queue,
			"attempts", job.AttemptCount,
			"error_kind", kind,
			"error", logger.Truncate(cause.Error(), 500))
	}
	return nil
}

// scheduleRetry moves failed→queued with the backoff gate set, then
// announces the job on its stream once the delay elapses. The not_before
// gate on the row makes early announcements harmless.
func (s *Scheduler) scheduleRetry(ctx context.Context, job *model.Job) error {
	delay := job.Backoff.Delay(job.AttemptCount)
	notBefore := time.Now().Add(delay)

	ok, err := s.jobs.RequeueFailed(ctx, job.ID, notBefore)
	if err != nil {
		return fault.Fatal("requeueing job", err)
	}
	if !ok {
		return nil
	}

	s.emit(ctx, job, model.JobFailed, model.JobQueued)
	slog.InfoContext(ctx, "job scheduled for retry",
		"job_id", job.ID,
		"queue", job.Queue,
		"attempt", job.AttemptCount,
		"delay", delay)

	producer := s.producers[job.Queue]
	msg := queue.JobMessage{
		JobID:       job.ID,
		Queue:       job.Queue,
		Attempt:     job.AttemptCount + 1,
		NotBeforeMS: notBefore.UnixMilli(),
	}

	s.timers.Add(1)
	go func() {
		defer s.timers.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.stopCh:
			return
		}
		// Detached from the request context on purpose: the retry
		// announcement must not die with the caller.
		announceCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := producer.Enqueue(announceCtx, msg); err != nil {
			slog.ErrorContext(announceCtx, "failed to announce retry", "error", err, "job_id", msg.JobID)
		}
	}()

	return nil
}

// ReannounceQueued re-adds an announcement for a queued job whose lease
// expired or whose retry announcement was lost. Used by the reclaimer.
func (s *Scheduler) ReannounceQueued(ctx context.Context, job model.Job) error {
	var notBeforeMS int64
	if job.NotBefore != nil {
		notBeforeMS = job.NotBefore.UnixMilli()
	}
	return s.producers[job.Queue].Enqueue(ctx, queue.JobMessage{
		JobID:       job.ID,
		Queue:       job.Queue,
		Attempt:     job.AttemptCount + 1,
		NotBeforeMS: notBeforeMS,
	})
}

// SweepExpiredLeases reverts crashed workers' jobs to queued and
// re-announces them. Emits active→queued for each reverted job.
func (s *Scheduler) SweepExpiredLeases(ctx context.Context, limit int32) (int, error) {
	jobs, err := s.jobs.SweepExpiredLeases(ctx, time.Now(), limit)
	if err != nil {
		return 0, fault.Fatal("sweeping expired leases", err)
	}
	for i := range jobs {
		job := jobs[i]
		s.emit(ctx, &job, model.JobActive, model.JobQueued)
		if err := s.ReannounceQueued(ctx, job); err != nil {
			slog.ErrorContext(ctx, "failed to reannounce swept job", "error", err, "job_id", job.ID)
		}
	}
	return len(jobs), nil
}

func (s *Scheduler) emit(ctx context.Context, job *model.Job, from, to model.JobState) {
	ev := LifecycleEvent{
		JobID:     job.ID,
		Queue:     job.Queue,
		FromState: from,
		ToState:   to,
		Timestamp: time.Now(),
	}
	fillRouting(&ev, job)

	slog.DebugContext(ctx, "job transition",
		"job_id", ev.JobID,
		"queue", ev.Queue,
		"from", string(from),
		"to", string(to))

	s.mu.Lock()
	listeners := make([]LifecycleListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l.OnTransition(ctx, ev)
	}
}

// fillRouting extracts fanout addressing from the payload. Payloads that
// don't carry these fields just leave the hints zero.
func fillRouting(ev *LifecycleEvent, job *model.Job) {
	var hints struct {
		UserID        int64 `json:"user_id"`
		RepositoryID  int64 `json:"repository_id"`
		PullRequestID int64 `json:"pull_request_id"`
		ReviewID      int64 `json:"review_id"`
		IsTest        bool  `json:"is_test"`
	}
	if err := json.Unmarshal(job.Payload, &hints); err != nil {
		return
	}
	ev.UserID = hints.UserID
	ev.RepositoryID = hints.RepositoryID
	ev.PullRequestID = hints.PullRequestID
	ev.ReviewID = hints.ReviewID
	ev.IsTest = hints.IsTest
}
