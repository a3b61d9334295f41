package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aakashsharma7/code-reviewer/internal/fault"
	"github.com/aakashsharma7/code-reviewer/internal/model"
	"github.com/aakashsharma7/code-reviewer/internal/queue"
	"github.com/aakashsharma7/code-reviewer/internal/scheduler"
	"github.com/aakashsharma7/code-reviewer/internal/worker"
)

type mockConsumer struct {
	mu          sync.Mutex
	acked       []string
	reannounced []queue.Message
}

func (c *mockConsumer) Read(context.Context) ([]queue.Message, error) { return nil, nil }

func (c *mockConsumer) Ack(_ context.Context, msg queue.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, msg.ID)
	return nil
}

func (c *mockConsumer) Reannounce(_ context.Context, msg queue.Message, notBeforeMS int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg.NotBeforeMS = notBeforeMS
	c.reannounced = append(c.reannounced, msg)
	return nil
}

func (c *mockConsumer) SendDLQ(context.Context, queue.Message, string) error { return nil }

func (c *mockConsumer) ackedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.acked))
	copy(out, c.acked)
	return out
}

func (c *mockConsumer) reannouncedMsgs() []queue.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]queue.Message, len(c.reannounced))
	copy(out, c.reannounced)
	return out
}

type mockJobScheduler struct {
	ClaimFn  func(ctx context.Context, jobID int64) (*model.Job, *scheduler.Lease, error)
	GetJobFn func(ctx context.Context, jobID int64) (*model.Job, error)

	mu        sync.Mutex
	completed []json.RawMessage
	failed    []error
}

func (s *mockJobScheduler) Claim(ctx context.Context, jobID int64) (*model.Job, *scheduler.Lease, error) {
	return s.ClaimFn(ctx, jobID)
}

func (s *mockJobScheduler) Heartbeat(context.Context, *scheduler.Lease) (bool, error) {
	return true, nil
}

func (s *mockJobScheduler) Complete(_ context.Context, _ *scheduler.Lease, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, result)
	return nil
}

func (s *mockJobScheduler) Fail(_ context.Context, _ *scheduler.Lease, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, cause)
	return nil
}

func (s *mockJobScheduler) GetJob(ctx context.Context, jobID int64) (*model.Job, error) {
	if s.GetJobFn != nil {
		return s.GetJobFn(ctx, jobID)
	}
	return &model.Job{ID: jobID}, nil
}

func (s *mockJobScheduler) completions() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]json.RawMessage, len(s.completed))
	copy(out, s.completed)
	return out
}

func (s *mockJobScheduler) failures() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.failed))
	copy(out, s.failed)
	return out
}

type funcProcessor struct {
	queue     model.QueueKind
	processFn func(ctx context.Context, job *model.Job) (json.RawMessage, error)
}

func (p *funcProcessor) Queue() model.QueueKind { return p.queue }

func (p *funcProcessor) Process(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	return p.processFn(ctx, job)
}

var _ = Describe("Pool", func() {
	var (
		ctx      context.Context
		consumer *mockConsumer
		sched    *mockJobScheduler
		lease    *scheduler.Lease
		job      *model.Job
	)

	message := queue.Message{ID: "1-0", JobID: 77, Queue: model.QueueAnalysis, Attempt: 1}

	newPool := func(fn func(ctx context.Context, job *model.Job) (json.RawMessage, error)) *worker.Pool {
		processor := &funcProcessor{queue: model.QueueAnalysis, processFn: fn}
		return worker.NewPool(consumer, sched, processor, worker.PoolConfig{Size: 1})
	}

	BeforeEach(func() {
		ctx = context.Background()
		consumer = &mockConsumer{}
		lease = &scheduler.Lease{JobID: 77, Token: 1, Timeout: time.Minute}
		job = &model.Job{ID: 77, Queue: model.QueueAnalysis, AttemptCount: 1, MaxAttempts: 3, State: model.JobActive}
		sched = &mockJobScheduler{
			ClaimFn: func(context.Context, int64) (*model.Job, *scheduler.Lease, error) {
				return job, lease, nil
			},
		}
	})

	It("completes the job and acks the announcement on success", func() {
		pool := newPool(func(context.Context, *model.Job) (json.RawMessage, error) {
			return json.RawMessage(`{"ok":true}`), nil
		})

		Expect(pool.HandleMessage(ctx, message)).To(Succeed())

		Expect(sched.completions()).To(HaveLen(1))
		Expect(string(sched.completions()[0])).To(MatchJSON(`{"ok":true}`))
		Expect(consumer.ackedIDs()).To(Equal([]string{"1-0"}))
	})

	It("records the failure when the processor errors", func() {
		pool := newPool(func(context.Context, *model.Job) (json.RawMessage, error) {
			return nil, fault.Transient("upstream down", nil)
		})

		Expect(pool.HandleMessage(ctx, message)).To(Succeed())

		Expect(sched.failures()).To(HaveLen(1))
		Expect(fault.KindOf(sched.failures()[0])).To(Equal(fault.KindTransient))
		Expect(sched.completions()).To(BeEmpty())
	})

	It("contains a processor panic as a retryable failure", func() {
		pool := newPool(func(context.Context, *model.Job) (json.RawMessage, error) {
			panic("boom")
		})

		Expect(pool.HandleMessage(ctx, message)).To(Succeed())

		Expect(sched.failures()).To(HaveLen(1))
		Expect(fault.KindOf(sched.failures()[0])).To(Equal(fault.KindTransient))
	})

	It("defers an announcement whose backoff gate has not opened", func() {
		pool := newPool(func(context.Context, *model.Job) (json.RawMessage, error) {
			Fail("processor must not run")
			return nil, nil
		})

		early := message
		early.NotBeforeMS = time.Now().Add(time.Hour).UnixMilli()
		Expect(pool.HandleMessage(ctx, early)).To(Succeed())

		Expect(consumer.reannouncedMsgs()).To(HaveLen(1))
		Expect(sched.completions()).To(BeEmpty())
		Expect(sched.failures()).To(BeEmpty())
	})

	It("acks and skips an unclaimable job", func() {
		sched.ClaimFn = func(context.Context, int64) (*model.Job, *scheduler.Lease, error) {
			return nil, nil, nil
		}
		pool := newPool(func(context.Context, *model.Job) (json.RawMessage, error) {
			Fail("processor must not run")
			return nil, nil
		})

		Expect(pool.HandleMessage(ctx, message)).To(Succeed())
		Expect(consumer.ackedIDs()).To(Equal([]string{"1-0"}))
	})

	It("leaves the message pending when the claim itself fails", func() {
		sched.ClaimFn = func(context.Context, int64) (*model.Job, *scheduler.Lease, error) {
			return nil, nil, errors.New("store down")
		}
		pool := newPool(func(context.Context, *model.Job) (json.RawMessage, error) {
			Fail("processor must not run")
			return nil, nil
		})

		Expect(pool.HandleMessage(ctx, message)).To(Succeed())
		Expect(consumer.ackedIDs()).To(BeEmpty())
	})

	It("fails a job whose cancellation flag was already raised", func() {
		job.Canceled = true
		pool := newPool(func(context.Context, *model.Job) (json.RawMessage, error) {
			Fail("processor must not run")
			return nil, nil
		})

		Expect(pool.HandleMessage(ctx, message)).To(Succeed())

		Expect(sched.failures()).To(HaveLen(1))
		Expect(fault.KindOf(sched.failures()[0])).To(Equal(fault.KindValidation))
	})

	It("discards the result when cancellation raced the run", func() {
		sched.GetJobFn = func(_ context.Context, jobID int64) (*model.Job, error) {
			return &model.Job{ID: jobID, Canceled: true}, nil
		}
		pool := newPool(func(context.Context, *model.Job) (json.RawMessage, error) {
			return json.RawMessage(`{"ok":true}`), nil
		})

		Expect(pool.HandleMessage(ctx, message)).To(Succeed())

		Expect(sched.completions()).To(BeEmpty())
		Expect(sched.failures()).To(HaveLen(1))
	})
})
