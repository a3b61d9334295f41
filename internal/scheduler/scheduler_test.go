package scheduler_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aakashsharma7/code-reviewer/internal/fault"
	"github.com/aakashsharma7/code-reviewer/internal/model"
	"github.com/aakashsharma7/code-reviewer/internal/queue"
	"github.com/aakashsharma7/code-reviewer/internal/scheduler"
)

var _ = Describe("Backoff policy", func() {
	It("doubles the exponential delay on every failed attempt", func() {
		policy := model.BackoffPolicy{Kind: model.BackoffExponential, BaseDelay: 5 * time.Second}
		Expect(policy.Delay(1)).To(Equal(5 * time.Second))
		Expect(policy.Delay(2)).To(Equal(10 * time.Second))
		Expect(policy.Delay(3)).To(Equal(20 * time.Second))
		Expect(policy.Delay(4)).To(Equal(40 * time.Second))
	})

	It("keeps the exponential delay strictly monotonic", func() {
		policy := model.BackoffPolicy{Kind: model.BackoffExponential, BaseDelay: time.Second}
		for attempt := 1; attempt < 10; attempt++ {
			Expect(policy.Delay(attempt + 1)).To(BeNumerically(">", policy.Delay(attempt)))
		}
	})

	It("keeps the fixed delay constant", func() {
		policy := model.BackoffPolicy{Kind: model.BackoffFixed, BaseDelay: 10 * time.Second}
		for attempt := 1; attempt < 6; attempt++ {
			Expect(policy.Delay(attempt)).To(Equal(10 * time.Second))
		}
	})
})

var _ = Describe("Scheduler", func() {
	var (
		ctx      context.Context
		jobs     *memJobStore
		producer *capturingProducer
		listener *recordingListener
		sched    *scheduler.Scheduler
	)

	policies := map[model.QueueKind]scheduler.Policy{
		model.QueueAnalysis: {
			MaxAttempts:  3,
			Backoff:      model.BackoffPolicy{Kind: model.BackoffExponential, BaseDelay: 10 * time.Millisecond},
			LeaseTimeout: time.Minute,
		},
		model.QueueReport: {
			MaxAttempts:  3,
			Backoff:      model.BackoffPolicy{Kind: model.BackoffFixed, BaseDelay: 10 * time.Millisecond},
			LeaseTimeout: time.Minute,
		},
	}

	enqueue := func(kind model.QueueKind) int64 {
		jobID, err := sched.Enqueue(ctx, kind, json.RawMessage(`{"review_id":5}`), nil)
		Expect(err).NotTo(HaveOccurred())
		return jobID
	}

	claim := func(jobID int64) *scheduler.Lease {
		job, lease, err := sched.Claim(ctx, jobID)
		Expect(err).NotTo(HaveOccurred())
		Expect(job).NotTo(BeNil())
		return lease
	}

	BeforeEach(func() {
		ctx = context.Background()
		jobs = newMemJobStore()
		producer = &capturingProducer{}
		listener = &recordingListener{}
		sched = scheduler.New(jobs,
			map[model.QueueKind]queue.Producer{
				model.QueueAnalysis: producer,
				model.QueueReport:   producer,
			},
			policies,
			scheduler.WithListener(listener),
		)
	})

	AfterEach(func() {
		sched.Shutdown()
	})

	Describe("Enqueue", func() {
		It("persists the job queued and announces it exactly once", func() {
			jobID := enqueue(model.QueueAnalysis)

			job, err := sched.GetJob(ctx, jobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.State).To(Equal(model.JobQueued))
			Expect(job.AttemptCount).To(BeZero())
			Expect(producer.count()).To(Equal(1))
			Expect(producer.last().JobID).To(Equal(jobID))
		})

		It("rejects an unknown queue kind", func() {
			_, err := sched.Enqueue(ctx, model.QueueKind("bogus"), nil, nil)
			Expect(fault.KindOf(err)).To(Equal(fault.KindValidation))
		})

		It("honors a per-job policy override", func() {
			jobID, err := sched.Enqueue(ctx, model.QueueAnalysis, json.RawMessage(`{}`), &scheduler.EnqueueOptions{MaxAttempts: 1})
			Expect(err).NotTo(HaveOccurred())

			job, err := sched.GetJob(ctx, jobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.MaxAttempts).To(Equal(1))
		})
	})

	Describe("Claim", func() {
		It("moves queued to active and increments the attempt count", func() {
			jobID := enqueue(model.QueueAnalysis)
			lease := claim(jobID)
			Expect(lease.Token).NotTo(BeZero())

			job, err := sched.GetJob(ctx, jobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.State).To(Equal(model.JobActive))
			Expect(job.AttemptCount).To(Equal(1))
		})

		It("refuses a second claim while the first lease is held", func() {
			jobID := enqueue(model.QueueAnalysis)
			claim(jobID)

			job, lease, err := sched.Claim(ctx, jobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job).To(BeNil())
			Expect(lease).To(BeNil())
		})

		It("treats a missing job as not claimable, not an error", func() {
			job, lease, err := sched.Claim(ctx, 424242)
			Expect(err).NotTo(HaveOccurred())
			Expect(job).To(BeNil())
			Expect(lease).To(BeNil())
		})
	})

	Describe("Complete", func() {
		It("records the result and transitions to completed", func() {
			jobID := enqueue(model.QueueAnalysis)
			lease := claim(jobID)

			Expect(sched.Complete(ctx, lease, json.RawMessage(`{"ok":true}`))).To(Succeed())

			job, err := sched.GetJob(ctx, jobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.State).To(Equal(model.JobCompleted))
			Expect(string(job.Result)).To(MatchJSON(`{"ok":true}`))
		})

		It("treats completion with a stale lease as a no-op", func() {
			jobID := enqueue(model.QueueAnalysis)
			lease := claim(jobID)

			stale := &scheduler.Lease{JobID: jobID, Token: lease.Token + 1, Timeout: lease.Timeout}
			Expect(sched.Complete(ctx, stale, json.RawMessage(`{"bad":true}`))).To(Succeed())

			job, err := sched.GetJob(ctx, jobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.State).To(Equal(model.JobActive))
			Expect(job.Result).To(BeNil())
		})
	})

	Describe("Fail and retry", func() {
		It("requeues a transient failure with the backoff gate set", func() {
			jobID := enqueue(model.QueueAnalysis)
			lease := claim(jobID)

			Expect(sched.Fail(ctx, lease, fault.Transient("scan unavailable", nil))).To(Succeed())

			job, err := sched.GetJob(ctx, jobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.State).To(Equal(model.JobQueued))
			Expect(job.NotBefore).NotTo(BeNil())
			Expect(job.AttemptCount).To(Equal(1))
		})

		It("sends a validation failure straight to dead", func() {
			jobID := enqueue(model.QueueAnalysis)
			lease := claim(jobID)

			Expect(sched.Fail(ctx, lease, fault.Validation("malformed payload"))).To(Succeed())

			job, err := sched.GetJob(ctx, jobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.State).To(Equal(model.JobDead))
			Expect(job.AttemptCount).To(Equal(1))
		})

		It("announces the retry after the backoff delay elapses", func() {
			jobID := enqueue(model.QueueAnalysis)
			lease := claim(jobID)
			Expect(sched.Fail(ctx, lease, fault.Transient("flaky", nil))).To(Succeed())

			// Enqueue announcement plus the delayed retry announcement.
			Eventually(producer.count).Should(Equal(2))
			Expect(producer.last().Attempt).To(Equal(2))
			Expect(producer.last().NotBeforeMS).To(BeNumerically(">", 0))
		})

		It("runs a fixed-backoff job to dead after exactly three transient failures", func() {
			jobID := enqueue(model.QueueReport)

			// The fixed policy for reports allows 3 attempts in this setup.
			for attempt := 1; attempt <= 3; attempt++ {
				// Clear the backoff gate so the next claim is immediately eligible.
				if job := jobs.get(jobID); job != nil && job.NotBefore != nil {
					past := time.Now().Add(-time.Second)
					jobs.mu.Lock()
					jobs.jobs[jobID].NotBefore = &past
					jobs.mu.Unlock()
				}
				lease := claim(jobID)
				Expect(sched.Fail(ctx, lease, fault.Transient("still down", nil))).To(Succeed())
			}

			job, err := sched.GetJob(ctx, jobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.State).To(Equal(model.JobDead))
			Expect(job.AttemptCount).To(Equal(3))

			// A fourth claim must not be possible.
			claimed, lease, err := sched.Claim(ctx, jobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(BeNil())
			Expect(lease).To(BeNil())
		})

		It("emits the transition sequence ending in dead", func() {
			jobID := enqueue(model.QueueAnalysis)
			lease := claim(jobID)
			Expect(sched.Fail(ctx, lease, fault.Validation("nope"))).To(Succeed())

			Expect(listener.transitions()).To(Equal([]string{
				"->queued",
				"queued->active",
				"active->failed",
				"failed->dead",
			}))
		})
	})

	Describe("Cancel", func() {
		It("moves a queued job straight to dead with the canceled flag", func() {
			jobID := enqueue(model.QueueAnalysis)

			Expect(sched.Cancel(ctx, jobID)).To(Succeed())

			job, err := sched.GetJob(ctx, jobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.State).To(Equal(model.JobDead))
			Expect(job.Canceled).To(BeTrue())
		})

		It("only flags an active job, never preempts it", func() {
			jobID := enqueue(model.QueueAnalysis)
			claim(jobID)

			Expect(sched.Cancel(ctx, jobID)).To(Succeed())

			job, err := sched.GetJob(ctx, jobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.State).To(Equal(model.JobActive))
			Expect(job.Canceled).To(BeTrue())
		})

		It("rejects cancel on a completed job", func() {
			jobID := enqueue(model.QueueAnalysis)
			lease := claim(jobID)
			Expect(sched.Complete(ctx, lease, nil)).To(Succeed())

			Expect(sched.Cancel(ctx, jobID)).To(MatchError(scheduler.ErrCancelNotAllowed))
		})

		It("returns ErrJobNotFound for an unknown job", func() {
			Expect(errors.Is(sched.Cancel(ctx, 99), scheduler.ErrJobNotFound)).To(BeTrue())
		})
	})

	Describe("Retry", func() {
		It("rejects retry of a queued or active job", func() {
			jobID := enqueue(model.QueueAnalysis)
			Expect(sched.Retry(ctx, jobID)).To(MatchError(scheduler.ErrRetryNotAllowed))

			claim(jobID)
			Expect(sched.Retry(ctx, jobID)).To(MatchError(scheduler.ErrRetryNotAllowed))
		})

		It("re-admits a dead job at its cap with exactly one more attempt", func() {
			jobID, err := sched.Enqueue(ctx, model.QueueAnalysis, json.RawMessage(`{}`), &scheduler.EnqueueOptions{MaxAttempts: 1})
			Expect(err).NotTo(HaveOccurred())

			lease := claim(jobID)
			Expect(sched.Fail(ctx, lease, fault.Transient("boom", nil))).To(Succeed())

			job, err := sched.GetJob(ctx, jobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.State).To(Equal(model.JobDead))

			Expect(sched.Retry(ctx, jobID)).To(Succeed())

			job, err = sched.GetJob(ctx, jobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.State).To(Equal(model.JobQueued))
			// Attempt count survives the readmit; only the cap moves.
			Expect(job.AttemptCount).To(Equal(1))
			Expect(job.MaxAttempts).To(Equal(2))

			lease = claim(jobID)
			Expect(sched.Fail(ctx, lease, fault.Transient("boom again", nil))).To(Succeed())

			job, err = sched.GetJob(ctx, jobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.State).To(Equal(model.JobDead))
		})
	})

	Describe("SweepExpiredLeases", func() {
		It("reverts an expired active lease to queued and re-announces", func() {
			jobID := enqueue(model.QueueAnalysis)
			claim(jobID)

			// Age the lease past expiry.
			expired := time.Now().Add(-time.Hour)
			jobs.mu.Lock()
			jobs.jobs[jobID].LeaseExpiresAt = &expired
			jobs.mu.Unlock()

			swept, err := sched.SweepExpiredLeases(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(swept).To(Equal(1))

			job, err := sched.GetJob(ctx, jobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.State).To(Equal(model.JobQueued))
			Expect(producer.count()).To(Equal(2))
		})

		It("leaves live leases alone", func() {
			jobID := enqueue(model.QueueAnalysis)
			claim(jobID)

			swept, err := sched.SweepExpiredLeases(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(swept).To(BeZero())

			job, err := sched.GetJob(ctx, jobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.State).To(Equal(model.JobActive))
		})
	})

	Describe("Heartbeat", func() {
		It("extends a held lease", func() {
			jobID := enqueue(model.QueueAnalysis)
			lease := claim(jobID)

			held, err := sched.Heartbeat(ctx, lease)
			Expect(err).NotTo(HaveOccurred())
			Expect(held).To(BeTrue())
		})

		It("reports a lost lease", func() {
			jobID := enqueue(model.QueueAnalysis)
			lease := claim(jobID)
			Expect(sched.Complete(ctx, lease, nil)).To(Succeed())

			held, err := sched.Heartbeat(ctx, lease)
			Expect(err).NotTo(HaveOccurred())
			Expect(held).To(BeFalse())
		})
	})
})
