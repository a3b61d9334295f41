package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aakashsharma7/code-reviewer/internal/model"
	"github.com/aakashsharma7/code-reviewer/internal/queue"
	"github.com/aakashsharma7/code-reviewer/internal/scheduler"
	"github.com/aakashsharma7/code-reviewer/internal/store"
)

// stubJobStore records created jobs. The ingestion path only ever
// creates and reads jobs; the transition methods are inert here.
type stubJobStore struct {
	mu      sync.Mutex
	created []*model.Job
}

func (s *stubJobStore) Create(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, job)
	return nil
}

func (s *stubJobStore) GetByID(_ context.Context, id int64) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.created {
		if job.ID == id {
			return job, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *stubJobStore) createdJobs() []*model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Job, len(s.created))
	copy(out, s.created)
	return out
}

func (s *stubJobStore) ClaimQueued(context.Context, int64, int64, time.Duration) (bool, *model.Job, error) {
	return false, nil, nil
}

func (s *stubJobStore) Heartbeat(context.Context, int64, int64, time.Duration) (bool, error) {
	return false, nil
}

func (s *stubJobStore) CompleteLeased(context.Context, int64, int64, json.RawMessage) (bool, error) {
	return false, nil
}

func (s *stubJobStore) FailLeased(context.Context, int64, int64, string, string) (bool, *model.Job, error) {
	return false, nil, nil
}

func (s *stubJobStore) RequeueFailed(context.Context, int64, time.Time) (bool, error) {
	return false, nil
}

func (s *stubJobStore) MarkDead(context.Context, int64) (bool, error) { return false, nil }

func (s *stubJobStore) CancelQueued(context.Context, int64) (bool, error) { return false, nil }

func (s *stubJobStore) SetCanceled(context.Context, int64) error { return nil }

func (s *stubJobStore) ReadmitFailed(context.Context, int64, bool) (bool, error) { return false, nil }

func (s *stubJobStore) SweepExpiredLeases(context.Context, time.Time, int32) ([]model.Job, error) {
	return nil, nil
}

type stubProducer struct {
	mu       sync.Mutex
	messages []queue.JobMessage
}

func (p *stubProducer) Enqueue(_ context.Context, msg queue.JobMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *stubProducer) Close() error { return nil }

func (p *stubProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func newTestScheduler(jobs store.JobStore, producer queue.Producer) *scheduler.Scheduler {
	producers := map[model.QueueKind]queue.Producer{
		model.QueueWebhook:  producer,
		model.QueueAnalysis: producer,
		model.QueueReport:   producer,
	}
	policy := scheduler.Policy{
		MaxAttempts:  3,
		Backoff:      model.BackoffPolicy{Kind: model.BackoffFixed, BaseDelay: 10 * time.Millisecond},
		LeaseTimeout: time.Minute,
	}
	policies := map[model.QueueKind]scheduler.Policy{
		model.QueueWebhook:  policy,
		model.QueueAnalysis: policy,
		model.QueueReport:   policy,
	}
	return scheduler.New(jobs, producers, policies)
}
