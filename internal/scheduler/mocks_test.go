package scheduler_test

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

// memJobStore is an in-memory JobStore honoring the same transition
// semantics as the SQL implementation.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[int64]*model.Job
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[int64]*model.Job)}
}

func (m *memJobStore) get(id int64) *model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		copied := *job
		return &copied
	}
	return nil
}

func (m *memJobStore) Create(ctx context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	copied.CreatedAt = time.Now()
	copied.UpdatedAt = copied.CreatedAt
	m.jobs[job.ID] = &copied
	return nil
}

func (m *memJobStore) GetByID(ctx context.Context, id int64) (*model.Job, error) {
	if job := m.get(id); job != nil {
		return job, nil
	}
	return nil, store.ErrNotFound
}

func (m *memJobStore) ClaimQueued(ctx context.Context, id int64, leaseToken int64, leaseTTL time.Duration) (bool, *model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.State != model.JobQueued || job.Canceled {
		return false, nil, nil
	}
	if job.AttemptCount >= job.MaxAttempts {
		return false, nil, nil
	}
	if job.NotBefore != nil && job.NotBefore.After(time.Now()) {
		return false, nil, nil
	}
	job.State = model.JobActive
	job.AttemptCount++
	expiry := time.Now().Add(leaseTTL)
	job.LeaseToken = &leaseToken
	job.LeaseExpiresAt = &expiry
	copied := *job
	return true, &copied, nil
}

func (m *memJobStore) Heartbeat(ctx context.Context, id int64, leaseToken int64, leaseTTL time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.State != model.JobActive || job.LeaseToken == nil || *job.LeaseToken != leaseToken {
		return false, nil
	}
	expiry := time.Now().Add(leaseTTL)
	job.LeaseExpiresAt = &expiry
	return true, nil
}

func (m *memJobStore) CompleteLeased(ctx context.Context, id int64, leaseToken int64, result json.RawMessage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.State != model.JobActive || job.LeaseToken == nil || *job.LeaseToken != leaseToken {
		return false, nil
	}
	job.State = model.JobCompleted
	job.Result = result
	job.LeaseToken = nil
	job.LeaseExpiresAt = nil
	return true, nil
}

func (m *memJobStore) FailLeased(ctx context.Context, id int64, leaseToken int64, errMsg, errKind string) (bool, *model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.State != model.JobActive || job.LeaseToken == nil || *job.LeaseToken != leaseToken {
		return false, nil, nil
	}
	job.State = model.JobFailed
	job.LastError = &errMsg
	job.LastErrorKind = &errKind
	job.LeaseToken = nil
	job.LeaseExpiresAt = nil
	copied := *job
	return true, &copied, nil
}

func (m *memJobStore) RequeueFailed(ctx context.Context, id int64, notBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.State != model.JobFailed {
		return false, nil
	}
	job.State = model.JobQueued
	job.NotBefore = &notBefore
	return true, nil
}

func (m *memJobStore) MarkDead(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.State != model.JobFailed {
		return false, nil
	}
	job.State = model.JobDead
	return true, nil
}

func (m *memJobStore) CancelQueued(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.State != model.JobQueued {
		return false, nil
	}
	job.State = model.JobDead
	job.Canceled = true
	return true, nil
}

func (m *memJobStore) SetCanceled(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.Canceled = true
	}
	return nil
}

func (m *memJobStore) ReadmitFailed(ctx context.Context, id int64, raiseCap bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || (job.State != model.JobFailed && job.State != model.JobDead) {
		return false, nil
	}
	job.State = model.JobQueued
	job.NotBefore = nil
	job.Canceled = false
	if raiseCap {
		job.MaxAttempts = job.AttemptCount + 1
	}
	return true, nil
}

func (m *memJobStore) SweepExpiredLeases(ctx context.Context, now time.Time, limit int32) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var swept []model.Job
	for _, job := range m.jobs {
		if int32(len(swept)) >= limit {
			break
		}
		if job.State == model.JobActive && job.LeaseExpiresAt != nil && job.LeaseExpiresAt.Before(now) {
			job.State = model.JobQueued
			job.LeaseToken = nil
			job.LeaseExpiresAt = nil
			swept = append(swept, *job)
		}
	}
	return swept, nil
}

// capturingProducer records announcements instead of touching Redis.
type capturingProducer struct {
	mu       sync.Mutex
	messages []queue.JobMessage
	fail     bool
}

func (p *capturingProducer) Enqueue(ctx context.Context, msg queue.JobMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return context.DeadlineExceeded
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *capturingProducer) Close() error { return nil }

func (p *capturingProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func (p *capturingProducer) last() queue.JobMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages[len(p.messages)-1]
}

// recordingListener captures lifecycle transitions in order.
type recordingListener struct {
	mu     sync.Mutex
	events []scheduler.LifecycleEvent
}

func (l *recordingListener) OnTransition(ctx context.Context, ev scheduler.LifecycleEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *recordingListener) transitions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, string(ev.FromState)+"->"+string(ev.ToState))
	}
	return out
}
