package service

import (
	"context"
	"encoding/json"

	"github.com/aakashsharma7/code-reviewer/internal/model"
	"github.com/aakashsharma7/code-reviewer/internal/scheduler"
)

// JobStatusView is the external read model of a job. Result is present
// only for completed jobs; Error only after at least one failure.
type JobStatusView struct {
	ID       int64           `json:"id"`
	Status   string          `json:"status"`
	Progress int             `json:"progress"`
	Attempts int             `json:"attempts"`
	Data     json.RawMessage `json:"data"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    *JobErrorView   `json:"error,omitempty"`
}

type JobErrorView struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// JobService answers job status queries and relays operator actions to
// the scheduler.
type JobService struct {
	scheduler *scheduler.Scheduler
}

func NewJobService(sched *scheduler.Scheduler) *JobService {
	return &JobService{scheduler: sched}
}

func (s *JobService) GetStatus(ctx context.Context, id int64) (*JobStatusView, error) {
	job, err := s.scheduler.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &JobStatusView{
		ID:       job.ID,
		Status:   string(job.State),
		Progress: progressFor(job.State),
		Attempts: job.AttemptCount,
		Data:     job.Payload,
	}
	if job.State == model.JobCompleted {
		view.Result = job.Result
	}
	if job.LastError != nil {
		kind := ""
		if job.LastErrorKind != nil {
			kind = *job.LastErrorKind
		}
		view.Error = &JobErrorView{Message: *job.LastError, Kind: kind}
	}
	return view, nil
}

// Retry readmits a failed or dead job. Operator-only.
func (s *JobService) Retry(ctx context.Context, id int64) error {
	return s.scheduler.Retry(ctx, id)
}

// Cancel stops a job: queued jobs die immediately, active jobs are
// flagged and stop at the next cancellation check.
func (s *JobService) Cancel(ctx context.Context, id int64) error {
	return s.scheduler.Cancel(ctx, id)
}

func progressFor(state model.JobState) int {
	switch state {
	case model.JobQueued:
		return 0
	case model.JobActive:
		return 50
	default:
		return 100
	}
}
