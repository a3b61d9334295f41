package model

import (
	"encoding/json"
	"time"
)

type QueueKind string

const (
	QueueAnalysis QueueKind = "analysis"
	QueueWebhook  QueueKind = "webhook"
	QueueReport   QueueKind = "report"
)

func (q QueueKind) Valid() bool {
	switch q {
	case QueueAnalysis, QueueWebhook, QueueReport:
		return true
	}
	return false
}

type JobState string

const (
	JobQueued    JobState = "queued"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobDead      JobState = "dead"
)

// Terminal reports whether the state is externally terminal absent a
// manual retry.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobDead
}

type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffFixed       BackoffKind = "fixed"
)

type BackoffPolicy struct {
	Kind      BackoffKind   `json:"kind"`
	BaseDelay time.Duration `json:"base_delay"`
}

// Delay returns how long a job that just failed its attempt-th attempt
// must wait before it becomes eligible again. No delay applies before the
// first attempt.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch p.Kind {
	case BackoffFixed:
		return p.BaseDelay
	default:
		return p.BaseDelay * (1 << (attempt - 1))
	}
}

// Job is a durable, retryable unit of work on one of the typed queues.
// Owned exclusively by the scheduler for its lifetime: all state mutation
// goes through the scheduler's transition API. Retries mutate the same
// job; they never create a new one.
type Job struct {
	ID           int64           `json:"id"`
	Queue        QueueKind       `json:"queue"`
	Payload      json.RawMessage `json:"payload"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
	Backoff      BackoffPolicy   `json:"backoff"`
	State        JobState        `json:"state"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`

	// NotBefore gates queued→active eligibility after a backoff delay.
	NotBefore *time.Time `json:"not_before,omitempty"`

	// LeaseToken and LeaseExpiresAt are set while a worker holds the job.
	// A worker whose token no longer matches must treat completion as a
	// no-op.
	LeaseToken     *int64     `json:"lease_token,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	// Canceled is the cooperative cancellation flag. Workers check it
	// before and after analyzer dispatch; it is never preemptive.
	Canceled bool `json:"canceled"`

	LastError     *string         `json:"last_error,omitempty"`
	LastErrorKind *string         `json:"last_error_kind,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
}

// AnalysisPayload is the queue-kind-specific document carried by analysis
// jobs.
type AnalysisPayload struct {
	ReviewID      int64           `json:"review_id"`
	PullRequestID int64           `json:"pull_request_id"`
	RepositoryID  int64           `json:"repository_id"`
	UserID        int64           `json:"user_id"`
	AnalysisType  string          `json:"analysis_type"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
	IsTest        bool            `json:"is_test,omitempty"`
}

// ReportPayload is carried by report jobs.
type ReportPayload struct {
	ReviewID     int64 `json:"review_id"`
	RepositoryID int64 `json:"repository_id"`
	UserID       int64 `json:"user_id"`
}
