package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aakashsharma7/code-reviewer/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// JobStore defines the contract for job data access. Jobs are only ever
// mutated through the scheduler, which is the sole caller of the
// state-changing methods here.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	GetByID(ctx context.Context, id int64) (*model.Job, error)

	// ClaimQueued atomically moves an eligible queued job to active under
	// a lease, incrementing its attempt count. Returns false when the job
	// is not claimable (wrong state, backoff delay still pending, or
	// attempts exhausted).
	ClaimQueued(ctx context.Context, id int64, leaseToken int64, leaseTTL time.Duration) (bool, *model.Job, error)

	// Heartbeat extends the lease. Returns false if the lease is no
	// longer held by token.
	Heartbeat(ctx context.Context, id int64, leaseToken int64, leaseTTL time.Duration) (bool, error)

	// CompleteLeased moves active→completed iff token still holds the
	// lease. A stale lease makes this a no-op (returns false).
	CompleteLeased(ctx context.Context, id int64, leaseToken int64, result json.RawMessage) (bool, error)

	// FailLeased moves active→failed iff token still holds the lease,
	// recording the error message and kind.
	FailLeased(ctx context.Context, id int64, leaseToken int64, errMsg, errKind string) (bool, *model.Job, error)

	// RequeueFailed moves failed→queued with not_before set for backoff
	// eligibility. Attempt count is preserved.
	RequeueFailed(ctx context.Context, id int64, notBefore time.Time) (bool, error)

	// MarkDead moves failed→dead.
	MarkDead(ctx context.Context, id int64) (bool, error)

	// CancelQueued moves queued→dead with canceled=true. Returns false
	// if the job was not queued.
	CancelQueued(ctx context.Context, id int64) (bool, error)

	// SetCanceled raises the cooperative cancellation flag without
	// touching state.
	SetCanceled(ctx context.Context, id int64) error

	// ReadmitFailed re-admits a failed or dead job to queued, preserving
	// the attempt count. When raiseCap is true the attempt cap is lifted
	// to attempt_count+1 so the re-admitted job gets one more run.
	ReadmitFailed(ctx context.Context, id int64, raiseCap bool) (bool, error)

	// SweepExpiredLeases reverts active jobs whose lease expired back to
	// queued and returns them so the caller can re-announce them on the
	// stream.
	SweepExpiredLeases(ctx context.Context, now time.Time, limit int32) ([]model.Job, error)
}

// ReviewStore defines the contract for review data access
type ReviewStore interface {
	Create(ctx context.Context, review *model.Review) error
	GetByID(ctx context.Context, id int64) (*model.Review, error)
	GetWithIssues(ctx context.Context, id int64) (*model.Review, error)

	// SetStatus is last-writer-wins: concurrent analyses of the same pull
	// request may both update it.
	SetStatus(ctx context.Context, id int64, status model.ReviewStatus) error
	SetStats(ctx context.Context, id int64, stats model.ReviewStats) error
}

// IssueStore defines the contract for issue data access
type IssueStore interface {
	// UpsertBatch inserts issues for a review, de-duplicating on key.
	UpsertBatch(ctx context.Context, reviewID int64, issues []model.Issue) error
	ListByReview(ctx context.Context, reviewID int64) ([]model.Issue, error)
}
