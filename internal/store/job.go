package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aakashsharma7/code-reviewer/core/db"
	"github.com/aakashsharma7/code-reviewer/internal/model"
)

type jobStore struct {
	q db.Querier
}

func newJobStore(q db.Querier) JobStore {
	return &jobStore{q: q}
}

const jobColumns = `id, queue, payload, attempt_count, max_attempts, backoff_kind,
	backoff_base_delay_ms, state, created_at, updated_at, not_before,
	lease_token, lease_expires_at, canceled, last_error, last_error_kind, result`

func (s *jobStore) Create(ctx context.Context, job *model.Job) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO jobs (id, queue, payload, attempt_count, max_attempts,
			backoff_kind, backoff_base_delay_ms, state, created_at, updated_at, canceled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now(), false)`,
		job.ID, string(job.Queue), job.Payload, job.AttemptCount, job.MaxAttempts,
		string(job.Backoff.Kind), job.Backoff.BaseDelay.Milliseconds(), string(job.State),
	)
	return err
}

func (s *jobStore) GetByID(ctx context.Context, id int64) (*model.Job, error) {
	row := s.q.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *jobStore) ClaimQueued(ctx context.Context, id int64, leaseToken int64, leaseTTL time.Duration) (bool, *model.Job, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE jobs
		SET state = 'active',
		    attempt_count = attempt_count + 1,
		    lease_token = $2,
		    lease_expires_at = now() + $3::interval,
		    updated_at = now()
		WHERE id = $1
		  AND state = 'queued'
		  AND canceled = false
		  AND attempt_count < max_attempts
		  AND (not_before IS NULL OR not_before <= now())
		RETURNING `+jobColumns,
		id, leaseToken, leaseTTL.String(),
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Not claimable: already claimed, canceled, or still in backoff
			return false, nil, nil
		}
		return false, nil, err
	}
	return true, job, nil
}

func (s *jobStore) Heartbeat(ctx context.Context, id int64, leaseToken int64, leaseTTL time.Duration) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE jobs
		SET lease_expires_at = now() + $3::interval, updated_at = now()
		WHERE id = $1 AND state = 'active' AND lease_token = $2`,
		id, leaseToken, leaseTTL.String(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *jobStore) CompleteLeased(ctx context.Context, id int64, leaseToken int64, result json.RawMessage) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE jobs
		SET state = 'completed',
		    result = $3,
		    lease_token = NULL,
		    lease_expires_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND state = 'active' AND lease_token = $2`,
		id, leaseToken, result,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *jobStore) FailLeased(ctx context.Context, id int64, leaseToken int64, errMsg, errKind string) (bool, *model.Job, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE jobs
		SET state = 'failed',
		    last_error = $3,
		    last_error_kind = $4,
		    lease_token = NULL,
		    lease_expires_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND state = 'active' AND lease_token = $2
		RETURNING `+jobColumns,
		id, leaseToken, errMsg, errKind,
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Lease was lost; another worker owns the job now
			return false, nil, nil
		}
		return false, nil, err
	}
	return true, job, nil
}

func (s *jobStore) RequeueFailed(ctx context.Context, id int64, notBefore time.Time) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE jobs
		SET state = 'queued', not_before = $2, updated_at = now()
		WHERE id = $1 AND state = 'failed'`,
		id, notBefore,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *jobStore) MarkDead(ctx context.Context, id int64) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE jobs
		SET state = 'dead', updated_at = now()
		WHERE id = $1 AND state = 'failed'`,
		id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *jobStore) CancelQueued(ctx context.Context, id int64) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE jobs
		SET state = 'dead', canceled = true, updated_at = now()
		WHERE id = $1 AND state = 'queued'`,
		id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *jobStore) SetCanceled(ctx context.Context, id int64) error {
	_, err := s.q.Exec(ctx, `
		UPDATE jobs SET canceled = true, updated_at = now() WHERE id = $1`, id)
	return err
}

func (s *jobStore) ReadmitFailed(ctx context.Context, id int64, raiseCap bool) (bool, error) {
	var sql string
	if raiseCap {
		sql = `
		UPDATE jobs
		SET state = 'queued', max_attempts = attempt_count + 1,
		    not_before = NULL, canceled = false, updated_at = now()
		WHERE id = $1 AND state IN ('failed', 'dead')`
	} else {
		sql = `
		UPDATE jobs
		SET state = 'queued', not_before = NULL, canceled = false, updated_at = now()
		WHERE id = $1 AND state IN ('failed', 'dead') AND attempt_count < max_attempts`
	}
	tag, err := s.q.Exec(ctx, sql, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *jobStore) SweepExpiredLeases(ctx context.Context, now time.Time, limit int32) ([]model.Job, error) {
	rows, err := s.q.Query(ctx, `
		UPDATE jobs
		SET state = 'queued', lease_token = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE state = 'active' AND lease_expires_at < $1
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job         model.Job
		queue       string
		backoffKind string
		baseDelayMS int64
		state       string
	)
	err := row.Scan(
		&job.ID, &queue, &job.Payload, &job.AttemptCount, &job.MaxAttempts,
		&backoffKind, &baseDelayMS, &state, &job.CreatedAt, &job.UpdatedAt,
		&job.NotBefore, &job.LeaseToken, &job.LeaseExpiresAt, &job.Canceled,
		&job.LastError, &job.LastErrorKind, &job.Result,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	job.Queue = model.QueueKind(queue)
	job.State = model.JobState(state)
	job.Backoff = model.BackoffPolicy{
		Kind:      model.BackoffKind(backoffKind),
		BaseDelay: time.Duration(baseDelayMS) * time.Millisecond,
	}
	return &job, nil
}
