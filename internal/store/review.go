package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/aakashsharma7/code-reviewer/core/db"
	"github.com/aakashsharma7/code-reviewer/internal/model"
)

type reviewStore struct {
	q db.Querier
}

func newReviewStore(q db.Querier) ReviewStore {
	return &reviewStore{q: q}
}

func (s *reviewStore) Create(ctx context.Context, review *model.Review) error {
	statsJSON, err := json.Marshal(review.Stats)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO reviews (id, pull_request_id, repository_id, user_id,
			analysis_type, status, stats, is_test, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		review.ID, review.PullRequestID, review.RepositoryID, review.UserID,
		review.AnalysisType, string(review.Status), statsJSON, review.IsTest,
	)
	return err
}

func (s *reviewStore) GetByID(ctx context.Context, id int64) (*model.Review, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, pull_request_id, repository_id, user_id, analysis_type,
		       status, stats, is_test, created_at, updated_at
		FROM reviews WHERE id = $1`, id)
	return scanReview(row)
}

func (s *reviewStore) GetWithIssues(ctx context.Context, id int64) (*model.Review, error) {
	review, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	issues, err := newIssueStore(s.q).ListByReview(ctx, id)
	if err != nil {
		return nil, err
	}
	review.Issues = issues
	return review, nil
}

func (s *reviewStore) SetStatus(ctx context.Context, id int64, status model.ReviewStatus) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE reviews SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *reviewStore) SetStats(ctx context.Context, id int64, stats model.ReviewStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx, `
		UPDATE reviews SET stats = $2, updated_at = now() WHERE id = $1`,
		id, statsJSON,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanReview(row rowScanner) (*model.Review, error) {
	var (
		review    model.Review
		status    string
		statsJSON []byte
	)
	err := row.Scan(
		&review.ID, &review.PullRequestID, &review.RepositoryID, &review.UserID,
		&review.AnalysisType, &status, &statsJSON, &review.IsTest,
		&review.CreatedAt, &review.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	review.Status = model.ReviewStatus(status)
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &review.Stats); err != nil {
			return nil, err
		}
	}
	return &review, nil
}
