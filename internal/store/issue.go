package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/aakashsharma7/code-reviewer/core/db"
	"github.com/aakashsharma7/code-reviewer/internal/model"
)

type issueStore struct {
	q db.Querier
}

func newIssueStore(q db.Querier) IssueStore {
	return &issueStore{q: q}
}

func (s *issueStore) UpsertBatch(ctx context.Context, reviewID int64, issues []model.Issue) error {
	for _, issue := range issues {
		_, err := s.q.Exec(ctx, `
			INSERT INTO issues (review_id, key, severity, type, file_path, line,
				message, rule_id, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (review_id, key) DO UPDATE
			SET severity = EXCLUDED.severity,
			    type = EXCLUDED.type,
			    file_path = EXCLUDED.file_path,
			    line = EXCLUDED.line,
			    message = EXCLUDED.message,
			    rule_id = EXCLUDED.rule_id`,
			reviewID, issue.Key, string(issue.Severity), string(issue.Type),
			issue.FilePath, issue.Line, issue.Message, issue.RuleID, string(issue.Status),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *issueStore) ListByReview(ctx context.Context, reviewID int64) ([]model.Issue, error) {
	rows, err := s.q.Query(ctx, `
		SELECT review_id, key, severity, type, file_path, line, message, rule_id, status
		FROM issues WHERE review_id = $1
		ORDER BY key`, reviewID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var issues []model.Issue
	for rows.Next() {
		var (
			issue    model.Issue
			severity string
			itype    string
			status   string
		)
		if err := rows.Scan(&issue.ReviewID, &issue.Key, &severity, &itype,
			&issue.FilePath, &issue.Line, &issue.Message, &issue.RuleID, &status); err != nil {
			return nil, err
		}
		issue.Severity = model.Severity(severity)
		issue.Type = model.IssueType(itype)
		issue.Status = model.IssueStatus(status)
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}
