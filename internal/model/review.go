package model

import "time"

type ReviewStatus string

const (
	ReviewPending    ReviewStatus = "pending"
	ReviewInProgress ReviewStatus = "in_progress"
	ReviewCompleted  ReviewStatus = "completed"
	ReviewFailed     ReviewStatus = "failed"
)

// ReviewStats tallies issue counts by severity and by type. The invariant
// sum(BySeverity) == sum(ByType) == Total holds for aggregator output.
type ReviewStats struct {
	Total      int               `json:"total"`
	BySeverity map[Severity]int  `json:"by_severity"`
	ByType     map[IssueType]int `json:"by_type"`
}

// Review is the unit a client subscribes to for progress. Created pending
// when an analysis job is enqueued, in_progress when a worker picks it up,
// completed or failed on terminal job outcome. Concurrent analyses of the
// same pull request are last-writer-wins on Status.
type Review struct {
	ID            int64        `json:"id"`
	PullRequestID int64        `json:"pull_request_id"`
	RepositoryID  int64        `json:"repository_id"`
	UserID        int64        `json:"user_id"`
	AnalysisType  string       `json:"analysis_type"`
	Status        ReviewStatus `json:"status"`
	Issues        []Issue      `json:"issues,omitempty"`
	Stats         ReviewStats  `json:"stats"`
	IsTest        bool         `json:"is_test,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
