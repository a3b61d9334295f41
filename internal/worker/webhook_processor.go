package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/aakashsharma7/code-reviewer/common/id"
	"github.com/aakashsharma7/code-reviewer/common/logger"
	"github.com/aakashsharma7/code-reviewer/internal/fault"
	"github.com/aakashsharma7/code-reviewer/internal/model"
	"github.com/aakashsharma7/code-reviewer/internal/store"
)

// reviewableEvents are the canonical event types that trigger an
// analysis. Everything else is acknowledged and skipped.
var reviewableEvents = map[string]bool{
	"pull_request.opened":      true,
	"pull_request.reopened":    true,
	"pull_request.synchronize": true,
	"merge_request.open":       true,
	"merge_request.reopen":     true,
	"merge_request.update":     true,
}

// WebhookProcessor turns an accepted provider event into a pending
// review and an analysis job.
type WebhookProcessor struct {
	reviews  store.ReviewStore
	enqueuer Enqueuer
}

func NewWebhookProcessor(reviews store.ReviewStore, enqueuer Enqueuer) *WebhookProcessor {
	return &WebhookProcessor{reviews: reviews, enqueuer: enqueuer}
}

func (p *WebhookProcessor) Queue() model.QueueKind { return model.QueueWebhook }

func (p *WebhookProcessor) Process(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var event model.WebhookEvent
	if err := json.Unmarshal(job.Payload, &event); err != nil {
		return nil, fault.Validation(fmt.Sprintf("malformed webhook payload: %v", err))
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Provider:     logger.Ptr(string(event.Provider)),
		EventType:    logger.Ptr(event.EventType),
		RepositoryID: logger.Ptr(event.RepositoryID),
	})

	if event.IsTest {
		slog.InfoContext(ctx, "test event processed, skipping review creation")
		return json.RawMessage(`{"test":true,"status":"ok"}`), nil
	}

	if !reviewableEvents[event.EventType] {
		slog.DebugContext(ctx, "event type not reviewable, skipping")
		return json.Marshal(map[string]any{"skipped": event.EventType})
	}

	pullRequestID, userID, err := extractChange(event)
	if err != nil {
		return nil, err
	}

	review := &model.Review{
		ID:            id.New(),
		PullRequestID: pullRequestID,
		RepositoryID:  event.RepositoryID,
		UserID:        userID,
		AnalysisType:  "full",
		Status:        model.ReviewPending,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := p.reviews.Create(ctx, review); err != nil {
		return nil, fault.Transient("creating review", err)
	}

	payload, err := json.Marshal(model.AnalysisPayload{
		ReviewID:      review.ID,
		PullRequestID: pullRequestID,
		RepositoryID:  event.RepositoryID,
		UserID:        userID,
		AnalysisType:  review.AnalysisType,
	})
	if err != nil {
		return nil, fault.Fatal("marshal analysis payload", err)
	}

	analysisJobID, err := p.enqueuer.Enqueue(ctx, model.QueueAnalysis, payload, nil)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "analysis enqueued",
		"review_id", review.ID,
		"analysis_job_id", analysisJobID,
		"pull_request_id", pullRequestID)

	return json.Marshal(map[string]any{
		"review_id":       review.ID,
		"analysis_job_id": analysisJobID,
	})
}

// extractChange pulls the pull request and author identifiers out of the
// provider payload.
func extractChange(event model.WebhookEvent) (pullRequestID, userID int64, err error) {
	switch event.Provider {
	case model.ProviderGitHub:
		var p struct {
			PullRequest struct {
				Number int64 `json:"number"`
				User   struct {
					ID int64 `json:"id"`
				} `json:"user"`
			} `json:"pull_request"`
		}
		if err := json.Unmarshal(event.RawPayload, &p); err != nil || p.PullRequest.Number == 0 {
			return 0, 0, fault.Validation("payload has no pull request")
		}
		return p.PullRequest.Number, p.PullRequest.User.ID, nil

	case model.ProviderGitLab:
		var p gitlab.MergeEvent
		if err := json.Unmarshal(event.RawPayload, &p); err != nil || p.ObjectAttributes.IID == 0 {
			return 0, 0, fault.Validation("payload has no merge request")
		}
		var authorID int64
		if p.User != nil {
			authorID = int64(p.User.ID)
		}
		return int64(p.ObjectAttributes.IID), authorID, nil

	default:
		return 0, 0, fault.Validation("unknown provider")
	}
}
