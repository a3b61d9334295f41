package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aakashsharma7/code-reviewer/common/logger"
	"github.com/aakashsharma7/code-reviewer/internal/analyzer"
	"github.com/aakashsharma7/code-reviewer/internal/fault"
	"github.com/aakashsharma7/code-reviewer/internal/model"
	"github.com/aakashsharma7/code-reviewer/internal/realtime"
	"github.com/aakashsharma7/code-reviewer/internal/store"
)

// AnalysisProcessor runs a review end-to-end: dispatch to the analyzer,
// aggregate findings into issues, persist, and publish the outcome.
type AnalysisProcessor struct {
	reviews    store.ReviewStore
	issues     store.IssueStore
	dispatcher *analyzer.Dispatcher
	enqueuer   Enqueuer
	publisher  realtime.Publisher
}

func NewAnalysisProcessor(reviews store.ReviewStore, issues store.IssueStore, dispatcher *analyzer.Dispatcher, enqueuer Enqueuer, publisher realtime.Publisher) *AnalysisProcessor {
	return &AnalysisProcessor{
		reviews:    reviews,
		issues:     issues,
		dispatcher: dispatcher,
		enqueuer:   enqueuer,
		publisher:  publisher,
	}
}

func (p *AnalysisProcessor) Queue() model.QueueKind { return model.QueueAnalysis }

func (p *AnalysisProcessor) Process(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var payload model.AnalysisPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fault.Validation(fmt.Sprintf("malformed analysis payload: %v", err))
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ReviewID:      logger.Ptr(payload.ReviewID),
		PullRequestID: logger.Ptr(payload.PullRequestID),
		RepositoryID:  logger.Ptr(payload.RepositoryID),
	})

	if err := p.reviews.SetStatus(ctx, payload.ReviewID, model.ReviewInProgress); err != nil {
		return nil, fault.Transient("marking review in progress", err)
	}

	findings, err := p.dispatcher.Dispatch(ctx, job)
	if err != nil {
		// Last-writer-wins: a concurrent retry may overwrite this.
		if setErr := p.reviews.SetStatus(ctx, payload.ReviewID, model.ReviewFailed); setErr != nil {
			slog.ErrorContext(ctx, "failed to mark review failed", "error", setErr)
		}
		return nil, err
	}

	issues, stats := analyzer.Aggregate(ctx, payload.ReviewID, findings)

	if err := p.issues.UpsertBatch(ctx, payload.ReviewID, issues); err != nil {
		return nil, fault.Transient("storing issues", err)
	}
	if err := p.reviews.SetStats(ctx, payload.ReviewID, stats); err != nil {
		return nil, fault.Transient("storing review stats", err)
	}
	if err := p.reviews.SetStatus(ctx, payload.ReviewID, model.ReviewCompleted); err != nil {
		return nil, fault.Transient("marking review completed", err)
	}

	p.publishCompleted(ctx, payload, stats)
	p.enqueueReport(ctx, payload)

	slog.InfoContext(ctx, "review completed",
		"issues", stats.Total,
		"findings", len(findings))

	return json.Marshal(map[string]any{
		"review_id": payload.ReviewID,
		"issues":    stats.Total,
		"stats":     stats,
	})
}

func (p *AnalysisProcessor) publishCompleted(ctx context.Context, payload model.AnalysisPayload, stats model.ReviewStats) {
	rooms := []string{realtime.AdminRoom}
	if !payload.IsTest {
		rooms = append(rooms,
			realtime.UserRoom(payload.UserID),
			realtime.RepositoryRoom(payload.RepositoryID),
			realtime.PullRequestRoom(payload.PullRequestID),
		)
	}
	err := p.publisher.PublishDomain(ctx, rooms, realtime.EventReviewCompleted, map[string]any{
		"review_id":       payload.ReviewID,
		"pull_request_id": payload.PullRequestID,
		"repository_id":   payload.RepositoryID,
		"stats":           stats,
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to publish review completion", "error", err)
	}
}

func (p *AnalysisProcessor) enqueueReport(ctx context.Context, payload model.AnalysisPayload) {
	if payload.IsTest {
		return
	}
	reportPayload, err := json.Marshal(model.ReportPayload{
		ReviewID:     payload.ReviewID,
		RepositoryID: payload.RepositoryID,
		UserID:       payload.UserID,
	})
	if err != nil {
		slog.ErrorContext(ctx, "marshal report payload", "error", err)
		return
	}
	if _, err := p.enqueuer.Enqueue(ctx, model.QueueReport, reportPayload, nil); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue report job", "error", err)
	}
}
