package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aakashsharma7/code-reviewer/common/logger"
	"github.com/aakashsharma7/code-reviewer/internal/fault"
	"github.com/aakashsharma7/code-reviewer/internal/model"
	"github.com/aakashsharma7/code-reviewer/internal/realtime"
	"github.com/aakashsharma7/code-reviewer/internal/store"
)

// ReportSummary is the document a report job produces. Rendering it into
// a client-facing format happens elsewhere.
type ReportSummary struct {
	ReviewID     int64                  `json:"review_id"`
	RepositoryID int64                  `json:"repository_id"`
	Status       model.ReviewStatus     `json:"status"`
	Stats        model.ReviewStats      `json:"stats"`
	TopRules     []RuleCount            `json:"top_rules,omitempty"`
	Severities   map[model.Severity]int `json:"severities,omitempty"`
}

type RuleCount struct {
	Rule  string `json:"rule"`
	Count int    `json:"count"`
}

const topRuleLimit = 5

// ReportProcessor builds a summary document from a completed review.
type ReportProcessor struct {
	reviews   store.ReviewStore
	publisher realtime.Publisher
}

func NewReportProcessor(reviews store.ReviewStore, publisher realtime.Publisher) *ReportProcessor {
	return &ReportProcessor{reviews: reviews, publisher: publisher}
}

func (p *ReportProcessor) Queue() model.QueueKind { return model.QueueReport }

func (p *ReportProcessor) Process(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var payload model.ReportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fault.Validation(fmt.Sprintf("malformed report payload: %v", err))
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ReviewID:     logger.Ptr(payload.ReviewID),
		RepositoryID: logger.Ptr(payload.RepositoryID),
	})

	review, err := p.reviews.GetWithIssues(ctx, payload.ReviewID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fault.Validation("review not found")
		}
		return nil, fault.Transient("loading review", err)
	}

	summary := buildSummary(review, payload.RepositoryID)

	result, err := json.Marshal(summary)
	if err != nil {
		return nil, fault.Fatal("marshal report summary", err)
	}

	rooms := []string{
		realtime.AdminRoom,
		realtime.UserRoom(payload.UserID),
		realtime.RepositoryRoom(payload.RepositoryID),
	}
	if err := p.publisher.PublishDomain(ctx, rooms, realtime.EventReportReady, summary); err != nil {
		slog.WarnContext(ctx, "failed to publish report", "error", err)
	}

	slog.InfoContext(ctx, "report built", "issues", summary.Stats.Total)
	return result, nil
}

func buildSummary(review *model.Review, repositoryID int64) ReportSummary {
	ruleCounts := make(map[string]int)
	for _, issue := range review.Issues {
		ruleCounts[issue.RuleID]++
	}

	rules := make([]RuleCount, 0, len(ruleCounts))
	for rule, count := range ruleCounts {
		rules = append(rules, RuleCount{Rule: rule, Count: count})
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Count != rules[j].Count {
			return rules[i].Count > rules[j].Count
		}
		return rules[i].Rule < rules[j].Rule
	})
	if len(rules) > topRuleLimit {
		rules = rules[:topRuleLimit]
	}

	return ReportSummary{
		ReviewID:     review.ID,
		RepositoryID: repositoryID,
		Status:       review.Status,
		Stats:        review.Stats,
		TopRules:     rules,
		Severities:   review.Stats.BySeverity,
	}
}
