package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs
// within a context. Fields flow through context enrichment so pipeline
// context (job_id, review_id, etc.) shows up in every log statement
// without being threaded by hand.
type LogFields struct {
	JobID         *int64  // Scheduler job ID
	ReviewID      *int64  // Review the job is working on
	PullRequestID *int64  // Pull request under analysis
	RepositoryID  *int64  // Repository the event belongs to
	MessageID     *string // Redis stream message ID
	Provider      *string // Source-control provider ("github", "gitlab")
	EventType     *string // Webhook event type (e.g. "pull_request.opened")
	Room          *string // Realtime room name
	Component     string  // Component name (e.g. "reviewer.scheduler")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking
// precedence. Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.JobID != nil {
		result.JobID = next.JobID
	}
	if next.ReviewID != nil {
		result.ReviewID = next.ReviewID
	}
	if next.PullRequestID != nil {
		result.PullRequestID = next.PullRequestID
	}
	if next.RepositoryID != nil {
		result.RepositoryID = next.RepositoryID
	}
	if next.MessageID != nil {
		result.MessageID = next.MessageID
	}
	if next.Provider != nil {
		result.Provider = next.Provider
	}
	if next.EventType != nil {
		result.EventType = next.EventType
	}
	if next.Room != nil {
		result.Room = next.Room
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{JobID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if
// truncated. Useful for logging potentially long payloads or error chains.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
