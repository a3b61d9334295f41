package queue

import (
	"fmt"

	"github.com/aakashsharma7/code-reviewer/internal/model"
)

// StreamFor derives the default stream name for a queue kind.
func StreamFor(kind model.QueueKind) string {
	return fmt.Sprintf("reviewer:%s", kind)
}

// JobMessage is the stream envelope for one job announcement. The job row
// in the store is the source of truth; the message only tells a worker
// which job to claim.
type JobMessage struct {
	JobID   int64
	Queue   model.QueueKind
	Attempt int

	// NotBeforeMS carries the backoff eligibility gate (unix millis) so a
	// consumer that receives a retry announcement early after a crash can
	// re-delay instead of claiming.
	NotBeforeMS int64

	TraceID string
}
