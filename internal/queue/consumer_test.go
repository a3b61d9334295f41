package queue_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/aakashsharma7/code-reviewer/internal/model"
	"github.com/aakashsharma7/code-reviewer/internal/queue"
)

var _ = Describe("ParseMessage", func() {
	It("parses a full announcement", func() {
		msg, err := queue.ParseMessage(redis.XMessage{
			ID: "1700000000000-0",
			Values: map[string]any{
				"job_id":        "12345",
				"queue":         "analysis",
				"attempt":       "2",
				"not_before_ms": "1700000001000",
				"trace_id":      "abc123",
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.JobID).To(Equal(int64(12345)))
		Expect(msg.Queue).To(Equal(model.QueueAnalysis))
		Expect(msg.Attempt).To(Equal(2))
		Expect(msg.NotBeforeMS).To(Equal(int64(1700000001000)))
		Expect(msg.TraceID).To(Equal("abc123"))
	})

	It("defaults attempt to 1 when absent", func() {
		msg, err := queue.ParseMessage(redis.XMessage{
			ID:     "1-0",
			Values: map[string]any{"job_id": "1", "queue": "webhook"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Attempt).To(Equal(1))
		Expect(msg.NotBeforeMS).To(BeZero())
	})

	It("rejects a message with no job id", func() {
		_, err := queue.ParseMessage(redis.XMessage{
			ID:     "1-0",
			Values: map[string]any{"queue": "webhook"},
		})
		Expect(err).To(MatchError(ContainSubstring("missing job_id")))
	})

	It("rejects a non-numeric job id", func() {
		_, err := queue.ParseMessage(redis.XMessage{
			ID:     "1-0",
			Values: map[string]any{"job_id": "abc", "queue": "webhook"},
		})
		Expect(err).To(HaveOccurred())
	})

	It("rejects an unknown queue name", func() {
		_, err := queue.ParseMessage(redis.XMessage{
			ID:     "1-0",
			Values: map[string]any{"job_id": "1", "queue": "mystery"},
		})
		Expect(err).To(MatchError(ContainSubstring("unknown queue")))
	})
})
