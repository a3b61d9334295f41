package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/aakashsharma7/code-reviewer/internal/model"
	"github.com/aakashsharma7/code-reviewer/internal/service"
)

// maxWebhookBody caps provider delivery bodies at 5 MiB.
const maxWebhookBody = 5 << 20

type WebhookHandler struct {
	ingest *service.IngestService
}

func NewWebhookHandler(ingest *service.IngestService) *WebhookHandler {
	return &WebhookHandler{ingest: ingest}
}

// Receive handles POST /api/v1/webhooks/:provider/:repository_id.
func (h *WebhookHandler) Receive(c *gin.Context) {
	ctx := c.Request.Context()

	provider := model.Provider(c.Param("provider"))
	if !provider.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
		return
	}

	repositoryID, err := strconv.ParseInt(c.Param("repository_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid repository id"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	params := service.ReceiveParams{
		Provider:     provider,
		RepositoryID: repositoryID,
		Body:         body,
	}
	switch provider {
	case model.ProviderGitHub:
		params.EventType = c.GetHeader("X-GitHub-Event")
		params.Signature = c.GetHeader("X-Hub-Signature-256")
	case model.ProviderGitLab:
		params.EventType = c.GetHeader("X-Gitlab-Event")
		params.Signature = c.GetHeader("X-Gitlab-Token")
		logGitLabEvent(c, body)
	}

	result, err := h.ingest.Receive(ctx, params)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "accepted",
		"job_id": strconv.FormatInt(result.JobID, 10),
	})
}

// ReceiveTest handles POST /api/v1/webhooks/test. Operator-only.
func (h *WebhookHandler) ReceiveTest(c *gin.Context) {
	ctx := c.Request.Context()

	var req struct {
		Provider     string          `json:"provider"`
		RepositoryID int64           `json:"repository_id"`
		Payload      json.RawMessage `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.ingest.ReceiveTest(ctx, model.Provider(req.Provider), req.RepositoryID, req.Payload)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "accepted",
		"job_id": strconv.FormatInt(result.JobID, 10),
		"test":   true,
	})
}

// logGitLabEvent logs merge request deliveries with typed fields before
// verification so rejected deliveries still leave a trace.
func logGitLabEvent(c *gin.Context, body []byte) {
	var probe struct {
		ObjectKind string `json:"object_kind"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.ObjectKind != "merge_request" {
		return
	}
	var event gitlab.MergeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return
	}
	slog.DebugContext(c.Request.Context(), "gitlab merge request delivery",
		"action", event.ObjectAttributes.Action,
		"iid", event.ObjectAttributes.IID,
		"title", event.ObjectAttributes.Title,
		"source_branch", event.ObjectAttributes.SourceBranch,
		"target_branch", event.ObjectAttributes.TargetBranch,
	)
}
