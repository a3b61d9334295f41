package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aakashsharma7/code-reviewer/common/logger"
	"github.com/aakashsharma7/code-reviewer/core/config"
	"github.com/aakashsharma7/code-reviewer/internal/fault"
	"github.com/aakashsharma7/code-reviewer/internal/model"
	"github.com/aakashsharma7/code-reviewer/internal/scheduler"
)

// ReceiveParams is one raw provider delivery as seen at the HTTP edge.
type ReceiveParams struct {
	Provider     model.Provider
	RepositoryID int64
	EventType    string
	Signature    string
	Body         []byte
}

// ReceiveResult reports the job derived from an accepted delivery.
type ReceiveResult struct {
	JobID int64
	Event model.WebhookEvent
}

// IngestService is the webhook ingestion gateway: verify the delivery,
// normalize it, and hand it to the scheduler exactly once.
type IngestService struct {
	cfg       config.WebhookConfig
	env       string
	scheduler *scheduler.Scheduler
}

func NewIngestService(cfg config.WebhookConfig, env string, sched *scheduler.Scheduler) *IngestService {
	return &IngestService{cfg: cfg, env: env, scheduler: sched}
}

// Receive verifies and normalizes a provider delivery, then enqueues a
// webhook job. The delivery is acknowledged only after the job row is
// durable.
func (s *IngestService) Receive(ctx context.Context, params ReceiveParams) (*ReceiveResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Provider:     logger.Ptr(string(params.Provider)),
		EventType:    logger.Ptr(params.EventType),
		RepositoryID: logger.Ptr(params.RepositoryID),
		Component:    "reviewer.ingest",
	})

	if !params.Provider.Valid() {
		return nil, fault.Validation(fmt.Sprintf("unknown provider %q", params.Provider))
	}
	if params.RepositoryID <= 0 {
		return nil, fault.Validation("repository id must be positive")
	}
	if len(params.Body) == 0 {
		return nil, fault.Validation("empty delivery body")
	}
	if !json.Valid(params.Body) {
		return nil, fault.Validation("delivery body is not valid JSON")
	}

	if err := s.verifySignature(ctx, params); err != nil {
		return nil, err
	}

	event := model.WebhookEvent{
		Provider:     params.Provider,
		RepositoryID: params.RepositoryID,
		EventType:    normalizeEventType(params.Provider, params.EventType, params.Body),
		RawPayload:   json.RawMessage(params.Body),
		ReceivedAt:   time.Now().UTC(),
	}

	return s.enqueue(ctx, event)
}

// ReceiveTest injects a synthetic connectivity-check event. It bypasses
// signature verification and is flagged so downstream stages keep it out
// of review history.
func (s *IngestService) ReceiveTest(ctx context.Context, provider model.Provider, repositoryID int64, body []byte) (*ReceiveResult, error) {
	if !provider.Valid() {
		return nil, fault.Validation(fmt.Sprintf("unknown provider %q", provider))
	}
	if repositoryID <= 0 {
		return nil, fault.Validation("repository id must be positive")
	}
	if len(body) == 0 {
		body = []byte(`{"test":true}`)
	}
	if !json.Valid(body) {
		return nil, fault.Validation("delivery body is not valid JSON")
	}

	event := model.WebhookEvent{
		Provider:     provider,
		RepositoryID: repositoryID,
		EventType:    "connectivity_check",
		RawPayload:   json.RawMessage(body),
		ReceivedAt:   time.Now().UTC(),
		IsTest:       true,
	}

	slog.InfoContext(ctx, "accepted test webhook", "provider", provider, "repository_id", repositoryID)
	return s.enqueue(ctx, event)
}

func (s *IngestService) enqueue(ctx context.Context, event model.WebhookEvent) (*ReceiveResult, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fault.Fatal("marshal webhook event", err)
	}

	jobID, err := s.scheduler.Enqueue(ctx, model.QueueWebhook, payload, nil)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "webhook accepted",
		"job_id", jobID,
		"event_type", event.EventType,
		"is_test", event.IsTest,
	)
	return &ReceiveResult{JobID: jobID, Event: event}, nil
}

func (s *IngestService) verifySignature(ctx context.Context, params ReceiveParams) error {
	secret := s.secretFor(params.Provider)
	if secret == "" {
		if s.env == "production" && !s.cfg.AllowUnsigned {
			return fault.Auth("webhook secret not configured")
		}
		slog.WarnContext(ctx, "no webhook secret configured, accepting unverified delivery",
			"provider", params.Provider)
		return nil
	}

	switch params.Provider {
	case model.ProviderGitHub:
		return verifyGitHubSignature(secret, params.Signature, params.Body)
	case model.ProviderGitLab:
		return verifyGitLabToken(secret, params.Signature)
	default:
		return fault.Auth("signature verification unsupported for provider")
	}
}

func (s *IngestService) secretFor(provider model.Provider) string {
	switch provider {
	case model.ProviderGitHub:
		return s.cfg.GitHubSecret
	case model.ProviderGitLab:
		return s.cfg.GitLabSecret
	default:
		return ""
	}
}

// verifyGitHubSignature checks the X-Hub-Signature-256 header:
// "sha256=" followed by the hex HMAC-SHA256 of the raw body.
func verifyGitHubSignature(secret, signature string, body []byte) error {
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) {
		return fault.Auth("missing or malformed signature header")
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(signature, prefix))
	if err != nil {
		return fault.Auth("malformed signature header")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return fault.Auth("signature mismatch")
	}
	return nil
}

// verifyGitLabToken checks the X-Gitlab-Token header against the shared
// secret.
func verifyGitLabToken(secret, token string) error {
	if token == "" {
		return fault.Auth("missing token header")
	}
	if hmac.Equal([]byte(token), []byte(secret)) {
		return nil
	}
	return fault.Auth("token mismatch")
}

// normalizeEventType folds the provider header and payload action into a
// single canonical event type, e.g. "pull_request.opened" or
// "merge_request.open".
func normalizeEventType(provider model.Provider, headerType string, body []byte) string {
	switch provider {
	case model.ProviderGitHub:
		var p struct {
			Action string `json:"action"`
		}
		if err := json.Unmarshal(body, &p); err == nil && p.Action != "" && headerType != "" {
			return headerType + "." + p.Action
		}
		if headerType != "" {
			return headerType
		}
	case model.ProviderGitLab:
		var p struct {
			ObjectKind  string `json:"object_kind"`
			ObjectAttrs struct {
				Action string `json:"action"`
			} `json:"object_attributes"`
		}
		if err := json.Unmarshal(body, &p); err == nil && p.ObjectKind != "" {
			if p.ObjectAttrs.Action != "" {
				return p.ObjectKind + "." + p.ObjectAttrs.Action
			}
			return p.ObjectKind
		}
		if headerType != "" {
			return headerType
		}
	}
	return "unknown"
}
