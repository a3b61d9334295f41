package model

import (
	"encoding/json"
	"time"
)

type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGitLab Provider = "gitlab"
)

func (p Provider) Valid() bool {
	return p == ProviderGitHub || p == ProviderGitLab
}

// WebhookEvent is the canonical form of a provider-pushed change
// notification. Immutable once created; consumed exactly once by the
// scheduler to derive a webhook job.
type WebhookEvent struct {
	Provider     Provider        `json:"provider"`
	RepositoryID int64           `json:"repository_id"`
	EventType    string          `json:"event_type"`
	RawPayload   json.RawMessage `json:"raw_payload"`
	ReceivedAt   time.Time       `json:"received_at"`

	// IsTest marks synthetic connectivity-check events injected by an
	// operator. Test events skip signature verification and are excluded
	// from externally visible review history.
	IsTest bool `json:"is_test,omitempty"`
}
