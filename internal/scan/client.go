package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/aakashsharma7/code-reviewer/internal/fault"
)

// Config points the client at the external quality-scan service. The
// service runs scans out of band; this client only queries findings for a
// project after a scan has completed.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Finding is one defect in the scan service's vocabulary (upper-case
// severity and type enums, component-qualified file paths).
type Finding struct {
	Key       string `json:"key"`
	Rule      string `json:"rule"`
	Severity  string `json:"severity"`
	Type      string `json:"type"`
	Component string `json:"component"`
	Line      int    `json:"line"`
	Message   string `json:"message"`
}

type searchResponse struct {
	Total  int       `json:"total"`
	Issues []Finding `json:"issues"`
}

type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// ProjectFindings queries all open findings for projectKey. Network and
// server failures classify as transient so the scheduler retries them;
// client-side misconfiguration classifies as validation.
func (c *Client) ProjectFindings(ctx context.Context, projectKey string) ([]Finding, error) {
	if c.cfg.BaseURL == "" {
		return nil, fault.New(fault.KindFatal, "scan service not configured")
	}
	if projectKey == "" {
		return nil, fault.Validation("project key is required")
	}

	endpoint := fmt.Sprintf("%s/api/issues/search?%s", c.cfg.BaseURL, url.Values{
		"componentKeys": {projectKey},
		"resolved":      {"false"},
		"ps":            {"500"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fault.Validation(fmt.Sprintf("building scan request: %v", err))
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fault.Transient("scan service unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fault.New(fault.KindAuth, "scan service rejected credentials")
	case resp.StatusCode >= 500:
		return nil, fault.Transient(fmt.Sprintf("scan service error (status %d)", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, fault.Validation(fmt.Sprintf("scan service returned status %d", resp.StatusCode))
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fault.Transient("decoding scan response", err)
	}

	slog.DebugContext(ctx, "fetched scan findings",
		"project_key", projectKey,
		"count", len(body.Issues))

	return body.Issues, nil
}
