package analyzer

import (
	"context"

	"github.com/aakashsharma7/code-reviewer/internal/fault"
	"github.com/aakashsharma7/code-reviewer/internal/scan"
)

// scanClient is the slice of the scan service client the analyzer needs.
type scanClient interface {
	ProjectFindings(ctx context.Context, projectKey string) ([]scan.Finding, error)
}

// ScanAnalyzer queries the external quality-scan service for findings on
// a project. The scan itself runs out of band; by the time an analysis
// job dispatches here the service already holds results keyed by project.
type ScanAnalyzer struct {
	client            scanClient
	defaultProjectKey string
}

func NewScanAnalyzer(client scanClient, defaultProjectKey string) *ScanAnalyzer {
	return &ScanAnalyzer{client: client, defaultProjectKey: defaultProjectKey}
}

func (a *ScanAnalyzer) Name() string {
	return TypeQualityScan
}

func (a *ScanAnalyzer) Analyze(ctx context.Context, target Target) ([]RawFinding, error) {
	projectKey := target.ProjectKey
	if projectKey == "" {
		projectKey = a.defaultProjectKey
	}
	if projectKey == "" {
		return nil, fault.Validation("no project key for quality scan")
	}

	findings, err := a.client.ProjectFindings(ctx, projectKey)
	if err != nil {
		return nil, err
	}

	raw := make([]RawFinding, 0, len(findings))
	for _, f := range findings {
		raw = append(raw, RawFinding{
			Source:   TypeQualityScan,
			Rule:     f.Rule,
			Severity: f.Severity,
			Type:     f.Type,
			FilePath: componentPath(f.Component),
			Line:     f.Line,
			Message:  f.Message,
		})
	}
	return raw, nil
}

// componentPath strips the "project:" prefix the scan service puts on
// component identifiers.
func componentPath(component string) string {
	for i := 0; i < len(component); i++ {
		if component[i] == ':' {
			return component[i+1:]
		}
	}
	return component
}
