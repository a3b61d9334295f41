package analyzer

import (
	"context"
	"encoding/json"
)

// Analysis type identifiers carried in job payloads. TypeFull runs
// every registered analyzer and merges the findings.
const (
	TypeQualityScan = "quality_scan"
	TypeLint        = "lint"
	TypeFull        = "full"
)

// SourceFile is one file of source text supplied to an in-process
// analyzer.
type SourceFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Target is what an analyzer runs against. Remote analyzers use
// ProjectKey; in-process analyzers use Files and Configuration.
type Target struct {
	ReviewID      int64
	PullRequestID int64
	RepositoryID  int64
	ProjectKey    string
	Files         []SourceFile
	Configuration json.RawMessage
}

// RawFinding is an analyzer-specific defect report before normalization
// into a canonical issue. Severity and Type use the source analyzer's
// own vocabulary; the aggregator owns the mapping.
type RawFinding struct {
	Source   string `json:"source"` // analyzer name, e.g. "quality_scan"
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Type     string `json:"type"`
	FilePath string `json:"file_path"`
	Line     int    `json:"line"`
	Message  string `json:"message"`
}

// Analyzer is the capability every analysis strategy implements. Analyze
// must not panic past its boundary and must respect ctx cancellation;
// strategies that cannot observe ctx mid-flight are bounded by the
// dispatcher's hard timeout.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, target Target) ([]RawFinding, error)
}
