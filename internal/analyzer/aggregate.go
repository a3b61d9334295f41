package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aakashsharma7/code-reviewer/internal/model"
)

// Fixed lookup tables from analyzer vocabularies to the canonical enums.
// Unmapped values fail closed to the lowest-severity bucket with a logged
// warning; nothing is silently dropped.

var scanSeverity = map[string]model.Severity{
	"INFO":     model.SeverityInfo,
	"MINOR":    model.SeverityMinor,
	"MAJOR":    model.SeverityMajor,
	"CRITICAL": model.SeverityCritical,
	"BLOCKER":  model.SeverityBlocker,
}

var scanType = map[string]model.IssueType{
	"BUG":              model.IssueTypeBug,
	"VULNERABILITY":    model.IssueTypeVulnerability,
	"CODE_SMELL":       model.IssueTypeCodeSmell,
	"SECURITY_HOTSPOT": model.IssueTypeSecurityHotspot,
}

var lintSeverity = map[string]model.Severity{
	"error":   model.SeverityMajor,
	"warning": model.SeverityMinor,
	"info":    model.SeverityInfo,
}

var lintType = map[string]model.IssueType{
	"security":   model.IssueTypeVulnerability,
	"suspicious": model.IssueTypeBug,
	"style":      model.IssueTypeStyle,
}

// Aggregate normalizes raw findings into canonical issues and tallies
// stats. Deterministic: the same finding set always yields the same
// issue set (by key) in the same order, and
// sum(BySeverity) == sum(ByType) == Total.
func Aggregate(ctx context.Context, reviewID int64, findings []RawFinding) ([]model.Issue, model.ReviewStats) {
	byKey := make(map[string]model.Issue, len(findings))

	for _, f := range findings {
		issue := model.Issue{
			Key:      findingKey(f),
			ReviewID: reviewID,
			Severity: mapSeverity(ctx, f),
			Type:     mapType(ctx, f),
			FilePath: f.FilePath,
			Line:     f.Line,
			Message:  f.Message,
			RuleID:   f.Rule,
			Status:   model.IssueOpen,
		}
		// Overlapping runs can report the same defect twice; identity is
		// by key, last write wins.
		byKey[issue.Key] = issue
	}

	issues := make([]model.Issue, 0, len(byKey))
	for _, issue := range byKey {
		issues = append(issues, issue)
	}
	sort.Slice(issues, func(i, j int) bool { return issues[i].Key < issues[j].Key })

	stats := model.ReviewStats{
		Total:      len(issues),
		BySeverity: make(map[model.Severity]int),
		ByType:     make(map[model.IssueType]int),
	}
	for _, issue := range issues {
		stats.BySeverity[issue.Severity]++
		stats.ByType[issue.Type]++
	}

	return issues, stats
}

func mapSeverity(ctx context.Context, f RawFinding) model.Severity {
	var table map[string]model.Severity
	switch f.Source {
	case TypeQualityScan:
		table = scanSeverity
	case TypeLint:
		table = lintSeverity
	}
	if severity, ok := table[f.Severity]; ok {
		return severity
	}
	slog.WarnContext(ctx, "unmapped finding severity, failing closed to info",
		"source", f.Source,
		"severity", f.Severity,
		"rule", f.Rule)
	return model.SeverityInfo
}

func mapType(ctx context.Context, f RawFinding) model.IssueType {
	var table map[string]model.IssueType
	switch f.Source {
	case TypeQualityScan:
		table = scanType
	case TypeLint:
		table = lintType
	}
	if issueType, ok := table[f.Type]; ok {
		return issueType
	}
	slog.WarnContext(ctx, "unmapped finding type, failing closed to code_smell",
		"source", f.Source,
		"type", f.Type,
		"rule", f.Rule)
	return model.IssueTypeCodeSmell
}

// findingKey derives the stable issue identity: analyzer, rule, file,
// and line hashed together. Message is deliberately excluded so reworded
// analyzer messages don't create duplicate issues.
func findingKey(f RawFinding) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%d", f.Source, f.Rule, f.FilePath, f.Line)))
	return hex.EncodeToString(sum[:16])
}
