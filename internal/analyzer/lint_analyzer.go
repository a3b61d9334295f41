package analyzer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aakashsharma7/code-reviewer/internal/fault"
	"github.com/aakashsharma7/code-reviewer/internal/lint"
)

// LintAnalyzer runs the in-process lint engine synchronously against the
// source files carried in the target.
type LintAnalyzer struct {
	engine *lint.Engine
}

func NewLintAnalyzer(engine *lint.Engine) *LintAnalyzer {
	return &LintAnalyzer{engine: engine}
}

func (a *LintAnalyzer) Name() string {
	return TypeLint
}

func (a *LintAnalyzer) Analyze(ctx context.Context, target Target) ([]RawFinding, error) {
	// No files is a skip, not a failure: full analyses run whether or
	// not the payload carries source text.
	if len(target.Files) == 0 {
		return nil, nil
	}

	var cfg lint.Config
	if len(target.Configuration) > 0 {
		if err := json.Unmarshal(target.Configuration, &cfg); err != nil {
			return nil, fault.Validation(fmt.Sprintf("malformed lint configuration: %v", err))
		}
	}

	var raw []RawFinding
	for _, file := range target.Files {
		if err := ctx.Err(); err != nil {
			return nil, fault.Transient("lint canceled", err)
		}
		for _, f := range a.engine.Run(file.Content, cfg) {
			raw = append(raw, RawFinding{
				Source:   TypeLint,
				Rule:     f.Rule,
				Severity: f.Severity,
				Type:     lintRuleType(f.Rule),
				FilePath: file.Path,
				Line:     f.Line,
				Message:  f.Message,
			})
		}
	}
	return raw, nil
}

// lintRuleType is the engine-side type vocabulary the aggregator maps
// from. The engine itself reports only rule and severity.
func lintRuleType(rule string) string {
	switch rule {
	case lint.RuleEval:
		return "security"
	case lint.RuleDebugStatement:
		return "suspicious"
	default:
		return "style"
	}
}
