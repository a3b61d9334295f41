package lint

import (
	"fmt"
	"strings"
)

// Config controls which rules run. The zero value enables every rule
// with a 120-character line limit.
type Config struct {
	MaxLineLength int      `json:"max_line_length,omitempty"`
	DisabledRules []string `json:"disabled_rules,omitempty"`
}

func (c Config) maxLineLength() int {
	if c.MaxLineLength > 0 {
		return c.MaxLineLength
	}
	return 120
}

func (c Config) enabled(rule string) bool {
	for _, disabled := range c.DisabledRules {
		if disabled == rule {
			return false
		}
	}
	return true
}

// Finding is one lint defect in the engine's own vocabulary. The result
// aggregator maps it to the canonical issue enums.
type Finding struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"` // "error", "warning", or "info"
	Line     int    `json:"line"`
	Message  string `json:"message"`
}

// FixResult reports the outcome of fix mode. Applying fix mode to
// already-fixed text yields Fixed=false and the same text.
type FixResult struct {
	Fixed           bool      `json:"fixed"`
	CorrectedText   string    `json:"corrected_text"`
	RemainingIssues []Finding `json:"remaining_issues"`
}

const (
	RuleTrailingWhitespace = "trailing-whitespace"
	RuleLineTooLong        = "line-too-long"
	RuleDebugStatement     = "no-debug-statement"
	RuleEval               = "no-eval"
	RuleTodoComment        = "todo-comment"
	RuleBlankLines         = "consecutive-blank-lines"
	RuleFinalNewline       = "final-newline"
)

var debugMarkers = []string{"console.log(", "console.debug(", "debugger", "fmt.Println("}

// Engine is the in-process linting analyzer. It runs synchronously
// against supplied source text; no external process is involved.
type Engine struct {
	defaults Config
}

func New(defaults Config) *Engine {
	return &Engine{defaults: defaults}
}

// Run lints source with cfg merged over the engine defaults.
func (e *Engine) Run(source string, cfg Config) []Finding {
	cfg = e.merge(cfg)

	var findings []Finding
	lines := strings.Split(source, "\n")
	blankRun := 0

	for i, line := range lines {
		lineNo := i + 1

		if cfg.enabled(RuleTrailingWhitespace) && line != strings.TrimRight(line, " \t") {
			findings = append(findings, Finding{
				Rule:     RuleTrailingWhitespace,
				Severity: "warning",
				Line:     lineNo,
				Message:  "trailing whitespace",
			})
		}

		if cfg.enabled(RuleLineTooLong) && len(line) > cfg.maxLineLength() {
			findings = append(findings, Finding{
				Rule:     RuleLineTooLong,
				Severity: "warning",
				Line:     lineNo,
				Message:  fmt.Sprintf("line is %d characters, limit is %d", len(line), cfg.maxLineLength()),
			})
		}

		if cfg.enabled(RuleDebugStatement) {
			for _, marker := range debugMarkers {
				if strings.Contains(line, marker) {
					findings = append(findings, Finding{
						Rule:     RuleDebugStatement,
						Severity: "error",
						Line:     lineNo,
						Message:  fmt.Sprintf("debug statement %q left in source", strings.TrimSuffix(marker, "(")),
					})
					break
				}
			}
		}

		if cfg.enabled(RuleEval) && strings.Contains(line, "eval(") {
			findings = append(findings, Finding{
				Rule:     RuleEval,
				Severity: "error",
				Line:     lineNo,
				Message:  "use of eval",
			})
		}

		if cfg.enabled(RuleTodoComment) {
			trimmed := strings.TrimSpace(line)
			if strings.Contains(trimmed, "TODO") || strings.Contains(trimmed, "FIXME") {
				findings = append(findings, Finding{
					Rule:     RuleTodoComment,
					Severity: "info",
					Line:     lineNo,
					Message:  "unresolved TODO/FIXME marker",
				})
			}
		}

		if strings.TrimSpace(line) == "" {
			blankRun++
			if cfg.enabled(RuleBlankLines) && blankRun == 3 {
				findings = append(findings, Finding{
					Rule:     RuleBlankLines,
					Severity: "info",
					Line:     lineNo,
					Message:  "more than two consecutive blank lines",
				})
			}
		} else {
			blankRun = 0
		}
	}

	if cfg.enabled(RuleFinalNewline) && source != "" && !strings.HasSuffix(source, "\n") {
		findings = append(findings, Finding{
			Rule:     RuleFinalNewline,
			Severity: "info",
			Line:     len(lines),
			Message:  "file does not end with a newline",
		})
	}

	return findings
}

// Fix applies the auto-fixable rules (trailing whitespace, blank-line
// runs, final newline) and reports what remains. Idempotent: fixing
// already-fixed text reports Fixed=false.
func (e *Engine) Fix(source string, cfg Config) FixResult {
	cfg = e.merge(cfg)
	corrected := source

	if cfg.enabled(RuleTrailingWhitespace) {
		lines := strings.Split(corrected, "\n")
		for i, line := range lines {
			lines[i] = strings.TrimRight(line, " \t")
		}
		corrected = strings.Join(lines, "\n")
	}

	if cfg.enabled(RuleBlankLines) {
		corrected = collapseBlankRuns(corrected, 2)
	}

	if cfg.enabled(RuleFinalNewline) && corrected != "" && !strings.HasSuffix(corrected, "\n") {
		corrected += "\n"
	}

	return FixResult{
		Fixed:           corrected != source,
		CorrectedText:   corrected,
		RemainingIssues: e.Run(corrected, cfg),
	}
}

func (e *Engine) merge(cfg Config) Config {
	if cfg.MaxLineLength == 0 {
		cfg.MaxLineLength = e.defaults.MaxLineLength
	}
	if cfg.DisabledRules == nil {
		cfg.DisabledRules = e.defaults.DisabledRules
	}
	return cfg
}

func collapseBlankRuns(source string, max int) string {
	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))
	blankRun := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blankRun++
			if blankRun > max {
				continue
			}
		} else {
			blankRun = 0
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
