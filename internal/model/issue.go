package model

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
	SeverityBlocker  Severity = "blocker"
)

type IssueType string

const (
	IssueTypeBug             IssueType = "bug"
	IssueTypeVulnerability   IssueType = "vulnerability"
	IssueTypeCodeSmell       IssueType = "code_smell"
	IssueTypeSecurityHotspot IssueType = "security_hotspot"
	IssueTypeStyle           IssueType = "style"
)

type IssueStatus string

const (
	IssueOpen          IssueStatus = "open"
	IssueFixed         IssueStatus = "fixed"
	IssueWontfix       IssueStatus = "wontfix"
	IssueFalsePositive IssueStatus = "false_positive"
)

// Issue is a canonical defect record produced by the result aggregator.
// Identity is by Key: duplicate findings from overlapping analysis runs
// de-duplicate on it.
type Issue struct {
	Key      string      `json:"key"`
	ReviewID int64       `json:"review_id"`
	Severity Severity    `json:"severity"`
	Type     IssueType   `json:"type"`
	FilePath string      `json:"file_path"`
	Line     int         `json:"line"`
	Message  string      `json:"message"`
	RuleID   string      `json:"rule_id"`
	Status   IssueStatus `json:"status"`
}
