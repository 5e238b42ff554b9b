package findings

// Tool families with a dedicated conversion into NormalizedIssue.
const (
	FamilySlither = "slither"
	FamilyMythril = "mythril"
	FamilyPattern = "pattern"
)

// ToolResult is the raw, tool-specific output of one analyzer. The concrete
// types are *SlitherResult, *MythrilResult and *PatternResult.
type ToolResult interface {
	Family() string
	toolResult()
}

// SlitherResult mirrors the JSON document emitted by `slither --json -`.
type SlitherResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Results struct {
		Detectors []SlitherDetector `json:"detectors"`
	} `json:"results"`
}

type SlitherDetector struct {
	Check       string           `json:"check"`
	Impact      string           `json:"impact"`
	Confidence  string           `json:"confidence"`
	Description string           `json:"description"`
	Markdown    string           `json:"markdown"`
	Elements    []SlitherElement `json:"elements"`
}

type SlitherElement struct {
	Type          string               `json:"type"`
	Name          string               `json:"name"`
	SourceMapping SlitherSourceMapping `json:"source_mapping"`
}

type SlitherSourceMapping struct {
	Filename         string `json:"filename_relative"`
	FilenameAbsolute string `json:"filename_absolute"`
	Lines            []int  `json:"lines"`
}

func (*SlitherResult) Family() string { return FamilySlither }
func (*SlitherResult) toolResult()    {}

// MythrilResult mirrors `myth analyze -o json`.
type MythrilResult struct {
	Success bool           `json:"success"`
	Error   *string        `json:"error"`
	Issues  []MythrilIssue `json:"issues"`
}

type MythrilIssue struct {
	Title       string `json:"title"`
	SWCID       string `json:"swc-id"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Function    string `json:"function"`
	Filename    string `json:"filename"`
	LineNo      int    `json:"lineno"`
	Code        string `json:"code"`
}

func (*MythrilResult) Family() string { return FamilyMythril }
func (*MythrilResult) toolResult()    {}

// PatternResult is produced by the built-in regex analyzer.
type PatternResult struct {
	Issues []PatternIssue `json:"issues"`
}

type PatternIssue struct {
	RuleID      string `json:"ruleId"`
	Title       string `json:"title"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Remediation string `json:"remediation"`
	Snippet     string `json:"snippet"`
	Line        int    `json:"line"`
}

func (*PatternResult) Family() string { return FamilyPattern }
func (*PatternResult) toolResult()    {}
