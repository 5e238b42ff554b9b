package findings

import "sort"

// Severity is the canonical severity of a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Vulnerability types inferred by ClassifyType.
const (
	TypeReentrancy         = "reentrancy"
	TypeArithmeticOverflow = "arithmetic-overflow"
	TypeUncheckedCall      = "unchecked-call"
	TypeTxOrigin           = "tx-origin"
	TypeDelegatecall       = "delegatecall"
	TypeSelfdestruct       = "selfdestruct"
	TypeOther              = "other"
)

// Rank orders severities from most (0) to least severe. Unknown values sort last.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// Valid reports whether s is one of the four canonical severities.
func (s Severity) Valid() bool {
	return s.Rank() < 4
}

// Location points at a region of the scanned source.
type Location struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line"`
	EndLine  int    `json:"endLine,omitempty"`
	Function string `json:"function,omitempty"`
}

// Finding is one canonical vulnerability record produced from a tool's raw issue.
type Finding struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Severity      Severity   `json:"severity"`
	Tool          string     `json:"tool"`
	Type          string     `json:"type"`
	Locations     []Location `json:"locations"`
	SourceSnippet string     `json:"sourceSnippet"`
	Remediation   string     `json:"remediation"`
}

// Sort returns a copy of list ordered by severity, then tool, then first line.
func Sort(list []Finding) []Finding {
	out := make([]Finding, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if a.Tool != b.Tool {
			return a.Tool < b.Tool
		}
		return firstLine(a) < firstLine(b)
	})
	return out
}

// Top returns at most n findings in report order.
func Top(list []Finding, n int) []Finding {
	sorted := Sort(list)
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func firstLine(f Finding) int {
	if len(f.Locations) == 0 {
		return 0
	}
	return f.Locations[0].Line
}
