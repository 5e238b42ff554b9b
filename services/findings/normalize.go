package findings

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NormalizedIssue is the tool-independent intermediate shape every tool family
// is converted into before generic processing.
type NormalizedIssue struct {
	Check       string
	Title       string
	Description string
	Severity    string
	File        string
	Line        int
	SourceMap   []Location
	Snippet     string
	Remediation string
}

// severityTables translates raw tool severities (lower-cased) per tool family.
var severityTables = map[string]map[string]Severity{
	FamilySlither: {
		"high":          SeverityHigh,
		"medium":        SeverityMedium,
		"low":           SeverityLow,
		"informational": SeverityLow,
		"optimization":  SeverityLow,
	},
	FamilyMythril: {
		"high":   SeverityCritical,
		"medium": SeverityHigh,
		"low":    SeverityMedium,
	},
	FamilyPattern: {
		"critical": SeverityCritical,
		"high":     SeverityHigh,
		"medium":   SeverityMedium,
		"low":      SeverityLow,
	},
}

// MapSeverity translates a raw severity for the given tool family. A family
// without a table keeps canonical severities as reported. Anything else falls
// back to medium.
func MapSeverity(family, raw string) Severity {
	key := strings.ToLower(strings.TrimSpace(raw))
	table, ok := severityTables[family]
	if !ok {
		if sev := Severity(key); sev.Valid() {
			return sev
		}
		return SeverityMedium
	}
	if sev, ok := table[key]; ok {
		return sev
	}
	return SeverityMedium
}

// Normalize maps every issue in raw into a canonical Finding attributed to tool.
// It is pure: identical input always yields identical output.
func Normalize(raw ToolResult, tool string) []Finding {
	if raw == nil {
		return []Finding{}
	}
	if tool == "" {
		tool = raw.Family()
	}

	issues := Issues(raw)
	out := make([]Finding, 0, len(issues))
	for i, issue := range issues {
		typ := ClassifyType(issue)
		locations := ExtractLocations(issue)
		title := strings.TrimSpace(issue.Title)
		if title == "" {
			title = issue.Check
		}
		out = append(out, Finding{
			ID:            findingID(tool, issue, locations, i),
			Title:         title,
			Description:   strings.TrimSpace(issue.Description),
			Severity:      MapSeverity(raw.Family(), issue.Severity),
			Tool:          tool,
			Type:          typ,
			Locations:     locations,
			SourceSnippet: issue.Snippet,
			Remediation:   DefaultRemediation(typ, issue.Remediation),
		})
	}
	return out
}

// Issues converts a raw tool result into normalized issues using the
// conversion for its tool family.
func Issues(raw ToolResult) []NormalizedIssue {
	switch r := raw.(type) {
	case *SlitherResult:
		return slitherIssues(r)
	case *MythrilResult:
		return mythrilIssues(r)
	case *PatternResult:
		return patternIssues(r)
	default:
		return nil
	}
}

func slitherIssues(r *SlitherResult) []NormalizedIssue {
	if r == nil {
		return nil
	}
	out := make([]NormalizedIssue, 0, len(r.Results.Detectors))
	for _, det := range r.Results.Detectors {
		issue := NormalizedIssue{
			Check:       det.Check,
			Title:       slitherTitle(det),
			Description: det.Description,
			Severity:    det.Impact,
		}
		for _, el := range det.Elements {
			lines := el.SourceMapping.Lines
			if len(lines) == 0 {
				continue
			}
			loc := Location{
				File: el.SourceMapping.Filename,
				Line: lines[0],
			}
			if last := lines[len(lines)-1]; last != lines[0] {
				loc.EndLine = last
			}
			if el.Type == "function" {
				loc.Function = el.Name
			}
			issue.SourceMap = append(issue.SourceMap, loc)
		}
		if len(det.Elements) > 0 {
			issue.Snippet = det.Elements[0].Name
		}
		out = append(out, issue)
	}
	return out
}

// slitherTitle prefers the first line of the detector description since the
// check id alone reads poorly in reports.
func slitherTitle(det SlitherDetector) string {
	desc := strings.TrimSpace(det.Description)
	if desc == "" {
		return det.Check
	}
	if idx := strings.IndexByte(desc, '\n'); idx > 0 {
		desc = desc[:idx]
	}
	return fmt.Sprintf("%s: %s", det.Check, strings.TrimSpace(desc))
}

func mythrilIssues(r *MythrilResult) []NormalizedIssue {
	if r == nil {
		return nil
	}
	out := make([]NormalizedIssue, 0, len(r.Issues))
	for _, is := range r.Issues {
		check := is.SWCID
		if check != "" && !strings.HasPrefix(strings.ToUpper(check), "SWC-") {
			check = "SWC-" + check
		}
		out = append(out, NormalizedIssue{
			Check:       check,
			Title:       is.Title,
			Description: is.Description,
			Severity:    is.Severity,
			File:        is.Filename,
			Line:        is.LineNo,
			Snippet:     is.Code,
		})
	}
	return out
}

func patternIssues(r *PatternResult) []NormalizedIssue {
	if r == nil {
		return nil
	}
	out := make([]NormalizedIssue, 0, len(r.Issues))
	for _, is := range r.Issues {
		out = append(out, NormalizedIssue{
			Check:       is.RuleID,
			Title:       is.Title,
			Description: is.Description,
			Severity:    is.Severity,
			Line:        is.Line,
			Snippet:     is.Snippet,
			Remediation: is.Remediation,
		})
	}
	return out
}

// ExtractLocations prefers structured source mappings, then a top-level line.
// An issue without either yields an empty, non-nil slice.
func ExtractLocations(issue NormalizedIssue) []Location {
	if len(issue.SourceMap) > 0 {
		out := make([]Location, len(issue.SourceMap))
		copy(out, issue.SourceMap)
		return out
	}
	if issue.Line > 0 {
		return []Location{{File: issue.File, Line: issue.Line}}
	}
	return []Location{}
}

// AttachSnippets fills empty SourceSnippet fields with the source line at each
// finding's first location. It returns a new slice.
func AttachSnippets(list []Finding, source string) []Finding {
	lines := strings.Split(source, "\n")
	out := make([]Finding, len(list))
	for i, f := range list {
		if f.SourceSnippet == "" && len(f.Locations) > 0 {
			if n := f.Locations[0].Line; n > 0 && n <= len(lines) {
				f.SourceSnippet = strings.TrimSpace(lines[n-1])
			}
		}
		out[i] = f
	}
	return out
}

func findingID(tool string, issue NormalizedIssue, locations []Location, index int) string {
	line := 0
	if len(locations) > 0 {
		line = locations[0].Line
	}
	key := fmt.Sprintf("%s|%s|%s|%d|%d", tool, issue.Check, issue.Title, line, index)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}
