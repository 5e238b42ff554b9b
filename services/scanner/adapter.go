package scanner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codeshield/services/findings"
)

// Kind splits adapters for scoring.
type Kind string

const (
	KindStatic  Kind = "static"
	KindDynamic Kind = "dynamic"
)

// AnalyzeOptions bounds one adapter invocation.
type AnalyzeOptions struct {
	Timeout time.Duration
}

// Adapter is the capability set every analyzer implements to take part in a fan-out.
type Adapter interface {
	Name() string
	Kind() Kind
	Analyze(ctx context.Context, source string, opts AnalyzeOptions) (findings.ToolResult, error)
	CheckAvailable(ctx context.Context) error
	Version(ctx context.Context) (string, error)
}

// DefaultAnalyzers is the adapter set used when none is configured.
var DefaultAnalyzers = []string{findings.FamilyPattern, findings.FamilySlither, findings.FamilyMythril}

// NewAdapters builds adapters by name, in order. Empty names are skipped.
func NewAdapters(names []string) ([]Adapter, error) {
	out := make([]Adapter, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		switch name {
		case findings.FamilyPattern:
			out = append(out, NewPatternAnalyzer())
		case findings.FamilySlither:
			out = append(out, NewSlither(""))
		case findings.FamilyMythril:
			out = append(out, NewMythril(""))
		default:
			return nil, fmt.Errorf("unknown analyzer %q", raw)
		}
	}
	return out, nil
}
