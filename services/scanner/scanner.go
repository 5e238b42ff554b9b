// Package scanner runs smart-contract analyzers behind bounded admission and
// merges their output into one scored analysis.
package scanner

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"codeshield/services/findings"
)

// Analysis is the merged, normalized output of one fan-out.
type Analysis struct {
	ID         string             `json:"id,omitempty"`
	Findings   []findings.Finding `json:"findings"`
	Summary    findings.Summary   `json:"summary"`
	Tools      []string           `json:"tools"`
	ToolErrors []ToolFailure      `json:"toolErrors"`
	Scores     Scores             `json:"scores"`
	Degraded   bool               `json:"degraded"`
}

// Analyzer fans out to adapters and normalizes the settled results. It does
// not validate or gate; callers do that.
type Analyzer struct {
	fanout  *FanOut
	timeout time.Duration
}

// NewAnalyzer returns an analyzer over adapters with a per-tool timeout.
func NewAnalyzer(adapters []Adapter, toolTimeout time.Duration, logger zerolog.Logger) *Analyzer {
	if toolTimeout <= 0 {
		toolTimeout = DefaultToolTimeout
	}
	return &Analyzer{fanout: NewFanOut(adapters, logger), timeout: toolTimeout}
}

// Adapters returns the configured adapters.
func (a *Analyzer) Adapters() []Adapter { return a.fanout.Adapters() }

// Analyze returns ErrAnalysisUnavailable, together with the tool failures,
// when no adapter is configured or every adapter failed.
func (a *Analyzer) Analyze(ctx context.Context, source string) (*Analysis, error) {
	adapters := a.fanout.Adapters()
	outcome := a.fanout.Run(ctx, source, a.timeout)
	failures := outcome.Errors
	if failures == nil {
		failures = []ToolFailure{}
	}
	if len(outcome.Results) == 0 {
		return &Analysis{
			Findings:   []findings.Finding{},
			Tools:      []string{},
			ToolErrors: failures,
			Scores:     DegradedScores(),
			Degraded:   true,
		}, ErrAnalysisUnavailable
	}

	byKind := make(map[Kind][]findings.Finding)
	ran := make(map[Kind]bool)
	var all []findings.Finding
	tools := make([]string, 0, len(outcome.Results))
	for _, ad := range adapters {
		raw, ok := outcome.Results[ad.Name()]
		if !ok {
			continue
		}
		tools = append(tools, ad.Name())
		list := findings.AttachSnippets(findings.Normalize(raw, ad.Name()), source)
		ran[ad.Kind()] = true
		byKind[ad.Kind()] = append(byKind[ad.Kind()], list...)
		all = append(all, list...)
	}
	sort.Strings(tools)

	all = findings.Sort(all)
	if all == nil {
		all = []findings.Finding{}
	}
	return &Analysis{
		Findings:   all,
		Summary:    findings.Summarize(all),
		Tools:      tools,
		ToolErrors: failures,
		Scores:     ComputeScores(byKind, ran, len(failures)),
	}, nil
}

// Scanner is the standalone synchronous entry point: validate, admit, analyze.
type Scanner struct {
	gate     *Gate
	analyzer *Analyzer
	maxBytes int
}

// New returns a Scanner. A nil gate selects a process-local gate of
// DefaultMaxConcurrency.
func New(analyzer *Analyzer, gate *Gate, maxSourceBytes int) (*Scanner, error) {
	if analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if gate == nil {
		gate = NewGate(DefaultMaxConcurrency, nil)
	}
	if maxSourceBytes <= 0 {
		maxSourceBytes = DefaultMaxSourceBytes
	}
	return &Scanner{gate: gate, analyzer: analyzer, maxBytes: maxSourceBytes}, nil
}

// Scan validates source before acquiring a slot, so rejected input never
// touches the counter. A degraded analysis is returned without error.
func (s *Scanner) Scan(ctx context.Context, source string) (*Analysis, error) {
	if err := ValidateSource(source, s.maxBytes); err != nil {
		return nil, err
	}
	release, err := s.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	analysis, err := s.analyzer.Analyze(ctx, source)
	if err != nil && !errors.Is(err, ErrAnalysisUnavailable) {
		return nil, err
	}
	analysis.ID = uuid.NewString()
	return analysis, nil
}

// Gate returns the admission gate.
func (s *Scanner) Gate() *Gate { return s.gate }
