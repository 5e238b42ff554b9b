// Package rules adjusts an analysis score with policy rules, either through a
// remote rules service or a local CEL rule set.
package rules

import (
	"context"

	"codeshield/services/scanner"
)

// Penalty is one rule's contribution. Negative points are a bonus.
type Penalty struct {
	Rule   string `json:"rule"`
	Points int    `json:"points"`
	Reason string `json:"reason,omitempty"`
}

// Result is the outcome of applying rules to one analysis.
type Result struct {
	AppliedRules  []string  `json:"appliedRules"`
	Penalties     []Penalty `json:"penalties"`
	AdjustedScore int       `json:"adjustedScore"`
}

// Engine applies rules to a merged analysis. Any error makes the caller fall
// back to the raw analysis score.
type Engine interface {
	Apply(ctx context.Context, analysis *scanner.Analysis) (*Result, error)
}

// Fallback is the result used when the rules stage is unavailable: no rules
// applied and the raw score unmodified.
func Fallback(analysis *scanner.Analysis) *Result {
	score := scanner.DegradedScores().Raw
	if analysis != nil {
		score = analysis.Scores.Raw
	}
	return &Result{AppliedRules: []string{}, Penalties: []Penalty{}, AdjustedScore: scanner.Clamp(score)}
}
