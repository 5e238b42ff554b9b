package rules

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"codeshield/services/findings"
	"codeshield/services/scanner"
)

//go:embed default_rules.yaml
var defaultRules []byte

// Rule is one YAML-defined policy rule. Condition is a CEL expression over
// critical, high, medium, low, total, failed, score, types and tools.
type Rule struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Condition   string `yaml:"condition"`
	Penalty     int    `yaml:"penalty"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

type compiledRule struct {
	Rule
	program cel.Program
}

// CELEngine evaluates rules locally.
type CELEngine struct {
	rules []compiledRule
}

// NewCELEngineFromFile loads rules from path, or the embedded defaults when
// path is empty.
func NewCELEngineFromFile(path string) (*CELEngine, error) {
	if strings.TrimSpace(path) == "" {
		return NewCELEngine(defaultRules)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return NewCELEngine(data)
}

// NewCELEngine compiles the YAML rule document in data.
func NewCELEngine(data []byte) (*CELEngine, error) {
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, errors.New("rules file defines no rules")
	}

	env, err := cel.NewEnv(
		cel.Variable("critical", cel.IntType),
		cel.Variable("high", cel.IntType),
		cel.Variable("medium", cel.IntType),
		cel.Variable("low", cel.IntType),
		cel.Variable("total", cel.IntType),
		cel.Variable("failed", cel.IntType),
		cel.Variable("score", cel.IntType),
		cel.Variable("types", cel.ListType(cel.StringType)),
		cel.Variable("tools", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}

	seen := make(map[string]bool, len(doc.Rules))
	compiled := make([]compiledRule, 0, len(doc.Rules))
	for _, r := range doc.Rules {
		if r.ID == "" {
			return nil, errors.New("rule id is required")
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %s", r.ID)
		}
		seen[r.ID] = true

		ast, iss := env.Compile(r.Condition)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, iss.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rule %s: condition must be boolean, got %s", r.ID, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		compiled = append(compiled, compiledRule{Rule: r, program: prg})
	}
	return &CELEngine{rules: compiled}, nil
}

// Rules returns the loaded rule definitions.
func (e *CELEngine) Rules() []Rule {
	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r.Rule)
	}
	return out
}

func activation(a *scanner.Analysis) map[string]any {
	tools := a.Tools
	if tools == nil {
		tools = []string{}
	}
	return map[string]any{
		"critical": int64(a.Summary.BySeverity.Critical),
		"high":     int64(a.Summary.BySeverity.High),
		"medium":   int64(a.Summary.BySeverity.Medium),
		"low":      int64(a.Summary.BySeverity.Low),
		"total":    int64(a.Summary.Total),
		"failed":   int64(len(a.ToolErrors)),
		"score":    int64(a.Scores.Raw),
		"types":    findings.Types(a.Findings),
		"tools":    tools,
	}
}

func (e *CELEngine) Apply(ctx context.Context, analysis *scanner.Analysis) (*Result, error) {
	if analysis == nil {
		return nil, errors.New("nil analysis")
	}
	vars := activation(analysis)

	res := &Result{AppliedRules: []string{}, Penalties: []Penalty{}}
	total := 0
	for _, r := range e.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, _, err := r.program.Eval(vars)
		if err != nil {
			return nil, fmt.Errorf("evaluate rule %s: %w", r.ID, err)
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("rule %s returned %T", r.ID, out.Value())
		}
		if !matched {
			continue
		}
		res.AppliedRules = append(res.AppliedRules, r.ID)
		res.Penalties = append(res.Penalties, Penalty{Rule: r.ID, Points: r.Penalty, Reason: r.Description})
		total += r.Penalty
	}
	res.AdjustedScore = scanner.Clamp(analysis.Scores.Raw - total)
	return res, nil
}
