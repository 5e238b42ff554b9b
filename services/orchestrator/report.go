package orchestrator

import (
	"codeshield/pkg/render"
	"codeshield/services/findings"
	"codeshield/services/registry"
	"codeshield/services/rules"
	"codeshield/services/scanner"
)

const reportTemplate = "report.tmpl"

type reportView struct {
	Target          string
	Score           int
	Summary         findings.Summary
	Tools           []string
	Degraded        bool
	TopFindings     []findings.Finding
	AppliedRules    []string
	Recommendations []string
}

func buildReport(engine *render.Engine, target string, score int, a *scanner.Analysis, r *rules.Result, topN int) (registry.Report, error) {
	top := findings.Top(a.Findings, topN)
	report := registry.Report{
		Summary:         a.Summary,
		TopFindings:     top,
		AppliedRules:    append([]string{}, r.AppliedRules...),
		Recommendations: findings.StandardRecommendations(a.Findings),
	}
	text, err := engine.Render(reportTemplate, reportView{
		Target:          target,
		Score:           score,
		Summary:         a.Summary,
		Tools:           a.Tools,
		Degraded:        a.Degraded,
		TopFindings:     top,
		AppliedRules:    report.AppliedRules,
		Recommendations: report.Recommendations,
	})
	if err != nil {
		return registry.Report{}, err
	}
	report.Text = text
	return report, nil
}
