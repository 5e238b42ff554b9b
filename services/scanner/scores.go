package scanner

import "codeshield/services/findings"

// Degraded default scores used when no analyzer produced a result.
const DegradedScore = 50

var severityWeights = map[findings.Severity]int{
	findings.SeverityCritical: 25,
	findings.SeverityHigh:     15,
	findings.SeverityMedium:   8,
	findings.SeverityLow:      3,
}

// Scores are the per-dimension analysis scores, each in [0,100].
type Scores struct {
	Static  int `json:"staticScore"`
	Dynamic int `json:"dynamicScore"`
	Quality int `json:"qualityScore"`
	// Raw is the weighted analysis score used when rules are unavailable.
	Raw int `json:"rawScore"`
}

// Clamp bounds n to [0,100].
func Clamp(n int) int {
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	default:
		return n
	}
}

// KindScore is 100 minus the severity weights of list.
func KindScore(list []findings.Finding) int {
	score := 100
	for _, f := range list {
		score -= severityWeights[f.Severity]
	}
	return Clamp(score)
}

// QualityScore penalizes tool failures and low-impact findings.
func QualityScore(all []findings.Finding, toolErrors int) int {
	s := findings.Summarize(all)
	return Clamp(100 - 10*toolErrors - 2*s.BySeverity.Low - s.BySeverity.Medium)
}

// RawScore is round((3s + 3d + 2q) / 8) with halves rounded up.
func RawScore(static, dynamic, quality int) int {
	return Clamp((3*static + 3*dynamic + 2*quality + 4) / 8)
}

// ComputeScores scores findings grouped by adapter kind. ran reports which
// kinds had at least one surviving adapter; a kind that did not run takes
// the other kind's score.
func ComputeScores(byKind map[Kind][]findings.Finding, ran map[Kind]bool, toolErrors int) Scores {
	var all []findings.Finding
	for _, list := range byKind {
		all = append(all, list...)
	}

	static := KindScore(byKind[KindStatic])
	dynamic := KindScore(byKind[KindDynamic])
	switch {
	case ran[KindStatic] && !ran[KindDynamic]:
		dynamic = static
	case ran[KindDynamic] && !ran[KindStatic]:
		static = dynamic
	}

	quality := QualityScore(all, toolErrors)
	return Scores{
		Static:  static,
		Dynamic: dynamic,
		Quality: quality,
		Raw:     RawScore(static, dynamic, quality),
	}
}

// DegradedScores is the documented fallback for an unreachable analysis stage.
func DegradedScores() Scores {
	return Scores{
		Static:  DegradedScore,
		Dynamic: DegradedScore,
		Quality: DegradedScore,
		Raw:     RawScore(DegradedScore, DegradedScore, DegradedScore),
	}
}
