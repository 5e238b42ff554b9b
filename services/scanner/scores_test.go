package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"codeshield/services/findings"
)

func sev(list ...findings.Severity) []findings.Finding {
	out := make([]findings.Finding, 0, len(list))
	for _, s := range list {
		out = append(out, findings.Finding{Severity: s})
	}
	return out
}

func TestKindScore(t *testing.T) {
	cases := []struct {
		name string
		list []findings.Finding
		want int
	}{
		{name: "clean", want: 100},
		{name: "one of each", list: sev("critical", "high", "medium", "low"), want: 49},
		{name: "floors at zero", list: sev("critical", "critical", "critical", "critical", "critical"), want: 0},
		{name: "unknown severity weighs nothing", list: sev("bogus"), want: 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindScore(tc.list))
		})
	}
}

func TestQualityScore(t *testing.T) {
	assert.Equal(t, 100, QualityScore(nil, 0))
	assert.Equal(t, 85, QualityScore(sev("low", "low", "medium", "high"), 1))
	assert.Equal(t, 0, QualityScore(nil, 12))
}

func TestRawScoreRoundsHalfUp(t *testing.T) {
	assert.Equal(t, 79, RawScore(75, 80, 85))
	assert.Equal(t, 1, RawScore(0, 0, 2))
	assert.Equal(t, 0, RawScore(0, 0, 1))
	assert.Equal(t, 50, RawScore(50, 50, 50))
	assert.Equal(t, 100, RawScore(100, 100, 100))
}

func TestComputeScoresInheritance(t *testing.T) {
	byKind := map[Kind][]findings.Finding{KindStatic: sev("high")}

	onlyStatic := ComputeScores(byKind, map[Kind]bool{KindStatic: true}, 1)
	assert.Equal(t, 85, onlyStatic.Static)
	assert.Equal(t, 85, onlyStatic.Dynamic)
	assert.Equal(t, 90, onlyStatic.Quality)

	both := ComputeScores(byKind, map[Kind]bool{KindStatic: true, KindDynamic: true}, 0)
	assert.Equal(t, 85, both.Static)
	assert.Equal(t, 100, both.Dynamic)
	assert.Equal(t, RawScore(85, 100, 100), both.Raw)

	onlyDynamic := ComputeScores(map[Kind][]findings.Finding{KindDynamic: sev("medium")}, map[Kind]bool{KindDynamic: true}, 0)
	assert.Equal(t, 92, onlyDynamic.Static)
}

func TestDegradedScores(t *testing.T) {
	assert.Equal(t, Scores{Static: 50, Dynamic: 50, Quality: 50, Raw: 50}, DegradedScores())
}
