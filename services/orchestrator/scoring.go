package orchestrator

import "codeshield/services/scanner"

// Final score weights in tenths: static 0.3, dynamic 0.3, quality 0.2, rules 0.2.
const (
	weightStatic  = 3
	weightDynamic = 3
	weightQuality = 2
	weightRules   = 2
)

// FinalScore combines the stage scores with fixed weights, rounds halves up
// and clamps to [0,100]. Integer arithmetic keeps 78.5 from landing on 78.
func FinalScore(static, dynamic, quality, rulesAdjusted int) int {
	tenths := weightStatic*static + weightDynamic*dynamic + weightQuality*quality + weightRules*rulesAdjusted
	if tenths < 0 {
		return 0
	}
	return scanner.Clamp((tenths + 5) / 10)
}
