package findings

import "strings"

// GenericRemediation is used when neither the tool nor the type table has advice.
const GenericRemediation = "Review the flagged code against current Solidity security best practices and add tests covering the affected path."

var remediations = map[string]string{
	TypeReentrancy:         "Apply checks-effects-interactions: update state before external calls and guard entry points with a reentrancy lock.",
	TypeArithmeticOverflow: "Compile with Solidity >= 0.8 checked arithmetic or use a vetted SafeMath library for every arithmetic operation.",
	TypeUncheckedCall:      "Check the boolean returned by low-level calls and revert on failure, or use a safe transfer wrapper.",
	TypeTxOrigin:           "Authorize with msg.sender instead of tx.origin.",
	TypeDelegatecall:       "Restrict delegatecall targets to trusted, immutable implementations and never forward user-controlled addresses.",
	TypeSelfdestruct:       "Remove selfdestruct or gate it behind strict owner-only, time-locked logic.",
}

// DefaultRemediation returns the tool-supplied text when present, else the
// table entry for typ, else a generic fallback.
func DefaultRemediation(typ, toolSupplied string) string {
	if s := strings.TrimSpace(toolSupplied); s != "" {
		return s
	}
	if s, ok := remediations[typ]; ok {
		return s
	}
	return GenericRemediation
}

// StandardRecommendations lists the remediation text for every type present
// in list, in classification order.
func StandardRecommendations(list []Finding) []string {
	present := make(map[string]bool, len(list))
	for _, f := range list {
		present[f.Type] = true
	}
	var out []string
	for _, rule := range typeRules {
		if present[rule.typ] {
			out = append(out, remediations[rule.typ])
		}
	}
	if len(out) == 0 && len(list) > 0 {
		out = append(out, GenericRemediation)
	}
	return out
}
