package findings

import "strings"

// typeRules is evaluated in order and the first match wins. The order matters
// because one issue text can mention several keywords.
var typeRules = []struct {
	typ      string
	keywords []string
}{
	{TypeReentrancy, []string{"reentrancy", "re-entrancy", "reentrant", "swc-107"}},
	{TypeArithmeticOverflow, []string{"overflow", "underflow", "arithmetic", "swc-101"}},
	{TypeUncheckedCall, []string{"unchecked", "low-level call", "swc-104"}},
	{TypeTxOrigin, []string{"tx.origin", "tx-origin", "swc-115"}},
	{TypeDelegatecall, []string{"delegatecall", "swc-112"}},
	{TypeSelfdestruct, []string{"selfdestruct", "suicidal", "suicide", "swc-106"}},
}

// ClassifyType infers a vulnerability type from an issue's title and check text.
func ClassifyType(issue NormalizedIssue) string {
	return classifyText(issue.Title + " " + issue.Check)
}

func classifyText(text string) string {
	text = strings.ToLower(text)
	for _, rule := range typeRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.typ
			}
		}
	}
	return TypeOther
}
