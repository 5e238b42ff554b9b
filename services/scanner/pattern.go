package scanner

import (
	"bufio"
	"context"
	"regexp"
	"strings"

	"codeshield/services/findings"
)

// PatternVersion identifies the built-in rule set.
const PatternVersion = "codeshield-pattern 1.1.0"

type patternRule struct {
	id          string
	title       string
	severity    string
	description string
	remediation string
	match       *regexp.Regexp
	exclude     *regexp.Regexp
}

var patternRules = []patternRule{
	{
		id:          "SC-000",
		title:       "Reentrancy: external call transfers value",
		severity:    "critical",
		description: "An external call forwards ether and gas to an untrusted address before the function finishes.",
		match:       regexp.MustCompile(`\.call\{\s*value\s*:|\.call\.value\(`),
	},
	{
		id:          "SC-001",
		title:       "Use of tx.origin for authorization",
		severity:    "high",
		description: "tx.origin can be spoofed by an intermediate contract and must not gate access.",
		remediation: "Use msg.sender for authorization checks.",
		match:       regexp.MustCompile(`\btx\.origin\b`),
	},
	{
		id:          "SC-002",
		title:       "Delegatecall to a possibly untrusted callee",
		severity:    "high",
		description: "delegatecall runs foreign code against this contract's storage.",
		match:       regexp.MustCompile(`\.delegatecall\s*\(`),
	},
	{
		id:          "SC-003",
		title:       "Use of selfdestruct",
		severity:    "medium",
		description: "The contract can be destroyed and its balance forcibly sent.",
		match:       regexp.MustCompile(`\b(selfdestruct|suicide)\s*\(`),
	},
	{
		id:          "SC-004",
		title:       "Unchecked low-level call return value",
		severity:    "medium",
		description: "The boolean result of a low-level call or send is ignored.",
		match:       regexp.MustCompile(`\.(call|send)\s*\(`),
		exclude:     regexp.MustCompile(`require\s*\(|assert\s*\(|if\s*\(|\(\s*bool\b|=`),
	},
	{
		id:          "SC-005",
		title:       "Arithmetic without overflow checks",
		severity:    "medium",
		description: "Compiler versions before 0.8 do not revert on integer overflow or underflow.",
		match:       regexp.MustCompile(`pragma\s+solidity\s*[\^~>=<]*\s*0\.[4-7]\.`),
	},
}

// PatternAnalyzer is the built-in line-oriented regex analyzer. It needs no
// external binary and is always available.
type PatternAnalyzer struct {
	rules []patternRule
}

func NewPatternAnalyzer() *PatternAnalyzer {
	return &PatternAnalyzer{rules: patternRules}
}

func (p *PatternAnalyzer) Name() string { return findings.FamilyPattern }
func (p *PatternAnalyzer) Kind() Kind   { return KindStatic }

func (p *PatternAnalyzer) Analyze(ctx context.Context, source string, _ AnalyzeOptions) (findings.ToolResult, error) {
	res := &findings.PatternResult{Issues: []findings.PatternIssue{}}
	sc := bufio.NewScanner(strings.NewReader(source))
	sc.Buffer(make([]byte, 0, 64*1024), len(source)+1)

	lineNo := 0
	inBlock := false
	for sc.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return nil, toolErr(p.Name(), CodeTimeout, err)
		}
		line := strings.TrimSpace(sc.Text())
		if inBlock {
			if strings.Contains(line, "*/") {
				inBlock = false
			}
			continue
		}
		if strings.HasPrefix(line, "/*") {
			inBlock = !strings.Contains(line, "*/")
			continue
		}
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "*") {
			continue
		}
		code := stripTrailingComment(line)
		for _, rule := range p.rules {
			if !rule.match.MatchString(code) {
				continue
			}
			if rule.exclude != nil && rule.exclude.MatchString(code) {
				continue
			}
			res.Issues = append(res.Issues, findings.PatternIssue{
				RuleID:      rule.id,
				Title:       rule.title,
				Severity:    rule.severity,
				Description: rule.description,
				Remediation: rule.remediation,
				Snippet:     line,
				Line:        lineNo,
			})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, toolErr(p.Name(), CodeParseError, err)
	}
	return res, nil
}

func stripTrailingComment(line string) string {
	if i := strings.Index(line, "//"); i >= 0 {
		return line[:i]
	}
	return line
}

func (p *PatternAnalyzer) CheckAvailable(context.Context) error { return nil }

func (p *PatternAnalyzer) Version(context.Context) (string, error) { return PatternVersion, nil }
