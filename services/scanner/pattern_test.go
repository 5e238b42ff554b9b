package scanner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeshield/services/findings"
)

func patternIssues(t *testing.T, source string) []findings.PatternIssue {
	t.Helper()
	res, err := NewPatternAnalyzer().Analyze(context.Background(), source, AnalyzeOptions{})
	require.NoError(t, err)
	pr, ok := res.(*findings.PatternResult)
	require.True(t, ok)
	return pr.Issues
}

func TestPatternRules(t *testing.T) {
	cases := []struct {
		name   string
		line   string
		ruleID string
	}{
		{name: "call with value", line: `(bool ok, ) = to.call{value: amt}("");`, ruleID: "SC-000"},
		{name: "legacy call value", line: `to.call.value(amt)();`, ruleID: "SC-000"},
		{name: "tx origin", line: `require(tx.origin == owner);`, ruleID: "SC-001"},
		{name: "delegatecall", line: `impl.delegatecall(data);`, ruleID: "SC-002"},
		{name: "selfdestruct", line: `selfdestruct(payable(owner));`, ruleID: "SC-003"},
		{name: "suicide", line: `suicide(owner);`, ruleID: "SC-003"},
		{name: "unchecked send", line: `to.send(amt);`, ruleID: "SC-004"},
		{name: "old pragma", line: `pragma solidity ^0.6.12;`, ruleID: "SC-005"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			issues := patternIssues(t, tc.line)
			require.NotEmpty(t, issues)
			ids := make([]string, 0, len(issues))
			for _, is := range issues {
				ids = append(ids, is.RuleID)
				assert.Equal(t, 1, is.Line)
			}
			assert.Contains(t, ids, tc.ruleID)
		})
	}
}

func TestPatternIgnores(t *testing.T) {
	cases := []struct {
		name   string
		source string
	}{
		{name: "checked send", source: `require(to.send(amt));`},
		{name: "assigned call", source: `(bool ok, ) = to.call(data);`},
		{name: "modern pragma", source: `pragma solidity ^0.8.19;`},
		{name: "line comment", source: `// tx.origin is never used here`},
		{name: "trailing comment", source: `uint x = 1; // selfdestruct(owner)`},
		{name: "block comment", source: "/*\n selfdestruct(owner);\n tx.origin\n*/\nuint x;"},
		{name: "doc comment", source: "/**\n * @dev uses delegatecall(\n */"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Empty(t, patternIssues(t, tc.source))
		})
	}
}

func TestPatternLineNumbers(t *testing.T) {
	issues := patternIssues(t, reentrantContract)
	require.Len(t, issues, 1)
	assert.Equal(t, "SC-000", issues[0].RuleID)
	assert.Equal(t, 8, issues[0].Line)
}

func TestPatternCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPatternAnalyzer().Analyze(ctx, reentrantContract, AnalyzeOptions{})
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeTimeout, te.Code)
}

func TestDecodeSlither(t *testing.T) {
	res, err := decodeSlither([]byte(`{"success":true,"error":null,"results":{"detectors":[{"check":"reentrancy-eth","impact":"High","elements":[]}]}}`))
	require.NoError(t, err)
	require.Len(t, res.Results.Detectors, 1)

	_, err = decodeSlither([]byte(`{"success":false,"error":"compilation failed"}`))
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeExecutionFailed, te.Code)

	_, err = decodeSlither([]byte(`not json`))
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeParseError, te.Code)
}

func TestDecodeMythril(t *testing.T) {
	res, err := decodeMythril([]byte(`{"success":true,"error":null,"issues":[{"title":"Integer Arithmetic Bugs","swc-id":"101","severity":"High","lineno":4}]}`))
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, 4, res.Issues[0].LineNo)

	_, err = decodeMythril([]byte(`{"success":false,"error":"solc missing","issues":[]}`))
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Error(), "solc missing")
}

func TestExecutionTimeout(t *testing.T) {
	assert.Equal(t, "10", executionTimeout(0))
	assert.Equal(t, "55", executionTimeout(60_000_000_000))
}
