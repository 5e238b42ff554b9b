package scanner

import (
	"context"
	"time"

	"codeshield/services/findings"
)

type fakeAdapter struct {
	name      string
	kind      Kind
	result    findings.ToolResult
	err       error
	delay     time.Duration
	ignoreCtx bool
	panicMsg  string
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Kind() Kind   { return f.kind }

func (f *fakeAdapter) Analyze(ctx context.Context, _ string, _ AnalyzeOptions) (findings.ToolResult, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.delay > 0 {
		if f.ignoreCtx {
			time.Sleep(f.delay)
		} else {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return f.result, f.err
}

func (f *fakeAdapter) CheckAvailable(context.Context) error      { return nil }
func (f *fakeAdapter) Version(context.Context) (string, error) { return "fake 0.0.1", nil }

const reentrantContract = `pragma solidity ^0.8.19;

contract Bank {
    mapping(address => uint256) public balances;

    function withdraw(uint256 amount) external {
        require(balances[msg.sender] >= amount, "insufficient");
        (bool ok, ) = msg.sender.call{value: amount}("");
        require(ok, "transfer failed");
        balances[msg.sender] -= amount;
    }
}
`

func mythrilFixture() *findings.MythrilResult {
	return &findings.MythrilResult{
		Success: true,
		Issues: []findings.MythrilIssue{
			{Title: "Integer Arithmetic Bugs", SWCID: "101", Severity: "High", LineNo: 10},
		},
	}
}
