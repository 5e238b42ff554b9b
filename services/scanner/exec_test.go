package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkexec "github.com/zero-day-ai/sdk/exec"
	"github.com/zero-day-ai/sdk/toolerr"
)

func requireShell(t *testing.T) {
	t.Helper()
	if !sdkexec.BinaryExists("sh") {
		t.Skip("sh not available")
	}
}

func TestRunTool(t *testing.T) {
	requireShell(t)

	tests := []struct {
		name      string
		binary    string
		allowExit bool
		script    string
		want      string
		code      string
		contains  string
	}{
		{name: "stdout", binary: "sh", script: "echo ok", want: "ok\n"},
		{name: "findings exit tolerated", binary: "sh", allowExit: true, script: "echo '{}'; exit 1", want: "{}\n"},
		{name: "non-zero exit", binary: "sh", script: "echo boom >&2; exit 2", code: CodeExecutionFailed, contains: "boom"},
		{name: "non-zero exit without output", binary: "sh", allowExit: true, script: "exit 3", code: CodeExecutionFailed, contains: "exit status 3"},
		{name: "missing binary", binary: "codeshield-no-such-tool", code: CodeBinaryNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runTool(context.Background(), "fake", OpAnalyze, tt.binary, tt.allowExit, "-c", tt.script)
			if tt.code == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, string(out))
				return
			}
			var te *ToolError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.code, te.Code)
			assert.Equal(t, "fake", te.Tool)
			assert.Equal(t, OpAnalyze, te.Operation)
			if tt.contains != "" {
				assert.Contains(t, te.Error(), tt.contains)
			}
		})
	}
}

func TestRunToolTimeout(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := runTool(ctx, "slither", OpAnalyze, "sh", true, "-c", "sleep 5")
	require.Error(t, err)
	assert.True(t, errors.Is(err, toolerr.New("slither", OpAnalyze, toolerr.ErrCodeTimeout, "")))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLookBinary(t *testing.T) {
	requireShell(t)
	require.NoError(t, lookBinary("fake", "sh"))

	err := lookBinary("slither", "codeshield-no-such-tool")
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeBinaryNotFound, te.Code)
	assert.Equal(t, OpCheck, te.Operation)
}

func TestFailureFromToolError(t *testing.T) {
	f := failureFrom("mythril", toolErr("mythril", CodeParseError, errors.New("bad json")))
	assert.Equal(t, ToolFailure{Tool: "mythril", Code: CodeParseError, Error: "bad json"}, f)

	f = failureFrom("slither", toolerr.New("slither", OpAnalyze, CodeExecutionFailed, "exit status 2"))
	assert.Equal(t, "exit status 2", f.Error)

	f = failureFrom("other", errors.New("plain"))
	assert.Equal(t, CodeExecutionFailed, f.Code)
}
