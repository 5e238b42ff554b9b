package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sdkexec "github.com/zero-day-ai/sdk/exec"
	"github.com/zero-day-ai/sdk/toolerr"
)

// writeSource stores source in a fresh temp dir as Contract.sol.
func writeSource(source string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "codeshield-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	path := filepath.Join(dir, "Contract.sol")
	if err := os.WriteFile(path, []byte(source), 0o600); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

// runTool runs binary and returns stdout. A non-zero exit is only an error
// when allowExit is false or stdout is empty; some analyzers exit non-zero
// whenever they report findings.
func runTool(ctx context.Context, tool, op, binary string, allowExit bool, args ...string) ([]byte, error) {
	path, err := sdkexec.BinaryPath(binary)
	if err != nil {
		return nil, toolOpErr(tool, op, CodeBinaryNotFound, err)
	}

	res, err := sdkexec.Run(ctx, sdkexec.Config{Command: path, Args: args})
	if ctx.Err() != nil {
		return nil, toolOpErr(tool, op, CodeTimeout, ctx.Err())
	}
	if err != nil {
		return nil, toolOpErr(tool, op, CodeExecutionFailed, err)
	}
	if res.ExitCode != 0 {
		if allowExit && len(res.Stdout) > 0 {
			return res.Stdout, nil
		}
		msg := strings.TrimSpace(string(res.Stderr))
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		return nil, toolerr.New(tool, op, CodeExecutionFailed, msg).WithDetails(map[string]any{"exit_code": res.ExitCode})
	}
	return res.Stdout, nil
}

func lookBinary(tool, binary string) error {
	if !sdkexec.BinaryExists(binary) {
		return toolOpErr(tool, OpCheck, CodeBinaryNotFound, fmt.Errorf("%s not in PATH", binary))
	}
	return nil
}
