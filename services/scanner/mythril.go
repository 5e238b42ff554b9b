package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"codeshield/services/findings"
)

// Mythril runs the mythril symbolic executor.
type Mythril struct {
	binary string
}

// NewMythril returns an adapter for binary, "myth" when empty.
func NewMythril(binary string) *Mythril {
	if binary == "" {
		binary = "myth"
	}
	return &Mythril{binary: binary}
}

func (m *Mythril) Name() string { return findings.FamilyMythril }
func (m *Mythril) Kind() Kind   { return KindDynamic }

func (m *Mythril) Analyze(ctx context.Context, source string, opts AnalyzeOptions) (findings.ToolResult, error) {
	path, cleanup, err := writeSource(source)
	if err != nil {
		return nil, toolErr(m.Name(), CodeExecutionFailed, err)
	}
	defer cleanup()

	out, err := runTool(ctx, m.Name(), OpAnalyze, m.binary, true,
		"analyze", path, "-o", "json", "--execution-timeout", executionTimeout(opts.Timeout))
	if err != nil {
		return nil, err
	}
	return decodeMythril(out)
}

// executionTimeout leaves mythril a little headroom below the adapter deadline.
func executionTimeout(d time.Duration) string {
	secs := int(d.Seconds()) - 5
	if secs < 10 {
		secs = 10
	}
	return strconv.Itoa(secs)
}

func decodeMythril(out []byte) (*findings.MythrilResult, error) {
	var res findings.MythrilResult
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, toolErr(findings.FamilyMythril, CodeParseError, err)
	}
	if !res.Success {
		msg := "mythril reported failure"
		if res.Error != nil && strings.TrimSpace(*res.Error) != "" {
			msg = strings.TrimSpace(*res.Error)
		}
		return nil, toolErr(findings.FamilyMythril, CodeExecutionFailed, errors.New(msg))
	}
	return &res, nil
}

func (m *Mythril) CheckAvailable(context.Context) error {
	return lookBinary(m.Name(), m.binary)
}

func (m *Mythril) Version(ctx context.Context) (string, error) {
	out, err := runTool(ctx, m.Name(), OpVersion, m.binary, false, "version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
