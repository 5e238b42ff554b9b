package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"codeshield/services/findings"
)

// Slither runs the slither static analyzer.
type Slither struct {
	binary string
}

// NewSlither returns an adapter for binary, "slither" when empty.
func NewSlither(binary string) *Slither {
	if binary == "" {
		binary = "slither"
	}
	return &Slither{binary: binary}
}

func (s *Slither) Name() string { return findings.FamilySlither }
func (s *Slither) Kind() Kind   { return KindStatic }

func (s *Slither) Analyze(ctx context.Context, source string, _ AnalyzeOptions) (findings.ToolResult, error) {
	path, cleanup, err := writeSource(source)
	if err != nil {
		return nil, toolErr(s.Name(), CodeExecutionFailed, err)
	}
	defer cleanup()

	out, err := runTool(ctx, s.Name(), OpAnalyze, s.binary, true, path, "--json", "-")
	if err != nil {
		return nil, err
	}
	return decodeSlither(out)
}

func decodeSlither(out []byte) (*findings.SlitherResult, error) {
	var res findings.SlitherResult
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, toolErr(findings.FamilySlither, CodeParseError, err)
	}
	if !res.Success {
		msg := strings.TrimSpace(res.Error)
		if msg == "" {
			msg = "slither reported failure"
		}
		return nil, toolErr(findings.FamilySlither, CodeExecutionFailed, errors.New(msg))
	}
	return &res, nil
}

func (s *Slither) CheckAvailable(context.Context) error {
	return lookBinary(s.Name(), s.binary)
}

func (s *Slither) Version(ctx context.Context) (string, error) {
	out, err := runTool(ctx, s.Name(), OpVersion, s.binary, false, "--version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
