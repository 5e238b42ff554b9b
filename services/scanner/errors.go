package scanner

import (
	"errors"
	"fmt"

	"github.com/zero-day-ai/sdk/toolerr"
)

// Validation failure reasons.
const (
	ReasonEmpty     = "empty"
	ReasonTooLarge  = "too_large"
	ReasonWrongType = "wrong_type"
)

// ValidationError reports input rejected before any resource is acquired.
type ValidationError struct {
	Reason string
	Size   int
	Limit  int
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonTooLarge:
		return fmt.Sprintf("validation: source is %d bytes, limit is %d", e.Size, e.Limit)
	case ReasonWrongType:
		return "validation: source must be UTF-8 text"
	default:
		return "validation: source is empty"
	}
}

// ErrBusy is matched by every *BusyError through errors.Is.
var ErrBusy = errors.New("scanner: concurrency limit reached")

// BusyError is returned when every admission slot is taken. There is no
// queue; the caller retries.
type BusyError struct {
	Max int
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("scanner: concurrency limit of %d reached, retry later", e.Max)
}

func (e *BusyError) Is(target error) bool { return target == ErrBusy }

// ErrAnalysisUnavailable means no adapter produced a result.
var ErrAnalysisUnavailable = errors.New("scanner: no analyzer produced a result")

// Tool error codes.
const (
	CodeTimeout         = toolerr.ErrCodeTimeout
	CodeExecutionFailed = toolerr.ErrCodeExecutionFailed
	CodeParseError      = toolerr.ErrCodeParseError
	CodeBinaryNotFound  = toolerr.ErrCodeBinaryNotFound
)

// Tool operations recorded on a ToolError.
const (
	OpAnalyze = "analyze"
	OpCheck   = "check"
	OpVersion = "version"
)

// ToolError is one analyzer's failure. It never fails a scan on its own.
type ToolError = toolerr.Error

func toolErr(tool, code string, err error) *ToolError {
	return toolOpErr(tool, OpAnalyze, code, err)
}

func toolOpErr(tool, op, code string, err error) *ToolError {
	return toolerr.New(tool, op, code, "").WithCause(err)
}

// ToolFailure is the recorded form of a ToolError on a report.
type ToolFailure struct {
	Tool  string `json:"tool"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

func failureFrom(tool string, err error) ToolFailure {
	var te *ToolError
	if errors.As(err, &te) {
		msg := te.Code
		switch {
		case te.Cause != nil:
			msg = te.Cause.Error()
		case te.Message != "":
			msg = te.Message
		}
		return ToolFailure{Tool: tool, Code: te.Code, Error: msg}
	}
	return ToolFailure{Tool: tool, Code: CodeExecutionFailed, Error: err.Error()}
}
