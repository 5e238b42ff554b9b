package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"codeshield/pkg/telemetry"
	"codeshield/services/findings"
)

// DefaultToolTimeout bounds one adapter call.
const DefaultToolTimeout = 60 * time.Second

// Outcome is the all-settled result of one fan-out.
type Outcome struct {
	Results map[string]findings.ToolResult
	Errors  []ToolFailure
}

// FanOut runs every adapter in parallel. One adapter failing or timing out
// never cancels its siblings.
type FanOut struct {
	adapters []Adapter
	logger   zerolog.Logger
}

func NewFanOut(adapters []Adapter, logger zerolog.Logger) *FanOut {
	return &FanOut{adapters: adapters, logger: logger}
}

// Adapters returns the configured adapters.
func (f *FanOut) Adapters() []Adapter { return f.adapters }

type settled struct {
	result findings.ToolResult
	err    error
}

// Run invokes every adapter with its own timeout and waits for all of them.
func (f *FanOut) Run(ctx context.Context, source string, timeout time.Duration) Outcome {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}

	out := make([]settled, len(f.adapters))
	var wg sync.WaitGroup
	for i, a := range f.adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = f.invoke(ctx, a, source, timeout)
		}()
	}
	wg.Wait()

	outcome := Outcome{Results: make(map[string]findings.ToolResult, len(f.adapters))}
	for i, a := range f.adapters {
		if out[i].err != nil {
			outcome.Errors = append(outcome.Errors, failureFrom(a.Name(), out[i].err))
			continue
		}
		outcome.Results[a.Name()] = out[i].result
	}
	return outcome
}

func (f *FanOut) invoke(ctx context.Context, a Adapter, source string, timeout time.Duration) settled {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan settled, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- settled{err: toolErr(a.Name(), CodeExecutionFailed, fmt.Errorf("panic: %v", r))}
			}
		}()
		res, err := a.Analyze(tctx, source, AnalyzeOptions{Timeout: timeout})
		if err == nil && res == nil {
			err = toolErr(a.Name(), CodeParseError, fmt.Errorf("empty result"))
		}
		ch <- settled{result: res, err: err}
	}()

	var s settled
	select {
	case s = <-ch:
		var te *ToolError
		if s.err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && !errors.As(s.err, &te) {
			s.err = toolErr(a.Name(), CodeTimeout, s.err)
		}
	case <-tctx.Done():
		s = settled{err: toolErr(a.Name(), CodeTimeout, fmt.Errorf("no result within %s", timeout))}
	}

	outcome := "ok"
	if s.err != nil {
		outcome = "error"
		f.logger.Warn().Err(s.err).Str("tool", a.Name()).Msg("analyzer failed")
	}
	telemetry.ObserveAnalyzer(a.Name(), outcome, time.Since(start))
	return s
}
