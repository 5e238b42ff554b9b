package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"codeshield/pkg/telemetry"
	"codeshield/services/findings"
	"codeshield/services/ledger"
	"codeshield/services/registry"
	"codeshield/services/rules"
	"codeshield/services/scanner"
	"codeshield/services/signer"
)

var tracer = telemetry.Tracer("codeshield/orchestrator")

// run executes one admitted scan to a terminal state. There is no
// cancellation: the scan context is detached from the submitter.
func (o *Orchestrator) run(j job) {
	defer j.release()

	ctx, span := tracer.Start(context.Background(), "scan",
		trace.WithAttributes(attribute.String("scan.id", j.id), attribute.String("scan.target", j.target)))
	defer span.End()

	logger := o.logger.With().Str("scan_id", j.id).Str("target", j.target).Logger()
	ctx = logger.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("scan workflow panicked")
			span.SetStatus(codes.Error, "panic")
			o.fail(ctx, j, registry.ErrorKindInternal, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := o.execute(ctx, j); err != nil {
		kind := registry.ErrorKindInternal
		var attErr *attestationError
		if errors.As(err, &attErr) {
			kind = registry.ErrorKindAttestation
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		logger.Error().Err(err).Str("kind", kind).Msg("scan failed")
		o.fail(ctx, j, kind, err.Error())
	}
}

type attestationError struct{ err error }

func (e *attestationError) Error() string { return "attestation: " + e.err.Error() }
func (e *attestationError) Unwrap() error { return e.err }

func (o *Orchestrator) execute(ctx context.Context, j job) error {
	logger := zerolog.Ctx(ctx)

	if err := o.transition(ctx, j.id, registry.StatusScanning, nil); err != nil {
		return err
	}
	analysis := o.analyze(ctx, j)

	if err := o.transition(ctx, j.id, registry.StatusApplyingRules, nil); err != nil {
		return err
	}
	rulesResult := o.applyRules(ctx, j, analysis)

	score := FinalScore(analysis.Scores.Static, analysis.Scores.Dynamic, analysis.Scores.Quality, rulesResult.AdjustedScore)
	report, err := buildReport(o.renderer, j.target, score, analysis, rulesResult, o.opts.TopFindings)
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	reportHash := ledger.ReportHash(reportJSON)

	var sigValue string
	if o.signer != nil {
		sig, err := o.signer.Sign(signer.Payload{
			Target:        j.target,
			CodeHash:      j.hash,
			SecurityScore: score,
			ReportHash:    reportHash,
			ModelVersion:  o.opts.ModelVersion,
		})
		if err != nil {
			return fmt.Errorf("sign attestation: %w", err)
		}
		report.Signature = sig
		sigValue = sig.Value
	}

	if err := o.transition(ctx, j.id, registry.StatusSubmittingAttestation, nil); err != nil {
		return err
	}
	receipt, err := o.attest(ctx, ledger.SubmitRequest{
		Target:        j.target,
		CodeHash:      j.hash,
		SecurityScore: score,
		Report:        reportJSON,
		ModelVersion:  o.opts.ModelVersion,
		Signature:     sigValue,
	})
	if err != nil {
		return &attestationError{err: err}
	}

	result := &registry.Result{
		SecurityScore:       score,
		VulnerabilityReport: report,
		AnalysisDetails:     analysis,
		RulesApplied:        rulesResult,
		Attestation: &registry.Attestation{
			TargetRef:       j.target,
			CodeHash:        j.hash,
			SecurityScore:   score,
			ReportHash:      reportHash,
			ModelVersion:    o.opts.ModelVersion,
			TransactionHash: receipt.TransactionHash,
		},
	}
	result.ArchiveKeys = o.archive(ctx, j, result)

	if err := o.transition(ctx, j.id, registry.StatusCompleted, func(r *registry.Record) {
		r.Result = result
		r.Error = nil
	}); err != nil {
		return err
	}
	logger.Info().Int("score", score).Str("tx", receipt.TransactionHash).Msg("scan completed")
	return nil
}

// analyze never fails the scan. When no analyzer produced a result the
// degraded default is used and a warning recorded.
func (o *Orchestrator) analyze(ctx context.Context, j job) *scanner.Analysis {
	ctx, span := tracer.Start(ctx, "scan.analysis")
	defer span.End()

	analysis, err := o.analyzer.Analyze(ctx, j.source)
	if err == nil && analysis != nil {
		span.SetAttributes(attribute.Int("findings", len(analysis.Findings)), attribute.Int("tool_errors", len(analysis.ToolErrors)))
		return analysis
	}
	if err == nil {
		err = scanner.ErrAnalysisUnavailable
	}
	if analysis == nil {
		analysis = &scanner.Analysis{
			Findings:   []findings.Finding{},
			Tools:      []string{},
			ToolErrors: []scanner.ToolFailure{},
			Scores:     scanner.DegradedScores(),
		}
	}
	analysis.Degraded = true
	analysis.Scores = scanner.DegradedScores()

	span.RecordError(err)
	zerolog.Ctx(ctx).Warn().Err(err).Str("stage", "analysis").Msg("analysis degraded")
	telemetry.StageDegraded("analysis")
	o.warn(ctx, j.id, registry.WarningDegradedAnalysis, err.Error())
	return analysis
}

// applyRules never fails the scan. On any engine error the raw analysis
// score is used unmodified.
func (o *Orchestrator) applyRules(ctx context.Context, j job, analysis *scanner.Analysis) *rules.Result {
	ctx, span := tracer.Start(ctx, "scan.rules")
	defer span.End()

	rctx, cancel := context.WithTimeout(ctx, o.opts.RulesTimeout)
	defer cancel()

	res, err := o.rules.Apply(rctx, analysis)
	if err == nil && res != nil {
		res.AdjustedScore = scanner.Clamp(res.AdjustedScore)
		if res.AppliedRules == nil {
			res.AppliedRules = []string{}
		}
		if res.Penalties == nil {
			res.Penalties = []rules.Penalty{}
		}
		span.SetAttributes(attribute.Int("adjusted_score", res.AdjustedScore))
		return res
	}
	if err == nil {
		err = errors.New("rules engine returned no result")
	}

	span.RecordError(err)
	zerolog.Ctx(ctx).Warn().Err(err).Str("stage", "rules").Msg("rules degraded")
	telemetry.StageDegraded("rules")
	o.warn(ctx, j.id, registry.WarningDegradedRules, err.Error())
	return rules.Fallback(analysis)
}

func (o *Orchestrator) attest(ctx context.Context, req ledger.SubmitRequest) (*ledger.Receipt, error) {
	ctx, span := tracer.Start(ctx, "scan.attestation")
	defer span.End()

	lctx, cancel := context.WithTimeout(ctx, o.opts.LedgerTimeout)
	defer cancel()

	receipt, err := o.ledger.SubmitScan(lctx, req)
	if err == nil && receipt == nil {
		err = errors.New("ledger returned no receipt")
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("tx", receipt.TransactionHash))
	return receipt, nil
}

// archive stores the report and its SARIF rendering. A failure is recorded as
// a warning and never fails the scan.
func (o *Orchestrator) archive(ctx context.Context, j job, result *registry.Result) []string {
	if o.archiver == nil {
		return nil
	}
	ctx, span := tracer.Start(ctx, "scan.archive")
	defer span.End()

	keys, err := o.archiveResult(ctx, j.id, result)
	if err != nil {
		span.RecordError(err)
		zerolog.Ctx(ctx).Warn().Err(err).Str("stage", "archive").Msg("archive failed")
		telemetry.StageDegraded("archive")
		o.warn(ctx, j.id, registry.WarningArchiveFailed, err.Error())
		return nil
	}
	return keys
}

func (o *Orchestrator) archiveResult(ctx context.Context, id string, result *registry.Result) ([]string, error) {
	doc, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	sarif, err := json.Marshal(findings.ToSARIF(result.AnalysisDetails.Findings, "codeshield", o.opts.ModelVersion))
	if err != nil {
		return nil, fmt.Errorf("encode sarif: %w", err)
	}
	return o.archiver.Archive(ctx, id, doc, sarif)
}

func (o *Orchestrator) transition(ctx context.Context, id string, to registry.Status, mutate func(*registry.Record)) error {
	rec, err := o.registry.Transition(ctx, id, to, mutate)
	if err != nil {
		return fmt.Errorf("transition to %s: %w", to, err)
	}
	zerolog.Ctx(ctx).Debug().Str("status", string(to)).Msg("scan transition")
	o.publish(ctx, *rec)
	if to.Terminal() {
		telemetry.ScanFinished(string(to))
	}
	return nil
}

// fail moves the scan to failed with the cause preserved. The result is
// cleared so a failed record never carries partial output.
func (o *Orchestrator) fail(ctx context.Context, j job, kind, message string) {
	err := o.transition(ctx, j.id, registry.StatusFailed, func(r *registry.Record) {
		r.Result = nil
		r.Error = &registry.ScanError{Kind: kind, Message: message}
	})
	if err != nil {
		o.logger.Error().Err(err).Str("scan_id", j.id).Msg("record scan failure")
	}
}

func (o *Orchestrator) warn(ctx context.Context, id, kind, message string) {
	if err := o.registry.AddWarning(ctx, id, registry.Warning{Kind: kind, Message: message}); err != nil {
		o.logger.Error().Err(err).Str("scan_id", id).Str("warning", kind).Msg("record warning")
	}
}

func (o *Orchestrator) publish(ctx context.Context, rec registry.Record) {
	if o.events == nil {
		return
	}
	evt := StatusEvent{
		ScanID: rec.ID,
		Target: rec.Target,
		Status: rec.Status,
		At:     rec.UpdatedAt,
	}
	if rec.Result != nil {
		score := rec.Result.SecurityScore
		evt.SecurityScore = &score
	}
	if rec.Error != nil {
		evt.Error = rec.Error.Message
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	if err := o.events.Publish(ctx, SubjectScanStatus, evt); err != nil {
		o.logger.Warn().Err(err).Str("scan_id", rec.ID).Str("status", string(rec.Status)).Msg("publish status event")
	}
}
