package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeshield/pkg/bus"
	"codeshield/services/findings"
	"codeshield/services/ledger"
	"codeshield/services/registry"
	"codeshield/services/rules"
	"codeshield/services/scanner"
	"codeshield/services/signer"
)

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

const cleanContract = `pragma solidity ^0.8.19;

contract Counter {
    uint256 public count;

    function increment() external {
        count += 1;
    }
}
`

type slowAdapter struct {
	name  string
	kind  scanner.Kind
	delay time.Duration
	err   error
}

func (s *slowAdapter) Name() string       { return s.name }
func (s *slowAdapter) Kind() scanner.Kind { return s.kind }

func (s *slowAdapter) Analyze(ctx context.Context, _ string, _ scanner.AnalyzeOptions) (findings.ToolResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	select {
	case <-time.After(s.delay):
		return &findings.PatternResult{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *slowAdapter) CheckAvailable(context.Context) error      { return nil }
func (s *slowAdapter) Version(context.Context) (string, error) { return "slow 0.0.1", nil }

// stubAnalyzer returns a fixed analysis, optionally blocking until unblock is
// closed or panicking.
type stubAnalyzer struct {
	analysis *scanner.Analysis
	err      error
	unblock  chan struct{}
	panicMsg string
}

func (s *stubAnalyzer) Analyze(ctx context.Context, _ string) (*scanner.Analysis, error) {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.unblock != nil {
		<-s.unblock
	}
	return s.analysis, s.err
}

type stubRules struct {
	result *rules.Result
	err    error
}

func (s *stubRules) Apply(context.Context, *scanner.Analysis) (*rules.Result, error) {
	return s.result, s.err
}

type failingLedger struct{ ledger.Client }

func (failingLedger) SubmitScan(context.Context, ledger.SubmitRequest) (*ledger.Receipt, error) {
	return nil, errors.New("ledger down")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (p *recordingPublisher) Publish(_ context.Context, subj string, v any) error {
	if subj != SubjectScanStatus {
		return errors.New("unexpected subject " + subj)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, v.(StatusEvent))
	return nil
}

func (p *recordingPublisher) statuses(id string) []registry.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []registry.Status
	for _, e := range p.events {
		if e.ScanID == id {
			out = append(out, e.Status)
		}
	}
	return out
}

type fakeArchiver struct {
	keys []string
	err  error

	mu    sync.Mutex
	ids   []string
	sarif []byte
}

func (f *fakeArchiver) Archive(_ context.Context, scanID string, _, sarif []byte) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, scanID)
	f.sarif = sarif
	return f.keys, f.err
}

func patternAnalyzer(extra ...scanner.Adapter) *scanner.Analyzer {
	adapters := append([]scanner.Adapter{scanner.NewPatternAnalyzer()}, extra...)
	return scanner.NewAnalyzer(adapters, 200*time.Millisecond, zerolog.Nop())
}

func fixedAnalysis() *scanner.Analysis {
	return &scanner.Analysis{
		Findings:   []findings.Finding{},
		Tools:      []string{"pattern"},
		ToolErrors: []scanner.ToolFailure{},
		Scores:     scanner.Scores{Static: 75, Dynamic: 80, Quality: 85, Raw: 79},
	}
}

func newOrchestrator(t *testing.T, deps Deps) *Orchestrator {
	t.Helper()
	if deps.Analyzer == nil {
		deps.Analyzer = patternAnalyzer()
	}
	if deps.Rules == nil {
		engine, err := rules.NewCELEngineFromFile("")
		require.NoError(t, err)
		deps.Rules = engine
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.NewMemoryLedger()
	}
	deps.Logger = zerolog.Nop()
	o, err := New(deps, Options{})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Close(ctx)
	})
	return o
}

func waitTerminal(t *testing.T, o *Orchestrator, id string) *registry.Record {
	t.Helper()
	var rec *registry.Record
	require.Eventually(t, func() bool {
		r, err := o.Get(context.Background(), id)
		if err != nil || r == nil {
			return false
		}
		rec = r
		return r.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return rec
}

func warningKinds(rec *registry.Record) []string {
	out := make([]string, 0, len(rec.Warnings))
	for _, w := range rec.Warnings {
		out = append(out, w.Kind)
	}
	return out
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Deps{Rules: &stubRules{}, Ledger: ledger.NewMemoryLedger()}, Options{})
	require.Error(t, err)
	_, err = New(Deps{Analyzer: &stubAnalyzer{}, Ledger: ledger.NewMemoryLedger()}, Options{})
	require.Error(t, err)
	_, err = New(Deps{Analyzer: &stubAnalyzer{}, Rules: &stubRules{}}, Options{})
	require.Error(t, err)
}

func TestReentrancyScanCompletes(t *testing.T) {
	ledgerClient := ledger.NewMemoryLedger()
	o := newOrchestrator(t, Deps{Ledger: ledgerClient})

	id, err := o.SubmitScan(context.Background(), ScanRequest{Target: "0xBank", Source: reentrantContract})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec := waitTerminal(t, o, id)
	require.Equal(t, registry.StatusCompleted, rec.Status)
	require.Nil(t, rec.Error)
	require.NotNil(t, rec.Result)

	var found bool
	for _, f := range rec.Result.AnalysisDetails.Findings {
		if f.Type == findings.TypeReentrancy && f.Severity == findings.SeverityCritical {
			found = true
		}
	}
	assert.True(t, found, "expected a critical reentrancy finding")
	assert.Equal(t, ledger.CodeHash(reentrantContract), rec.CodeHash)
	assert.Contains(t, rec.Result.RulesApplied.AppliedRules, "CS-R003")
	assert.Contains(t, rec.Result.VulnerabilityReport.Text, "Target: 0xBank")
	assert.NotEmpty(t, rec.Result.VulnerabilityReport.Recommendations)

	att := rec.Result.Attestation
	require.NotNil(t, att)
	assert.NotEmpty(t, att.TransactionHash)
	assert.Equal(t, rec.Result.SecurityScore, att.SecurityScore)

	stored, err := ledgerClient.QueryScan(context.Background(), "0xBank")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, rec.Result.SecurityScore, stored.SecurityScore)
	assert.Equal(t, att.ReportHash, stored.ReportHash)
	require.Eventually(t, func() bool { return o.Gate().InFlight(context.Background()) == 0 }, time.Second, 10*time.Millisecond)
}

func TestScoreUsesFixedWeights(t *testing.T) {
	o := newOrchestrator(t, Deps{
		Analyzer: &stubAnalyzer{analysis: fixedAnalysis()},
		Rules:    &stubRules{result: &rules.Result{AppliedRules: []string{"R1"}, Penalties: []rules.Penalty{{Rule: "R1", Points: 5}}, AdjustedScore: 75}},
	})

	id, err := o.SubmitScan(context.Background(), ScanRequest{Target: "t", Source: cleanContract})
	require.NoError(t, err)

	rec := waitTerminal(t, o, id)
	require.Equal(t, registry.StatusCompleted, rec.Status)
	assert.Equal(t, 79, rec.Result.SecurityScore)
	assert.Equal(t, []string{"R1"}, rec.Result.VulnerabilityReport.AppliedRules)
}

func TestLedgerRejectionFailsScan(t *testing.T) {
	o := newOrchestrator(t, Deps{Ledger: failingLedger{}})

	id, err := o.SubmitScan(context.Background(), ScanRequest{Target: "t", Source: reentrantContract})
	require.NoError(t, err)

	rec := waitTerminal(t, o, id)
	require.Equal(t, registry.StatusFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, registry.ErrorKindAttestation, rec.Error.Kind)
	assert.Contains(t, rec.Error.Message, "ledger down")
	assert.Nil(t, rec.Result)
	require.Eventually(t, func() bool { return o.Gate().InFlight(context.Background()) == 0 }, time.Second, 10*time.Millisecond)
}

func TestOneToolTimeoutStillCompletes(t *testing.T) {
	slow := &slowAdapter{name: "mythril", kind: scanner.KindDynamic, delay: 5 * time.Second}
	o := newOrchestrator(t, Deps{Analyzer: patternAnalyzer(slow)})

	id, err := o.SubmitScan(context.Background(), ScanRequest{Target: "t", Source: reentrantContract})
	require.NoError(t, err)

	rec := waitTerminal(t, o, id)
	require.Equal(t, registry.StatusCompleted, rec.Status)
	analysis := rec.Result.AnalysisDetails
	require.Len(t, analysis.ToolErrors, 1)
	assert.Equal(t, "mythril", analysis.ToolErrors[0].Tool)
	assert.Equal(t, scanner.CodeTimeout, analysis.ToolErrors[0].Code)
	require.NotEmpty(t, analysis.Findings)
	for _, f := range analysis.Findings {
		assert.Equal(t, "pattern", f.Tool)
	}
	assert.Empty(t, rec.Warnings)
}

func TestAnalysisUnavailableDegrades(t *testing.T) {
	broken := &slowAdapter{name: "slither", kind: scanner.KindStatic, err: errors.New("boom")}
	analyzer := scanner.NewAnalyzer([]scanner.Adapter{broken}, time.Second, zerolog.Nop())
	o := newOrchestrator(t, Deps{
		Analyzer: analyzer,
		Rules:    &stubRules{result: &rules.Result{AdjustedScore: 50}},
	})

	id, err := o.SubmitScan(context.Background(), ScanRequest{Target: "t", Source: cleanContract})
	require.NoError(t, err)

	rec := waitTerminal(t, o, id)
	require.Equal(t, registry.StatusCompleted, rec.Status)
	assert.Contains(t, warningKinds(rec), registry.WarningDegradedAnalysis)
	assert.True(t, rec.Result.AnalysisDetails.Degraded)
	assert.Equal(t, scanner.DegradedScores(), rec.Result.AnalysisDetails.Scores)
	assert.Equal(t, 50, rec.Result.SecurityScore)
	assert.Empty(t, rec.Result.RulesApplied.AppliedRules)
}

func TestRulesFailureFallsBackToRawScore(t *testing.T) {
	analysis := fixedAnalysis()
	o := newOrchestrator(t, Deps{
		Analyzer: &stubAnalyzer{analysis: analysis},
		Rules:    &stubRules{err: errors.New("rules service unreachable")},
	})

	id, err := o.SubmitScan(context.Background(), ScanRequest{Target: "t", Source: cleanContract})
	require.NoError(t, err)

	rec := waitTerminal(t, o, id)
	require.Equal(t, registry.StatusCompleted, rec.Status)
	assert.Equal(t, []string{registry.WarningDegradedRules}, warningKinds(rec))
	assert.Equal(t, analysis.Scores.Raw, rec.Result.RulesApplied.AdjustedScore)
	assert.Empty(t, rec.Result.RulesApplied.AppliedRules)
	// (3*75 + 3*80 + 2*85 + 2*79 + 5) / 10
	assert.Equal(t, 79, rec.Result.SecurityScore)
}

func TestBusyRejectsBeyondCapacity(t *testing.T) {
	unblock := make(chan struct{})
	gate := scanner.NewGate(1, nil)
	o := newOrchestrator(t, Deps{Gate: gate, Analyzer: &stubAnalyzer{analysis: fixedAnalysis(), unblock: unblock}})

	first, err := o.SubmitScan(context.Background(), ScanRequest{Target: "t", Source: cleanContract})
	require.NoError(t, err)
	assert.Equal(t, 1, gate.InFlight(context.Background()))

	_, err = o.SubmitScan(context.Background(), ScanRequest{Target: "t", Source: cleanContract})
	require.ErrorIs(t, err, scanner.ErrBusy)
	var busy *scanner.BusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, 1, busy.Max)

	close(unblock)
	rec := waitTerminal(t, o, first)
	assert.Equal(t, registry.StatusCompleted, rec.Status)
	require.Eventually(t, func() bool { return gate.InFlight(context.Background()) == 0 }, time.Second, 10*time.Millisecond)

	second, err := o.SubmitScan(context.Background(), ScanRequest{Target: "t", Source: cleanContract})
	require.NoError(t, err)
	assert.Equal(t, registry.StatusCompleted, waitTerminal(t, o, second).Status)
}

func TestValidationRejectsSynchronously(t *testing.T) {
	o := newOrchestrator(t, Deps{})

	cases := []struct {
		name   string
		source string
		reason string
	}{
		{"empty", "", scanner.ReasonEmpty},
		{"oversized", strings.Repeat("a", 101*1024), scanner.ReasonTooLarge},
		{"multibyte over limit", strings.Repeat("é", 51*1024+1), scanner.ReasonTooLarge},
		{"invalid utf8", string([]byte{0xff, 0xfe}), scanner.ReasonWrongType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := o.SubmitScan(context.Background(), ScanRequest{Target: "t", Source: tc.source})
			var verr *scanner.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.reason, verr.Reason)
		})
	}

	list, err := o.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 0, o.Gate().InFlight(context.Background()))
}

func TestPanicBecomesInternalError(t *testing.T) {
	o := newOrchestrator(t, Deps{Analyzer: &stubAnalyzer{panicMsg: "analyzer exploded"}})

	id, err := o.SubmitScan(context.Background(), ScanRequest{Target: "t", Source: cleanContract})
	require.NoError(t, err)

	rec := waitTerminal(t, o, id)
	require.Equal(t, registry.StatusFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, registry.ErrorKindInternal, rec.Error.Kind)
	assert.Contains(t, rec.Error.Message, "analyzer exploded")
	require.Eventually(t, func() bool { return o.Gate().InFlight(context.Background()) == 0 }, time.Second, 10*time.Millisecond)
}

func TestStatusEventsFollowWorkflowOrder(t *testing.T) {
	pub := &recordingPublisher{}
	o := newOrchestrator(t, Deps{Events: pub})

	id, err := o.SubmitScan(context.Background(), ScanRequest{Target: "t", Source: reentrantContract})
	require.NoError(t, err)
	waitTerminal(t, o, id)

	want := []registry.Status{
		registry.StatusInitiated,
		registry.StatusScanning,
		registry.StatusApplyingRules,
		registry.StatusSubmittingAttestation,
		registry.StatusCompleted,
	}
	require.Eventually(t, func() bool { return len(pub.statuses(id)) == len(want) }, time.Second, 10*time.Millisecond)
	assert.Equal(t, want, pub.statuses(id))
}

func TestSignedReportVerifies(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	sig, err := signer.New(id.String(), "")
	require.NoError(t, err)

	o := newOrchestrator(t, Deps{Signer: sig})
	scanID, err := o.SubmitScan(context.Background(), ScanRequest{Target: "t", Source: reentrantContract})
	require.NoError(t, err)

	rec := waitTerminal(t, o, scanID)
	require.Equal(t, registry.StatusCompleted, rec.Status)
	att := rec.Result.Attestation
	signature := rec.Result.VulnerabilityReport.Signature
	require.NotNil(t, signature)
	require.NoError(t, sig.Verify(signer.Payload{
		Target:        att.TargetRef,
		CodeHash:      att.CodeHash,
		SecurityScore: att.SecurityScore,
		ReportHash:    att.ReportHash,
		ModelVersion:  att.ModelVersion,
	}, *signature))
}

func TestArchive(t *testing.T) {
	t.Run("keys recorded", func(t *testing.T) {
		arch := &fakeArchiver{keys: []string{"scans/x/report.json.zst", "scans/x/report.sarif.zst"}}
		o := newOrchestrator(t, Deps{Archiver: arch})
		id, err := o.SubmitScan(context.Background(), ScanRequest{Target: "t", Source: reentrantContract})
		require.NoError(t, err)

		rec := waitTerminal(t, o, id)
		require.Equal(t, registry.StatusCompleted, rec.Status)
		assert.Equal(t, arch.keys, rec.Result.ArchiveKeys)

		arch.mu.Lock()
		defer arch.mu.Unlock()
		assert.Equal(t, []string{id}, arch.ids)
		var sarif findings.SARIF
		require.NoError(t, json.Unmarshal(arch.sarif, &sarif))
		assert.Equal(t, "2.1.0", sarif.Version)
	})

	t.Run("failure is a warning", func(t *testing.T) {
		o := newOrchestrator(t, Deps{Archiver: &fakeArchiver{err: errors.New("bucket missing")}})
		id, err := o.SubmitScan(context.Background(), ScanRequest{Target: "t", Source: cleanContract})
		require.NoError(t, err)

		rec := waitTerminal(t, o, id)
		require.Equal(t, registry.StatusCompleted, rec.Status)
		assert.Equal(t, []string{registry.WarningArchiveFailed}, warningKinds(rec))
		assert.Empty(t, rec.Result.ArchiveKeys)
	})
}

func TestCloseWaitsForInFlightScans(t *testing.T) {
	unblock := make(chan struct{})
	o := newOrchestrator(t, Deps{Analyzer: &stubAnalyzer{analysis: fixedAnalysis(), unblock: unblock}})

	id, err := o.SubmitScan(context.Background(), ScanRequest{Target: "t", Source: cleanContract})
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- o.Close(context.Background()) }()

	select {
	case <-closed:
		t.Fatal("Close returned while a scan was running")
	case <-time.After(50 * time.Millisecond):
	}

	require.Eventually(t, func() bool {
		_, err := o.SubmitScan(context.Background(), ScanRequest{Target: "t", Source: cleanContract})
		return errors.Is(err, ErrClosed)
	}, time.Second, 10*time.Millisecond)

	close(unblock)
	require.NoError(t, <-closed)
	rec, err := o.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusCompleted, rec.Status)
}

type fakeSubscriber struct {
	subjects []string
	handler  func(context.Context, []byte) error
}

func (f *fakeSubscriber) Subscribe(_ context.Context, subj, _ string, fn func(context.Context, []byte) error) (io.Closer, error) {
	f.subjects = append(f.subjects, subj)
	f.handler = fn
	return io.NopCloser(nil), nil
}

func TestBusIntake(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)
	o := newOrchestrator(t, Deps{
		Gate:     scanner.NewGate(1, nil),
		Analyzer: &stubAnalyzer{analysis: fixedAnalysis(), unblock: unblock},
	})

	sub := &fakeSubscriber{}
	require.NoError(t, o.Start(context.Background(), sub))
	require.Equal(t, []string{SubjectScanRequested}, sub.subjects)

	err := sub.handler(context.Background(), []byte("{not json"))
	require.ErrorIs(t, err, bus.ErrDrop)

	invalid, _ := json.Marshal(ScanRequestedEvent{Target: "t", Source: ""})
	require.ErrorIs(t, sub.handler(context.Background(), invalid), bus.ErrDrop)

	valid, _ := json.Marshal(ScanRequestedEvent{Target: "t", Source: cleanContract})
	require.NoError(t, sub.handler(context.Background(), valid))

	err = sub.handler(context.Background(), valid)
	var retry *bus.RetryAfter
	require.ErrorAs(t, err, &retry)
	assert.Equal(t, busyRedelivery, retry.Delay)
	assert.ErrorIs(t, err, scanner.ErrBusy)
}
