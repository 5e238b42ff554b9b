// Package orchestrator drives a scan through analysis, rules, scoring and
// attestation on a bounded worker pool and records every transition in the
// scan registry.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"codeshield/pkg/render"
	"codeshield/pkg/telemetry"
	"codeshield/services/ledger"
	"codeshield/services/registry"
	"codeshield/services/rules"
	"codeshield/services/scanner"
	"codeshield/services/signer"
)

const (
	// DefaultTopFindings is the number of findings carried in a report.
	DefaultTopFindings = 10
	// DefaultModelVersion identifies the analyzer set in attestations.
	DefaultModelVersion = "codeshield-v0.1.0"
	// DefaultRulesTimeout bounds the rules stage when the engine has no timeout of its own.
	DefaultRulesTimeout = 10 * time.Second
)

// ErrClosed is returned by SubmitScan after Close.
var ErrClosed = errors.New("orchestrator: closed")

// Analyzer produces a merged analysis. *scanner.Analyzer satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, source string) (*scanner.Analysis, error)
}

// Archiver stores the finished report and its SARIF rendering and returns
// the object keys it wrote.
type Archiver interface {
	Archive(ctx context.Context, scanID string, report, sarif []byte) ([]string, error)
}

// ScanRequest is one submission.
type ScanRequest struct {
	Target   string `json:"target"`
	CodeHash string `json:"codeHash,omitempty"`
	Source   string `json:"source"`
}

// Deps are the collaborators of an Orchestrator. Registry, Gate and Renderer
// have defaults; Signer, Archiver and Events are optional.
type Deps struct {
	Registry *registry.Registry
	Gate     *scanner.Gate
	Analyzer Analyzer
	Rules    rules.Engine
	Ledger   ledger.Client
	Signer   *signer.Signer
	Archiver Archiver
	Events   Publisher
	Renderer *render.Engine
	Logger   zerolog.Logger
}

// Options are the tunables read from configuration.
type Options struct {
	MaxSourceBytes int
	TopFindings    int
	ModelVersion   string
	RulesTimeout   time.Duration
	LedgerTimeout  time.Duration
}

// Orchestrator admits scans through the gate and runs them on a worker pool
// sized to the gate capacity.
type Orchestrator struct {
	registry *registry.Registry
	gate     *scanner.Gate
	analyzer Analyzer
	rules    rules.Engine
	ledger   ledger.Client
	signer   *signer.Signer
	archiver Archiver
	events   Publisher
	renderer *render.Engine
	logger   zerolog.Logger
	opts     Options

	// mu guards closed and sends on queue.
	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup

	subsMu sync.Mutex
	subs   []io.Closer
}

type job struct {
	id      string
	target  string
	hash    string
	source  string
	release func()
}

// New validates deps, applies defaults and starts the worker pool.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if deps.Rules == nil {
		return nil, errors.New("rules engine is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("ledger client is required")
	}
	if deps.Registry == nil {
		deps.Registry = registry.New(nil)
	}
	if deps.Gate == nil {
		deps.Gate = scanner.NewGate(scanner.DefaultMaxConcurrency, nil)
	}
	if deps.Renderer == nil {
		engine, err := render.New()
		if err != nil {
			return nil, fmt.Errorf("init renderer: %w", err)
		}
		deps.Renderer = engine
	}
	if opts.MaxSourceBytes <= 0 {
		opts.MaxSourceBytes = scanner.DefaultMaxSourceBytes
	}
	if opts.TopFindings <= 0 {
		opts.TopFindings = DefaultTopFindings
	}
	if strings.TrimSpace(opts.ModelVersion) == "" {
		opts.ModelVersion = DefaultModelVersion
	}
	if opts.RulesTimeout <= 0 {
		opts.RulesTimeout = DefaultRulesTimeout
	}
	if opts.LedgerTimeout <= 0 {
		opts.LedgerTimeout = ledger.DefaultTimeout
	}

	workers := deps.Gate.Max()
	o := &Orchestrator{
		registry: deps.Registry,
		gate:     deps.Gate,
		analyzer: deps.Analyzer,
		rules:    deps.Rules,
		ledger:   deps.Ledger,
		signer:   deps.Signer,
		archiver: deps.Archiver,
		events:   deps.Events,
		renderer: deps.Renderer,
		logger:   deps.Logger,
		opts:     opts,
		queue:    make(chan job, workers),
	}
	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o, nil
}

// SubmitScan validates and admits a scan and returns its id without waiting
// for the pipeline. Only *scanner.ValidationError, scanner.ErrBusy and
// ErrClosed are returned synchronously; everything else lands on the record.
func (o *Orchestrator) SubmitScan(ctx context.Context, req ScanRequest) (string, error) {
	if err := scanner.ValidateSource(req.Source, o.opts.MaxSourceBytes); err != nil {
		telemetry.ScanRejected("validation")
		return "", err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return "", ErrClosed
	}

	release, err := o.gate.Acquire(ctx)
	if err != nil {
		return "", err
	}

	hash := strings.TrimSpace(req.CodeHash)
	if hash == "" {
		hash = ledger.CodeHash(req.Source)
	}
	target := strings.TrimSpace(req.Target)
	if target == "" {
		target = hash
	}

	rec, err := o.registry.Create(ctx, target, hash)
	if err != nil {
		release()
		return "", err
	}
	o.publish(ctx, *rec)

	j := job{id: rec.ID, target: target, hash: hash, source: req.Source, release: release}
	select {
	case o.queue <- j:
	default:
		// The gate bounds queued plus running scans by the pool size, so a
		// full queue means the counter is shared with another process that
		// admitted more than this pool can hold.
		o.fail(context.Background(), j, registry.ErrorKindInternal, "worker queue full")
		release()
	}
	return rec.ID, nil
}

// Get returns the scan record for id, or nil when it does not exist.
func (o *Orchestrator) Get(ctx context.Context, id string) (*registry.Record, error) {
	return o.registry.Get(ctx, id)
}

// List returns a snapshot of every scan record.
func (o *Orchestrator) List(ctx context.Context) ([]registry.Record, error) {
	return o.registry.List(ctx)
}

// Gate exposes the admission gate for health reporting.
func (o *Orchestrator) Gate() *scanner.Gate { return o.gate }

// Close stops intake, rejects new submissions and waits for admitted scans to
// reach a terminal state or for ctx to end.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.closeSubscriptions()

	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for j := range o.queue {
		o.run(j)
	}
}
