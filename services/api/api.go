// Package api exposes scan submission, scan status, reports and ledger
// lookups over HTTP.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"codeshield/services/ledger"
	"codeshield/services/orchestrator"
	"codeshield/services/registry"
	"codeshield/services/scanner"
)

const (
	defaultRateLimit = 60
	// retryAfterSeconds is advertised on 429 responses.
	retryAfterSeconds = 5
	// bodyOverhead leaves room for the JSON envelope around the source.
	bodyOverhead = 16 * 1024
	// jsonEscapeFactor is the worst-case growth of a string encoded as JSON:
	// control characters and <, >, & become six-byte \u escapes.
	jsonEscapeFactor = 6

	defaultRequestTimeout = 5 * time.Second
)

// Scans is the scan workflow used by the handlers. *orchestrator.Orchestrator
// satisfies it.
type Scans interface {
	SubmitScan(ctx context.Context, req orchestrator.ScanRequest) (string, error)
	Get(ctx context.Context, id string) (*registry.Record, error)
	List(ctx context.Context) ([]registry.Record, error)
	Gate() *scanner.Gate
}

// Reports resolves archived reports to download URLs. *archive.Archive
// satisfies it.
type Reports interface {
	URL(ctx context.Context, scanID, format string) (string, error)
	TTL() time.Duration
}

// Check reports whether a backing dependency is ready.
type Check func(ctx context.Context) error

// Config controls runtime behaviour for the API handlers.
type Config struct {
	AllowedOrigins []string
	// RateLimit is requests per minute per client IP.
	RateLimit      int
	MaxSourceBytes int
	ModelVersion   string
	// RequestTimeout bounds ledger lookups and readiness checks.
	RequestTimeout time.Duration
	Checks         map[string]Check
}

// maxBodyBytes is the largest request body that can carry a source of
// MaxSourceBytes once JSON-escaped.
func (c Config) maxBodyBytes() int64 {
	return int64(c.MaxSourceBytes)*jsonEscapeFactor + bodyOverhead
}

// API wires dependencies and configuration for HTTP handlers.
type API struct {
	scans   Scans
	ledger  ledger.Client
	reports Reports
	config  Config
	logger  zerolog.Logger
}

// New initialises the API layer. reports may be nil when no archive is
// configured; reports are then served inline.
func New(scans Scans, ledgerClient ledger.Client, reports Reports, cfg Config, logger zerolog.Logger) (*API, error) {
	if scans == nil {
		return nil, errors.New("scan service is required")
	}
	if ledgerClient == nil {
		return nil, errors.New("ledger client is required")
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = scanner.DefaultMaxSourceBytes
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ModelVersion == "" {
		cfg.ModelVersion = orchestrator.DefaultModelVersion
	}
	return &API{
		scans:   scans,
		ledger:  ledgerClient,
		reports: reports,
		config:  cfg,
		logger:  logger,
	}, nil
}
