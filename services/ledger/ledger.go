// Package ledger commits scan attestations to an append-only store and reads
// them back.
package ledger

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultTimeout bounds a single ledger call.
const DefaultTimeout = 60 * time.Second

// VerifiedThreshold is the minimum attested score for VerifyContract.
const VerifiedThreshold = 70

// ErrInvalidRequest is returned for submissions missing required fields.
var ErrInvalidRequest = errors.New("ledger: invalid attestation request")

// SubmitRequest is one attestation.
type SubmitRequest struct {
	Target        string `json:"target"`
	CodeHash      string `json:"codeHash"`
	SecurityScore int    `json:"securityScore"`
	// Report is the JSON encoded vulnerability report.
	Report       []byte `json:"vulnerabilityReport"`
	ModelVersion string `json:"modelVersion"`
	Signature    string `json:"signature,omitempty"`
}

func (r SubmitRequest) validate() error {
	switch {
	case strings.TrimSpace(r.Target) == "":
		return errors.Join(ErrInvalidRequest, errors.New("target is required"))
	case strings.TrimSpace(r.CodeHash) == "":
		return errors.Join(ErrInvalidRequest, errors.New("code hash is required"))
	case r.SecurityScore < 0 || r.SecurityScore > 100:
		return errors.Join(ErrInvalidRequest, errors.New("security score out of range"))
	case strings.TrimSpace(r.ModelVersion) == "":
		return errors.Join(ErrInvalidRequest, errors.New("model version is required"))
	}
	return nil
}

// Receipt acknowledges a committed attestation.
type Receipt struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     uint64 `json:"blockNumber,omitempty"`
}

// AttestedRecord is the latest attestation stored for a target.
type AttestedRecord struct {
	Target          string    `json:"target"`
	CodeHash        string    `json:"codeHash"`
	SecurityScore   int       `json:"securityScore"`
	ReportHash      string    `json:"reportHash"`
	ModelVersion    string    `json:"modelVersion"`
	TransactionHash string    `json:"transactionHash,omitempty"`
	Signature       string    `json:"signature,omitempty"`
	AttestedAt      time.Time `json:"attestedAt"`
}

// Client is the ledger contract used by the orchestrator.
type Client interface {
	SubmitScan(ctx context.Context, req SubmitRequest) (*Receipt, error)
	// QueryScan returns nil, nil when target has never been attested.
	QueryScan(ctx context.Context, target string) (*AttestedRecord, error)
	VerifyContract(ctx context.Context, target string) (bool, error)
}

// CodeHash is the keccak256 hex digest of source.
func CodeHash(source string) string {
	return crypto.Keccak256Hash([]byte(source)).Hex()
}

// ReportHash is the keccak256 hex digest of an encoded report.
func ReportHash(report []byte) string {
	return crypto.Keccak256Hash(report).Hex()
}

// hashArg accepts a 0x-prefixed 32-byte hex digest as is and hashes anything else.
func hashArg(s string) common.Hash {
	s = strings.TrimSpace(s)
	if len(s) == 66 && strings.HasPrefix(s, "0x") {
		if b, err := hexutil.Decode(s); err == nil && len(b) == 32 {
			return common.BytesToHash(b)
		}
	}
	return crypto.Keccak256Hash([]byte(s))
}

func localTxHash(req SubmitRequest, at time.Time) string {
	return crypto.Keccak256Hash(
		[]byte(req.Target),
		[]byte(req.CodeHash),
		[]byte(strconv.Itoa(req.SecurityScore)),
		req.Report,
		[]byte(req.ModelVersion),
		[]byte(strconv.FormatInt(at.UnixNano(), 10)),
	).Hex()
}

type timeoutClient struct {
	next    Client
	timeout time.Duration
}

// WithTimeout bounds every call on next by d.
func WithTimeout(next Client, d time.Duration) Client {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &timeoutClient{next: next, timeout: d}
}

func (c *timeoutClient) SubmitScan(ctx context.Context, req SubmitRequest) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.SubmitScan(ctx, req)
}

func (c *timeoutClient) QueryScan(ctx context.Context, target string) (*AttestedRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.QueryScan(ctx, target)
}

func (c *timeoutClient) VerifyContract(ctx context.Context, target string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.VerifyContract(ctx, target)
}
