package registry

import (
	"time"

	"codeshield/services/findings"
	"codeshield/services/rules"
	"codeshield/services/scanner"
	"codeshield/services/signer"
)

// Status is a scan's position in the workflow.
type Status string

const (
	StatusInitiated             Status = "initiated"
	StatusScanning              Status = "scanning"
	StatusApplyingRules         Status = "applying_rules"
	StatusSubmittingAttestation Status = "submitting_attestation"
	StatusCompleted             Status = "completed"
	StatusFailed                Status = "failed"
)

var statusRank = map[Status]int{
	StatusInitiated:             0,
	StatusScanning:              1,
	StatusApplyingRules:         2,
	StatusSubmittingAttestation: 3,
	StatusCompleted:             4,
	StatusFailed:                4,
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether from may move to to. Statuses only move
// forward and a terminal status is final.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	return statusRank[to] > statusRank[from]
}

// Error kinds recorded on failed scans.
const (
	ErrorKindAttestation = "attestation_error"
	ErrorKindInternal    = "internal_error"
)

// Warning kinds for non-fatal degradations.
const (
	WarningDegradedAnalysis = "degraded_analysis"
	WarningDegradedRules    = "degraded_rules"
	WarningArchiveFailed    = "archive_failed"
)

// ScanError is the cause of a failed scan.
type ScanError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Warning records a degradation that did not fail the scan.
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Report is the human-readable vulnerability report.
type Report struct {
	Summary         findings.Summary   `json:"summary"`
	TopFindings     []findings.Finding `json:"topFindings"`
	AppliedRules    []string           `json:"appliedRules"`
	Recommendations []string           `json:"recommendations"`
	Text            string             `json:"text"`
	Signature       *signer.Signature  `json:"signature,omitempty"`
}

// Attestation is the ledger commitment for a completed scan.
type Attestation struct {
	TargetRef       string `json:"targetRef"`
	CodeHash        string `json:"codeHash"`
	SecurityScore   int    `json:"securityScore"`
	ReportHash      string `json:"reportHash"`
	ModelVersion    string `json:"modelVersion"`
	TransactionHash string `json:"transactionHash"`
}

// Result is set only on completed scans.
type Result struct {
	SecurityScore       int               `json:"securityScore"`
	VulnerabilityReport Report            `json:"vulnerabilityReport"`
	AnalysisDetails     *scanner.Analysis `json:"analysisDetails"`
	RulesApplied        *rules.Result     `json:"rulesApplied"`
	Attestation         *Attestation      `json:"attestation"`
	ArchiveKeys         []string          `json:"archiveKeys,omitempty"`
}

// Record is the queryable state of one scan.
type Record struct {
	ID        string     `json:"id"`
	Target    string     `json:"target"`
	CodeHash  string     `json:"codeHash"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Result    *Result    `json:"result,omitempty"`
	Error     *ScanError `json:"error,omitempty"`
	Warnings  []Warning  `json:"warnings"`
}

func (r Record) clone() Record {
	out := r
	out.Warnings = append([]Warning{}, r.Warnings...)
	if r.Error != nil {
		e := *r.Error
		out.Error = &e
	}
	return out
}
