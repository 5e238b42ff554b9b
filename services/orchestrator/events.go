package orchestrator

import (
	"context"
	"io"
	"time"

	"codeshield/services/registry"
)

const (
	// StreamName is the JetStream stream carrying scan subjects.
	StreamName = "CODESHIELD"
	// SubjectScanRequested carries scan submissions from other services.
	SubjectScanRequested = "codeshield.scans.requested"
	// SubjectScanStatus carries every status transition.
	SubjectScanStatus = "codeshield.scans.status"

	intakeDurable = "orchestrator-scan-requests"
)

// Publisher emits lifecycle events. *bus.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Subscriber consumes bus subjects. *bus.Bus satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}

// StatusEvent is published on SubjectScanStatus.
type StatusEvent struct {
	ScanID        string          `json:"scanId"`
	Target        string          `json:"target"`
	Status        registry.Status `json:"status"`
	SecurityScore *int            `json:"securityScore,omitempty"`
	Error         string          `json:"error,omitempty"`
	At            time.Time       `json:"at"`
}

// ScanRequestedEvent is consumed from SubjectScanRequested.
type ScanRequestedEvent struct {
	Target   string `json:"target"`
	CodeHash string `json:"codeHash"`
	Source   string `json:"source"`
}
