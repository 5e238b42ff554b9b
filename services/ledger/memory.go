package ledger

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryLedger keeps attestations in process. It backs development servers
// and tests.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string][]AttestedRecord
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string][]AttestedRecord), now: time.Now}
}

func (m *MemoryLedger) SubmitScan(ctx context.Context, req SubmitRequest) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	at := m.now().UTC()
	rec := AttestedRecord{
		Target:          req.Target,
		CodeHash:        req.CodeHash,
		SecurityScore:   req.SecurityScore,
		ReportHash:      ReportHash(req.Report),
		ModelVersion:    req.ModelVersion,
		TransactionHash: localTxHash(req, at),
		Signature:       req.Signature,
		AttestedAt:      at,
	}

	m.mu.Lock()
	m.records[key(req.Target)] = append(m.records[key(req.Target)], rec)
	m.mu.Unlock()
	return &Receipt{TransactionHash: rec.TransactionHash}, nil
}

func (m *MemoryLedger) QueryScan(_ context.Context, target string) (*AttestedRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.records[key(target)]
	if len(list) == 0 {
		return nil, nil
	}
	rec := list[len(list)-1]
	return &rec, nil
}

func (m *MemoryLedger) VerifyContract(ctx context.Context, target string) (bool, error) {
	rec, err := m.QueryScan(ctx, target)
	if err != nil || rec == nil {
		return false, err
	}
	return rec.SecurityScore >= VerifiedThreshold, nil
}

// History returns every attestation for target, oldest first.
func (m *MemoryLedger) History(target string) []AttestedRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AttestedRecord(nil), m.records[key(target)]...)
}

func key(target string) string {
	return strings.ToLower(strings.TrimSpace(target))
}
