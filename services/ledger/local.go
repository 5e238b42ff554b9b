package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// attestationRow maps the ledger_attestations table created by the
// 0001_init migration.
type attestationRow struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Target          string         `gorm:"type:text;not null;index"`
	CodeHash        string         `gorm:"type:text;not null"`
	SecurityScore   int            `gorm:"not null"`
	ReportHash      string         `gorm:"type:text;not null"`
	Report          datatypes.JSON `gorm:"type:jsonb"`
	ModelVersion    string         `gorm:"type:text;not null"`
	TransactionHash string         `gorm:"type:text;uniqueIndex;not null"`
	Signature       string         `gorm:"type:text"`
	CreatedAt       time.Time      `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (attestationRow) TableName() string { return "ledger_attestations" }

// LocalLedger is an append-only attestation table in Postgres, used when no
// chain is configured.
type LocalLedger struct {
	orm *gorm.DB
}

func NewLocalLedger(orm *gorm.DB) (*LocalLedger, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &LocalLedger{orm: orm}, nil
}

func (l *LocalLedger) SubmitScan(ctx context.Context, req SubmitRequest) (*Receipt, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	report := req.Report
	if len(report) == 0 {
		report = []byte("{}")
	}

	at := time.Now().UTC()
	row := attestationRow{
		ID:              uuid.New(),
		Target:          key(req.Target),
		CodeHash:        req.CodeHash,
		SecurityScore:   req.SecurityScore,
		ReportHash:      ReportHash(req.Report),
		Report:          datatypes.JSON(report),
		ModelVersion:    req.ModelVersion,
		TransactionHash: localTxHash(req, at),
		Signature:       req.Signature,
		CreatedAt:       at,
	}
	if err := l.orm.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("insert attestation: %w", err)
	}
	return &Receipt{TransactionHash: row.TransactionHash}, nil
}

func (l *LocalLedger) QueryScan(ctx context.Context, target string) (*AttestedRecord, error) {
	var row attestationRow
	err := l.orm.WithContext(ctx).
		Where("target = ?", key(target)).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query attestation: %w", err)
	}
	return &AttestedRecord{
		Target:          row.Target,
		CodeHash:        row.CodeHash,
		SecurityScore:   row.SecurityScore,
		ReportHash:      row.ReportHash,
		ModelVersion:    row.ModelVersion,
		TransactionHash: row.TransactionHash,
		Signature:       row.Signature,
		AttestedAt:      row.CreatedAt,
	}, nil
}

func (l *LocalLedger) VerifyContract(ctx context.Context, target string) (bool, error) {
	rec, err := l.QueryScan(ctx, target)
	if err != nil || rec == nil {
		return false, err
	}
	return rec.SecurityScore >= VerifiedThreshold, nil
}
