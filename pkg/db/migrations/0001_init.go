package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Scan struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Target    string         `gorm:"type:text;not null;index"`
	CodeHash  string         `gorm:"type:text;not null;default:''"`
	Status    string         `gorm:"type:text;not null;index"`
	Result    datatypes.JSON `gorm:"type:jsonb"`
	Error     datatypes.JSON `gorm:"type:jsonb"`
	Warnings  datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"`
	CreatedAt time.Time      `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time      `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type LedgerAttestation struct {
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

func openTx(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}
	return gormDB.WithContext(ctx).AutoMigrate(&Scan{}, &LedgerAttestation{})
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}
	return gormDB.WithContext(ctx).Migrator().DropTable(&LedgerAttestation{}, &Scan{})
}
