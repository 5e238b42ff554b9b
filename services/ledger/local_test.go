package ledger

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestLocalLedger(t *testing.T) {
	dsn := os.Getenv("CODESHIELD_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CODESHIELD_TEST_DATABASE_URL not set")
	}
	orm, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, orm.AutoMigrate(&attestationRow{}))

	l, err := NewLocalLedger(orm)
	require.NoError(t, err)
	ctx := context.Background()

	req := sampleRequest(88)
	req.Target = "0x" + uuid.NewString()
	receipt, err := l.SubmitScan(ctx, req)
	require.NoError(t, err)

	rec, err := l.QueryScan(ctx, req.Target)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, receipt.TransactionHash, rec.TransactionHash)
	assert.Equal(t, 88, rec.SecurityScore)

	verified, err := l.VerifyContract(ctx, req.Target)
	require.NoError(t, err)
	assert.True(t, verified)

	missing, err := l.QueryScan(ctx, "0x"+uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
