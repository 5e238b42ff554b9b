package registry

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeshield/pkg/db"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusInitiated, StatusScanning, true},
		{StatusScanning, StatusApplyingRules, true},
		{StatusApplyingRules, StatusSubmittingAttestation, true},
		{StatusSubmittingAttestation, StatusCompleted, true},
		{StatusInitiated, StatusFailed, true},
		{StatusScanning, StatusFailed, true},
		{StatusScanning, StatusScanning, false},
		{StatusApplyingRules, StatusScanning, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusInitiated, Status("paused"), false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func TestRegistryLifecycle(t *testing.T) {
	ctx := context.Background()
	r := New(nil)

	rec, err := r.Create(ctx, "0xabc", "0x01")
	require.NoError(t, err)
	assert.Equal(t, StatusInitiated, rec.Status)
	assert.NotEmpty(t, rec.ID)

	_, err = r.Transition(ctx, rec.ID, StatusScanning, nil)
	require.NoError(t, err)
	require.NoError(t, r.AddWarning(ctx, rec.ID, Warning{Kind: WarningDegradedRules, Message: "down"}))

	_, err = r.Transition(ctx, rec.ID, StatusInitiated, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	done, err := r.Transition(ctx, rec.ID, StatusCompleted, func(rec *Record) {
		rec.Result = &Result{SecurityScore: 79}
	})
	require.NoError(t, err)
	assert.Equal(t, 79, done.Result.SecurityScore)
	assert.Len(t, done.Warnings, 1)

	_, err = r.Transition(ctx, rec.ID, StatusFailed, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	got, err := r.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestRegistryMissing(t *testing.T) {
	ctx := context.Background()
	r := New(nil)

	got, err := r.Get(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = r.Transition(ctx, "does-not-exist", StatusScanning, nil)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, r.AddWarning(ctx, "does-not-exist", Warning{}), ErrNotFound)
}

func TestListIsSnapshot(t *testing.T) {
	ctx := context.Background()
	r := New(nil)
	a, err := r.Create(ctx, "a", "")
	require.NoError(t, err)
	_, err = r.Create(ctx, "b", "")
	require.NoError(t, err)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Target)

	list[0].Status = StatusCompleted
	list[0].Warnings = append(list[0].Warnings, Warning{Kind: "x"})

	got, err := r.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInitiated, got.Status)
	assert.Empty(t, got.Warnings)
}

func TestConcurrentTransitionsStayMonotonic(t *testing.T) {
	ctx := context.Background()
	r := New(nil)
	rec, err := r.Create(ctx, "race", "")
	require.NoError(t, err)

	order := []Status{StatusScanning, StatusApplyingRules, StatusSubmittingAttestation, StatusCompleted}
	var wg sync.WaitGroup
	var mu sync.Mutex
	var applied []Status
	for i := 0; i < 4; i++ {
		for _, st := range order {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := r.Transition(ctx, rec.ID, st, nil); err == nil {
					mu.Lock()
					applied = append(applied, st)
					mu.Unlock()
				} else if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
	}
	wg.Wait()

	for i := 1; i < len(applied); i++ {
		assert.Greater(t, statusRank[applied[i]], statusRank[applied[i-1]])
	}
	got, err := r.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("CODESHIELD_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CODESHIELD_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool))

	store, err := NewPostgresStore(pool)
	require.NoError(t, err)
	r := New(store)

	rec, err := r.Create(ctx, "0xpg", "0x01")
	require.NoError(t, err)
	_, err = r.Transition(ctx, rec.ID, StatusFailed, func(rec *Record) {
		rec.Error = &ScanError{Kind: ErrorKindAttestation, Message: "ledger down"}
	})
	require.NoError(t, err)

	got, err := r.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "ledger down", got.Error.Message)
	assert.Nil(t, got.Result)

	missing, err := r.Get(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
