package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gymledger/internal/model"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredit_GrantThenConsumeToZero(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const owner = int64(11)

	_, err := env.credits.Grant(ctx, owner, 25, model.CreditKindPurchase, "25 session pack")
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		res, err := env.credits.ConsumeOne(ctx, owner, "session")
		require.NoError(t, err, "consume %d", i+1)
		assert.Equal(t, int64(24-i), res.Available)
	}

	_, err = env.credits.ConsumeOne(ctx, owner, "session")
	assert.True(t, errors.Is(err, ErrInsufficientBalance))

	balance, err := env.credits.GetBalance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Available)
	assert.Equal(t, int64(25), balance.TotalGranted)
	assert.Equal(t, int64(25), balance.TotalConsumed)
}

func TestCredit_FreshOwnerHasZeroBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	balance, err := env.credits.GetBalance(ctx, 404)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Available)

	_, err = env.credits.ConsumeOne(ctx, 404, "session")
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.Equal(t, int64(0), env.count(t, "credit_ledger_entry"))

	var refused bool
	for _, entry := range env.logs.AllEntries() {
		if entry.Message == "consumption refused: insufficient balance" {
			refused = true
			assert.Equal(t, logrus.InfoLevel, entry.Level)
		}
	}
	assert.True(t, refused)
}

func TestCredit_GrantValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.credits.Grant(ctx, 1, 0, model.CreditKindPurchase, "")
	assert.True(t, IsValidation(err))
	_, err = env.credits.Grant(ctx, 1, -5, model.CreditKindReferral, "")
	assert.True(t, IsValidation(err))
	_, err = env.credits.Grant(ctx, 1, 5, model.CreditKindConsume, "")
	assert.True(t, IsValidation(err))

	assert.Equal(t, int64(0), env.count(t, "credit_ledger_entry"))
}

func TestCredit_ConcurrentConsumeNeverDoubleSpends(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const owner = int64(21)

	_, err := env.credits.Grant(ctx, owner, 1, model.CreditKindAdminGrant, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.credits.ConsumeOne(ctx, owner, "session")
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)

	report, err := env.credits.Report(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.Balance.Available)
}

func TestCredit_ConsumeWithDateKeepsEffectiveDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const owner = int64(31)

	_, err := env.credits.Grant(ctx, owner, 2, model.CreditKindPurchase, "")
	require.NoError(t, err)

	attended := time.Date(2024, time.March, 1, 18, 0, 0, 0, time.UTC)
	res, err := env.credits.ConsumeWithDate(ctx, owner, "backdated session", attended)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Available)

	report, err := env.credits.Report(ctx, owner)
	require.NoError(t, err)
	require.Len(t, report.Entries, 2)

	latest := report.Entries[0]
	assert.Equal(t, int64(-1), latest.Delta)
	require.NotNil(t, latest.EffectiveAt)
	assert.True(t, attended.Equal(*latest.EffectiveAt))
	assert.Nil(t, report.Entries[1].EffectiveAt)
}

func TestCredit_DeductRefusesToGoNegative(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const owner = int64(41)

	_, err := env.credits.Grant(ctx, owner, 5, model.CreditKindPurchase, "")
	require.NoError(t, err)

	_, err = env.credits.Deduct(ctx, owner, 6, "correction")
	assert.True(t, errors.Is(err, ErrInsufficientBalance))

	res, err := env.credits.Deduct(ctx, owner, 3, "correction")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Available)
	assert.Equal(t, model.CreditKindAdminDeduction, res.Entry.Kind)

	_, err = env.credits.Deduct(ctx, owner, 0, "noop")
	assert.True(t, IsValidation(err))
}

func TestCredit_CacheRowAgreesWithLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const owner = int64(51)

	_, err := env.credits.Grant(ctx, owner, 10, model.CreditKindPurchase, "")
	require.NoError(t, err)
	_, err = env.credits.Grant(ctx, owner, 3, model.CreditKindReferral, "")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err = env.credits.ConsumeOne(ctx, owner, "session")
		require.NoError(t, err)
	}

	var account model.CreditAccount
	require.NoError(t, env.db.Where("owner_id = ?", owner).First(&account).Error)

	report, err := env.credits.Report(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, report.Balance.Available, account.Available)
	assert.Equal(t, report.Balance.TotalGranted, account.TotalGranted)
	assert.Equal(t, report.Balance.TotalConsumed, account.TotalConsumed)
	assert.Equal(t, int64(9), account.Available)
}

func TestCredit_RebuildRepairsDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const owner = int64(61)

	_, err := env.credits.Grant(ctx, owner, 4, model.CreditKindPurchase, "")
	require.NoError(t, err)

	require.NoError(t, env.db.Model(&model.CreditAccount{}).
		Where("owner_id = ?", owner).
		Update("available", 40).Error)

	// A drifted cache row must not let the owner overspend.
	for i := 0; i < 4; i++ {
		_, err = env.credits.ConsumeOne(ctx, owner, "session")
		require.NoError(t, err)
	}
	_, err = env.credits.ConsumeOne(ctx, owner, "session")
	assert.True(t, errors.Is(err, ErrInsufficientBalance))

	require.NoError(t, env.db.Model(&model.CreditAccount{}).
		Where("owner_id = ?", owner).
		Update("total_granted", 99).Error)

	drift, err := env.credits.Rebuild(ctx, owner)
	require.NoError(t, err)
	assert.True(t, drift.Repaired)
	assert.Equal(t, int64(0), drift.LedgerAvailable)

	var account model.CreditAccount
	require.NoError(t, env.db.Where("owner_id = ?", owner).First(&account).Error)
	assert.Equal(t, int64(4), account.TotalGranted)
	assert.Equal(t, int64(4), account.TotalConsumed)
	assert.Equal(t, int64(0), account.Available)

	again, err := env.credits.Rebuild(ctx, owner)
	require.NoError(t, err)
	assert.False(t, again.Repaired)
}

func TestCredit_ReportOrdersMostRecentFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const owner = int64(71)

	first, err := env.credits.Grant(ctx, owner, 2, model.CreditKindPurchase, "first")
	require.NoError(t, err)
	second, err := env.credits.Grant(ctx, owner, 1, model.CreditKindAdminGrant, "second")
	require.NoError(t, err)

	report, err := env.credits.Report(ctx, owner)
	require.NoError(t, err)
	require.Len(t, report.Entries, 2)
	assert.Equal(t, second.ID, report.Entries[0].ID)
	assert.Equal(t, first.ID, report.Entries[1].ID)
	assert.Equal(t, int64(3), report.Balance.Available)
}
