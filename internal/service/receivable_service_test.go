package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"gymledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createReceivable(t *testing.T, env *testEnv, bill, discount int64) *model.Receivable {
	t.Helper()
	r, err := env.receivables.CreateReceivable(context.Background(), CreateReceivableRequest{
		OwnerID:        7,
		Category:       model.CategorySubscription,
		SourceRef:      "sub-1",
		BillAmount:     bill,
		DiscountAmount: discount,
	})
	require.NoError(t, err)
	return r
}

func TestReceivable_SplitPaymentSettlesInOneBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := createReceivable(t, env, 2500, 0)

	entries, err := env.receivables.RecordSettlement(ctx, r.ID, []SettlementLine{
		{Method: model.MethodUPI, Amount: 1000},
		{Method: model.MethodCash, Amount: 1500},
	}, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	recomputed, err := env.receivables.Recompute(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReceivableStatusPaid, recomputed.Status)

	breakdown, err := env.receivables.Breakdown(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), breakdown.ReceivedTotal)
	assert.Equal(t, int64(0), breakdown.Balance)
	assert.Equal(t, map[string]int64{model.MethodUPI: 1000, model.MethodCash: 1500}, breakdown.PerMethod)
	assert.Len(t, breakdown.Entries, 2)
}

func TestReceivable_InvalidLineRejectsWholeBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := createReceivable(t, env, 2500, 0)

	for _, lines := range [][]SettlementLine{
		{{Method: model.MethodUPI, Amount: 1000}, {Method: model.MethodCash, Amount: 0}},
		{{Method: model.MethodCard, Amount: 500}, {Method: model.MethodCash, Amount: -20}},
		{{Method: "cheque", Amount: 500}},
		{},
	} {
		_, err := env.receivables.RecordSettlement(ctx, r.ID, lines, nil)
		require.Error(t, err)
		assert.True(t, IsValidation(err), "got %v", err)
	}

	assert.Equal(t, int64(0), env.count(t, "settlement_entry"))
	got, err := env.receivables.GetReceivable(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReceivableStatusPending, got.Status)
}

func TestReceivable_CreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []CreateReceivableRequest{
		{OwnerID: 1, Category: model.CategoryOrder, BillAmount: 0},
		{OwnerID: 1, Category: model.CategoryOrder, BillAmount: 100, DiscountAmount: 101},
		{OwnerID: 1, Category: model.CategoryOrder, BillAmount: 100, DiscountAmount: -1},
		{OwnerID: 1, BillAmount: 100},
	}
	for _, req := range cases {
		_, err := env.receivables.CreateReceivable(ctx, req)
		assert.True(t, IsValidation(err), "request %+v: got %v", req, err)
	}
	assert.Equal(t, int64(0), env.count(t, "receivable"))
}

func TestReceivable_FinalAmountIsBillMinusDiscount(t *testing.T) {
	env := newTestEnv(t)
	r := createReceivable(t, env, 3000, 500)

	assert.Equal(t, int64(2500), r.FinalAmount)
	assert.Equal(t, model.ReceivableStatusPending, r.Status)
	assert.NotEmpty(t, r.ReceivableNo)
}

func TestReceivable_StatusIsMonotonicAndConserved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := createReceivable(t, env, 2000, 0)

	rank := map[string]int{
		model.ReceivableStatusPending: 0,
		model.ReceivableStatusPartial: 1,
		model.ReceivableStatusPaid:    2,
	}
	last := rank[r.Status]

	for _, amount := range []int64{300, 700, 500, 500, 250} {
		_, err := env.receivables.RecordSettlement(ctx, r.ID, []SettlementLine{{Method: model.MethodCash, Amount: amount}}, nil)
		require.NoError(t, err)

		b, err := env.receivables.Breakdown(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, b.Receivable.FinalAmount, b.ReceivedTotal+b.Balance)
		assert.GreaterOrEqual(t, rank[b.Receivable.Status], last)
		last = rank[b.Receivable.Status]
	}

	b, err := env.receivables.Breakdown(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReceivableStatusPaid, b.Receivable.Status)
	assert.Equal(t, int64(-250), b.Balance)
}

func TestReceivable_RecomputeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := createReceivable(t, env, 1000, 0)

	_, err := env.receivables.RecordSettlement(ctx, r.ID, []SettlementLine{{Method: model.MethodBank, Amount: 400}}, nil)
	require.NoError(t, err)

	first, err := env.receivables.Recompute(ctx, r.ID)
	require.NoError(t, err)
	second, err := env.receivables.Recompute(ctx, r.ID)
	require.NoError(t, err)

	assert.Equal(t, model.ReceivableStatusPartial, first.Status)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, int64(1), env.count(t, "settlement_entry"))
}

func TestReceivable_EmptyMethodIsUnknown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := createReceivable(t, env, 1000, 0)
	actor := int64(42)

	entries, err := env.receivables.RecordSettlement(ctx, r.ID, []SettlementLine{{Amount: 100, Reference: "walk-in"}}, &actor)
	require.NoError(t, err)
	assert.Equal(t, model.MethodUnknown, entries[0].Method)
	require.NotNil(t, entries[0].RecordedBy)
	assert.Equal(t, actor, *entries[0].RecordedBy)
}

func TestReceivable_NotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.receivables.RecordSettlement(ctx, 999, []SettlementLine{{Method: model.MethodCash, Amount: 10}}, nil)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = env.receivables.Recompute(ctx, 999)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = env.receivables.Breakdown(ctx, 999)
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Equal(t, int64(0), env.count(t, "settlement_entry"))
}

func TestReceivable_ListOverdue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	due := func(days int) *time.Time {
		d := fixedNow.AddDate(0, 0, days)
		return &d
	}
	create := func(ref string, dueDate *time.Time) *model.Receivable {
		r, err := env.receivables.CreateReceivable(ctx, CreateReceivableRequest{
			OwnerID:    1,
			Category:   model.CategoryOrder,
			SourceRef:  ref,
			BillAmount: 100,
			DueDate:    dueDate,
		})
		require.NoError(t, err)
		return r
	}

	late := create("late", due(-10))
	lateButPaid := create("paid", due(-5))
	recent := create("later", due(-2))
	create("today", due(0))
	create("future", due(3))
	create("no-due-date", nil)

	_, err := env.receivables.RecordSettlement(ctx, lateButPaid.ID, []SettlementLine{{Method: model.MethodCash, Amount: 100}}, nil)
	require.NoError(t, err)

	overdue, err := env.receivables.ListOverdue(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	assert.Equal(t, late.ID, overdue[0].ID)
	assert.Equal(t, recent.ID, overdue[1].ID)
}

func TestReceivable_LookupBySourceReturnsLatest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := CreateReceivableRequest{OwnerID: 3, Category: model.CategoryPurchase, SourceRef: "po-9", BillAmount: 50}
	_, err := env.receivables.CreateReceivable(ctx, req)
	require.NoError(t, err)
	second, err := env.receivables.CreateReceivable(ctx, req)
	require.NoError(t, err)

	found, err := env.receivables.LookupBySource(ctx, model.CategoryPurchase, "po-9")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, second.ID, found.ID)

	missing, err := env.receivables.LookupBySource(ctx, model.CategoryPurchase, "po-10")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReceivable_WritesOutboxEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := createReceivable(t, env, 100, 0)

	_, err := env.receivables.RecordSettlement(ctx, r.ID, []SettlementLine{{Method: model.MethodCash, Amount: 100}}, nil)
	require.NoError(t, err)

	var types []string
	require.NoError(t, env.db.Model(&model.OutboxMessage{}).Order("id ASC").Pluck("event_type", &types).Error)
	assert.Equal(t, []string{model.EventReceivableCreated, model.EventReceivableSettled}, types)
}
