package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveReceivableStatus(t *testing.T) {
	tests := []struct {
		name     string
		received int64
		final    int64
		want     string
	}{
		{"nothing received", 0, 2500, ReceivableStatusPending},
		{"partial", 1000, 2500, ReceivableStatusPartial},
		{"exact", 2500, 2500, ReceivableStatusPaid},
		{"overpaid", 3000, 2500, ReceivableStatusPaid},
		{"free receivable", 0, 0, ReceivableStatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveReceivableStatus(tt.received, tt.final))
		})
	}
}

func TestCanTransitionTo(t *testing.T) {
	assert.True(t, CanTransitionTo(RequestStatePending, RequestStateApproved))
	assert.True(t, CanTransitionTo(RequestStatePending, RequestStateRejected))
	assert.False(t, CanTransitionTo(RequestStateApproved, RequestStateRejected))
	assert.False(t, CanTransitionTo(RequestStateRejected, RequestStateApproved))
	assert.False(t, CanTransitionTo(RequestStatePending, RequestStatePending))
}

func TestKindsAndMethods(t *testing.T) {
	for _, m := range []string{MethodCash, MethodUPI, MethodCard, MethodBank, MethodUnknown} {
		assert.True(t, IsValidMethod(m), m)
	}
	assert.False(t, IsValidMethod("cheque"))
	assert.False(t, IsValidMethod(""))

	assert.True(t, IsGrantKind(CreditKindReferral))
	assert.False(t, IsGrantKind(CreditKindConsume))
	assert.False(t, IsGrantKind(CreditKindAdminDeduction))

	assert.True(t, IsValidRequestKind(RequestKindConfirmation))
	assert.False(t, IsValidRequestKind("refund"))
}

func TestLedgerTotalsAvailable(t *testing.T) {
	assert.Equal(t, int64(7), LedgerTotals{Granted: 10, Consumed: 3}.Available())
}
