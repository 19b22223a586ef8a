package model

import (
	"time"
)

// ============================================================================
// Credit ledger entry kinds
// ============================================================================

const (
	CreditKindPurchase       = "purchase"
	CreditKindReferral       = "referral"
	CreditKindAdminGrant     = "admin_grant"
	CreditKindConsume        = "consume"
	CreditKindAdminDeduction = "admin_deduction"
)

// IsGrantKind reports whether kind may carry a positive delta.
func IsGrantKind(kind string) bool {
	switch kind {
	case CreditKindPurchase, CreditKindReferral, CreditKindAdminGrant:
		return true
	}
	return false
}

// CreditLedgerEntry is one signed change to an owner's credit balance.
//
// The ledger is append-only and is the only source of truth: an owner's balance is
// always sum(delta) over its entries. EffectiveAt is set for backdated corrections and
// is independent of CreatedAt.
type CreditLedgerEntry struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	OwnerID     int64      `gorm:"index;not null" json:"owner_id"`
	Delta       int64      `gorm:"not null" json:"delta"`
	Kind        string     `gorm:"type:varchar(32);not null" json:"kind"`
	Description string     `gorm:"type:varchar(256)" json:"description"`
	EffectiveAt *time.Time `json:"effective_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CreditLedgerEntry) TableName() string {
	return "credit_ledger_entry"
}

// CreditAccount is the denormalized per-owner summary of the credit ledger.
// It is the row-lock target for consumption and is never trusted for a balance decision.
type CreditAccount struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID       int64     `gorm:"uniqueIndex;not null" json:"owner_id"`
	TotalGranted  int64     `gorm:"not null;default:0" json:"total_granted"`
	TotalConsumed int64     `gorm:"not null;default:0" json:"total_consumed"`
	Available     int64     `gorm:"not null;default:0" json:"available"`
	LastUpdated   time.Time `gorm:"autoUpdateTime" json:"last_updated"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (CreditAccount) TableName() string {
	return "credit_account"
}

// LedgerTotals is the ledger-derived view of one owner's credits.
type LedgerTotals struct {
	Granted  int64
	Consumed int64
}

// Available returns granted minus consumed.
func (t LedgerTotals) Available() int64 {
	return t.Granted - t.Consumed
}
