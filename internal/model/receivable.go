package model

import (
	"time"
)

const (
	ReceivableStatusPending = "pending"
	ReceivableStatusPartial = "partial"
	ReceivableStatusPaid    = "paid"
)

// Receivable categories used by the console. The field is free-form; these are the
// values the approval flows write.
const (
	CategorySubscription = "subscription"
	CategoryOrder        = "order"
	CategoryPurchase     = "purchase"
)

// Receivable is money owed by an owner for one originating transaction.
//
// FinalAmount is fixed at creation. Status is derived from the settlement lines and is
// only ever written by the recompute step.
type Receivable struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ReceivableNo   string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"receivable_no"`
	OwnerID        int64      `gorm:"index;not null" json:"owner_id"`
	Category       string     `gorm:"type:varchar(32);index:idx_receivable_source;not null" json:"category"`
	SourceRef      string     `gorm:"type:varchar(64);index:idx_receivable_source;not null" json:"source_ref"`
	BillAmount     int64      `gorm:"not null" json:"bill_amount"`
	DiscountAmount int64      `gorm:"not null;default:0" json:"discount_amount"`
	FinalAmount    int64      `gorm:"not null" json:"final_amount"`
	Status         string     `gorm:"type:varchar(20);index;not null" json:"status"`
	DueDate        *time.Time `gorm:"index" json:"due_date,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Receivable) TableName() string {
	return "receivable"
}

// DeriveReceivableStatus maps the received total onto a status for a fixed final amount.
// Overpayment pins at paid.
func DeriveReceivableStatus(received, finalAmount int64) string {
	switch {
	case received <= 0:
		return ReceivableStatusPending
	case received < finalAmount:
		return ReceivableStatusPartial
	default:
		return ReceivableStatusPaid
	}
}
