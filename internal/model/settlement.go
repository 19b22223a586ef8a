package model

import (
	"time"
)

const (
	MethodCash    = "cash"
	MethodUPI     = "upi"
	MethodCard    = "card"
	MethodBank    = "bank"
	MethodUnknown = "unknown"
)

var validMethods = map[string]bool{
	MethodCash:    true,
	MethodUPI:     true,
	MethodCard:    true,
	MethodBank:    true,
	MethodUnknown: true,
}

// IsValidMethod reports whether m is a known settlement method.
func IsValidMethod(m string) bool {
	return validMethods[m]
}

// SettlementEntry is one payment line applied toward a receivable.
// Rows are append-only: never updated, never deleted.
type SettlementEntry struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ReceivableID int64     `gorm:"index;not null" json:"receivable_id"`
	Method       string    `gorm:"type:varchar(16);not null" json:"method"`
	Amount       int64     `gorm:"not null" json:"amount"`
	Reference    string    `gorm:"type:varchar(128)" json:"reference,omitempty"`
	RecordedBy   *int64    `json:"recorded_by,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`

	Receivable *Receivable `gorm:"foreignKey:ReceivableID;constraint:OnDelete:RESTRICT" json:"-"`
}

func (SettlementEntry) TableName() string {
	return "settlement_entry"
}
