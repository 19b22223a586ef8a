package model

import (
	"time"
)

const (
	RequestStatePending  = "pending"
	RequestStateApproved = "approved"
	RequestStateRejected = "rejected"
)

const (
	RequestKindCheckIn        = "check_in"
	RequestKindPaymentRequest = "payment_request"
	RequestKindCreditPurchase = "credit_purchase"
	RequestKindOrder          = "order"
	RequestKindConfirmation   = "confirmation"
)

var ValidStateTransitions = map[string][]string{
	RequestStatePending: {RequestStateApproved, RequestStateRejected},
}

func CanTransitionTo(currentState, targetState string) bool {
	allowed, exists := ValidStateTransitions[currentState]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == targetState {
			return true
		}
	}
	return false
}

// IsValidRequestKind reports whether kind is one of the request kinds above.
func IsValidRequestKind(kind string) bool {
	switch kind {
	case RequestKindCheckIn, RequestKindPaymentRequest, RequestKindCreditPurchase,
		RequestKindOrder, RequestKindConfirmation:
		return true
	}
	return false
}

// ApprovalRequest is a pending item an operator approves or rejects: check-ins, payment
// requests, credit purchases, orders and confirmations all share this row.
//
// Only the columns relevant to Kind are filled: Credits for credit purchases, the
// receivable and settlement columns for payment requests.
type ApprovalRequest struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind           string     `gorm:"type:varchar(32);index;not null" json:"kind"`
	OwnerID        int64      `gorm:"index;not null" json:"owner_id"`
	State          string     `gorm:"type:varchar(20);index;not null" json:"state"`
	Credits        int64      `gorm:"not null;default:0" json:"credits,omitempty"`
	Category       string     `gorm:"type:varchar(32)" json:"category,omitempty"`
	SourceRef      string     `gorm:"type:varchar(64)" json:"source_ref,omitempty"`
	BillAmount     int64      `gorm:"not null;default:0" json:"bill_amount,omitempty"`
	DiscountAmount int64      `gorm:"not null;default:0" json:"discount_amount,omitempty"`
	Amount         int64      `gorm:"not null;default:0" json:"amount,omitempty"`
	Method         string     `gorm:"type:varchar(16)" json:"method,omitempty"`
	Reference      string     `gorm:"type:varchar(128)" json:"reference,omitempty"`
	Note           string     `gorm:"type:varchar(256)" json:"note,omitempty"`
	DecidedBy      *int64     `json:"decided_by,omitempty"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ApprovalRequest) TableName() string {
	return "approval_request"
}
