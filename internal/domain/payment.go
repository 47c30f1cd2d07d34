package domain

import "time"

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusProcessing        PaymentStatus = "processing"
	PaymentStatusSucceeded         PaymentStatus = "succeeded"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Open reports whether the gateway has not yet settled the charge.
func (s PaymentStatus) Open() bool {
	return s == PaymentStatusPending || s == PaymentStatusProcessing
}

// Captured reports whether money was taken, regardless of later refunds.
func (s PaymentStatus) Captured() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusRefunded || s == PaymentStatusPartiallyRefunded
}

type PaymentRecord struct {
	ID             string
	BookingID      string
	ExternalRef    string
	IntentRef      string
	CheckoutURL    string
	Amount         int64
	CapturedAmount int64
	RefundedAmount int64
	Currency       string
	Status         PaymentStatus
	FailureReason  string
	PaidAt         *time.Time
	FailedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Refundable is the captured amount not yet returned to the payer.
func (p *PaymentRecord) Refundable() int64 {
	left := p.CapturedAmount - p.RefundedAmount
	if left < 0 {
		return 0
	}
	return left
}

type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "pending"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusSucceeded  RefundStatus = "succeeded"
	RefundStatusFailed     RefundStatus = "failed"
)

type RefundRecord struct {
	ID          string
	PaymentID   string
	BookingID   string
	ExternalRef string
	Amount      int64
	Status      RefundStatus
	Reason      string
	RequestedBy string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
