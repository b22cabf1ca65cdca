package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RefundStatus for payment refunds.
const (
	RefundStatusCompleted = "completed"
)

// PaymentRefund is one successful refund call against a payment.
type PaymentRefund struct {
	ID                  uuid.UUID       `json:"id"`
	PaymentID           uuid.UUID       `json:"payment_id"`
	RefundAmount        decimal.Decimal `json:"refund_amount"`
	Reason              string          `json:"reason"`
	Status              string          `json:"status"`
	RequestedBy         uuid.UUID       `json:"requested_by"`
	RefundTransactionID string          `json:"refund_transaction_id"`
	RawResponse         []byte          `json:"-"`
	ProcessedAt         time.Time       `json:"processed_at"`
	CreatedAt           time.Time       `json:"created_at"`
}
