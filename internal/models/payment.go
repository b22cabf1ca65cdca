package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentGateway identifiers, stored on each payment.
const (
	PaymentGatewayHyperPay = "hyperpay"
	PaymentGatewayTabby    = "tabby"
	PaymentGatewayTamara   = "tamara"
)

// PaymentStatus for payments.
const (
	PaymentStatusPending  = "pending"
	PaymentStatusSuccess  = "success"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

// Payment is one checkout attempt against a booking.
type Payment struct {
	ID             uuid.UUID       `json:"id"`
	BookingID      uuid.UUID       `json:"booking_id"`
	CustomerID     uuid.UUID       `json:"customer_id"`
	PaymentGateway string          `json:"payment_gateway"`
	PaymentBrand   string          `json:"payment_brand,omitempty"`
	CheckoutID     string          `json:"checkout_id"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	RefundAmount   decimal.Decimal `json:"refund_amount"`
	Status         string          `json:"status"`

	CardBin         string `json:"card_bin,omitempty"`
	CardLast4       string `json:"card_last4,omitempty"`
	CardHolder      string `json:"card_holder,omitempty"`
	CardExpiryMonth string `json:"card_expiry_month,omitempty"`
	CardExpiryYear  string `json:"card_expiry_year,omitempty"`

	ResultCode       string     `json:"result_code,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	CheckoutResponse []byte     `json:"-"`
	WebhookPayload   []byte     `json:"-"`
	StatusResponse   []byte     `json:"-"` // latest raw poll response
	LastPolledAt     *time.Time `json:"last_polled_at,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	FailedAt         *time.Time `json:"failed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RefundableBalance is Amount minus what has already been refunded.
func (p *Payment) RefundableBalance() decimal.Decimal {
	return p.Amount.Sub(p.RefundAmount)
}

// FullyRefunded reports whether nothing is left to refund.
func (p *Payment) FullyRefunded() bool {
	return p.Status == PaymentStatusRefunded || p.RefundAmount.GreaterThanOrEqual(p.Amount)
}

// IsTerminal reports whether the reconciler may no longer move the payment.
func (p *Payment) IsTerminal() bool {
	return p.Status != PaymentStatusPending
}
