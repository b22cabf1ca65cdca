package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BookingStatus is the business workflow state of a booking.
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCancelled = "cancelled"
	BookingStatusCompleted = "completed"
)

// BookingPaymentStatus is the payment signal on a booking.
const (
	BookingPaymentPending  = "pending"
	BookingPaymentPaid     = "paid"
	BookingPaymentFailed   = "failed"
	BookingPaymentRefunded = "refunded"
)

// Booking is a hall reservation. Owned by the booking subsystem; payments only reads it and
// updates Status, PaymentStatus and PaidAt.
type Booking struct {
	ID            uuid.UUID        `json:"id"`
	CustomerID    uuid.UUID        `json:"customer_id"`
	HallID        uuid.UUID        `json:"hall_id"`
	HallName      string           `json:"hall_name"`
	EventDate     time.Time        `json:"event_date"`
	HallCost      decimal.Decimal  `json:"hall_cost"`
	TotalAmount   decimal.Decimal  `json:"total_amount"`
	Currency      string           `json:"currency"`
	Status        string           `json:"status"`
	PaymentStatus string           `json:"payment_status"`
	PaidAt        *time.Time       `json:"paid_at,omitempty"`
	Services      []BookingService `json:"services,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// BookingService is a vendor service (catering, photography, ...) added to a booking.
type BookingService struct {
	ID          uuid.UUID       `json:"id"`
	VendorName  string          `json:"vendor_name"`
	ServiceName string          `json:"service_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Total returns UnitPrice * Quantity.
func (s BookingService) Total() decimal.Decimal {
	return s.UnitPrice.Mul(decimal.NewFromInt(int64(s.Quantity)))
}

// IsCancelled reports whether the booking can no longer be paid.
func (b *Booking) IsCancelled() bool {
	return b.Status == BookingStatusCancelled
}
