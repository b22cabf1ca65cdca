package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hallhub/backend/internal/gateway"
	"github.com/hallhub/backend/internal/models"
)

// Transition is the provider data written with a status change.
type Transition struct {
	TransactionID string
	PaymentBrand  string
	ResultCode    string
	FailureReason string
	Card          *gateway.CardDetails
	At            time.Time
}

// PaymentStore persists payments and refunds. Getters return nil, nil when nothing matches.
type PaymentStore interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByCheckoutID(ctx context.Context, checkoutID string) (*models.Payment, error)
	HasSuccessfulPayment(ctx context.Context, bookingID, exclude uuid.UUID) (bool, error)
	// MarkSuccess and MarkFailed only move a pending payment and report whether a row changed.
	MarkSuccess(ctx context.Context, id uuid.UUID, t Transition) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, t Transition) (bool, error)
	SaveWebhookPayload(ctx context.Context, id uuid.UUID, payload []byte) error
	RecordPoll(ctx context.Context, id uuid.UUID, response []byte, at time.Time) error
	AddRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, fullyRefunded bool) error
	CreateRefund(ctx context.Context, r *models.PaymentRefund) error
	ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentRefund, error)
	// ListStalePending orders never-polled payments first, then by last poll time.
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error)
}

// BookingStore is the booking side of a payment transition.
type BookingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error
	SetPaymentStatus(ctx context.Context, id uuid.UUID, status string) error
}

// CustomerReader loads the payer profile sent to providers.
type CustomerReader interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Customer, error)
}

// TxRunner runs fn in one database transaction carried by ctx.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// WebhookArchiver keeps a copy of raw webhook bodies.
type WebhookArchiver interface {
	ArchiveWebhook(ctx context.Context, provider, checkoutID string, body []byte) (string, error)
}

// ContractValidator checks a webhook body before it is parsed.
type ContractValidator interface {
	Validate(provider gateway.ProviderID, body []byte) error
}
