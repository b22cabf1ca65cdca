package payments

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hallhub/backend/internal/gateway"
	"github.com/hallhub/backend/internal/models"
)

// CheckoutInput starts a payment for a booking.
type CheckoutInput struct {
	BookingID    uuid.UUID
	Provider     gateway.ProviderID
	PaymentBrand string
	UserID       uuid.UUID
	Role         models.Role
}

// CheckoutOutput is what the client needs to send the customer to the provider.
type CheckoutOutput struct {
	PaymentID  uuid.UUID          `json:"payment_id"`
	CheckoutID string             `json:"checkout_id"`
	PaymentURL string             `json:"payment_url"`
	ExpiresAt  time.Time          `json:"expires_at"`
	Provider   gateway.ProviderID `json:"provider"`
}

// CreateCheckout validates the booking, opens a checkout with the provider and records a
// pending payment. Nothing is stored when the provider declines or cannot be reached, and
// the booking itself is never modified here.
func (s *Service) CreateCheckout(ctx context.Context, in CheckoutInput) (*CheckoutOutput, error) {
	ctx, span := s.tracer.Start(ctx, "payments.CreateCheckout")
	defer span.End()
	span.SetAttributes(attribute.String("payment.provider", string(in.Provider)), attribute.String("booking.id", in.BookingID.String()))

	booking, err := s.bookings.GetByID(ctx, in.BookingID)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if booking == nil || (in.Role != models.RoleAdmin && booking.CustomerID != in.UserID) {
		return nil, ErrBookingNotFound
	}
	if booking.IsCancelled() {
		return nil, ErrBookingCancelled
	}
	if booking.PaymentStatus == models.BookingPaymentPaid {
		return nil, ErrAlreadyPaid
	}
	paid, err := s.payments.HasSuccessfulPayment(ctx, booking.ID, uuid.Nil)
	if err != nil {
		return nil, fmt.Errorf("check existing payments: %w", err)
	}
	if paid {
		return nil, ErrAlreadyPaid
	}

	provider, err := s.registry.Get(in.Provider)
	if err != nil {
		return nil, err
	}
	customer, err := s.customers.GetProfile(ctx, booking.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	if customer == nil {
		customer = &models.Customer{ID: booking.CustomerID}
	}

	paymentID := s.newID()
	req := s.buildCheckoutRequest(paymentID, provider.ID(), booking, customer, in.PaymentBrand)

	callCtx, cancel := s.withProviderTimeout(ctx)
	res, err := provider.CreateCheckout(callCtx, req)
	cancel()
	if err != nil {
		s.logger.Warn("checkout provider call failed",
			zap.String("provider", string(provider.ID())), zap.String("booking_id", booking.ID.String()), zap.Error(err))
		return nil, transport(provider.ID(), err)
	}
	if !res.Success {
		s.logger.Info("checkout rejected by provider",
			zap.String("provider", string(provider.ID())),
			zap.String("booking_id", booking.ID.String()),
			zap.String("code", res.ErrorCode),
			zap.String("message", res.ErrorMessage))
		return nil, rejected(provider.ID(), res.ErrorCode, res.ErrorMessage)
	}

	expiresAt := res.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = s.now().Add(s.checkoutTTL(provider.ID()))
	}
	p := &models.Payment{
		ID:               paymentID,
		BookingID:        booking.ID,
		CustomerID:       booking.CustomerID,
		PaymentGateway:   string(provider.ID()),
		PaymentBrand:     strings.ToUpper(in.PaymentBrand),
		CheckoutID:       res.CheckoutID,
		Amount:           booking.TotalAmount,
		Currency:         booking.Currency,
		Status:           models.PaymentStatusPending,
		CheckoutResponse: res.RawResponse,
		ExpiresAt:        expiresAt,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		s.logger.Error("save payment after provider checkout",
			zap.String("provider", string(provider.ID())), zap.String("checkout_id", res.CheckoutID), zap.Error(err))
		return nil, fmt.Errorf("save payment: %w", err)
	}
	transitionsTotal.WithLabelValues(p.PaymentGateway, "", models.PaymentStatusPending, "checkout").Inc()
	s.logger.Info("checkout created",
		zap.String("payment_id", p.ID.String()),
		zap.String("booking_id", booking.ID.String()),
		zap.String("provider", p.PaymentGateway),
		zap.String("checkout_id", p.CheckoutID))

	return &CheckoutOutput{
		PaymentID:  p.ID,
		CheckoutID: p.CheckoutID,
		PaymentURL: res.PaymentURL,
		ExpiresAt:  p.ExpiresAt,
		Provider:   provider.ID(),
	}, nil
}

func (s *Service) buildCheckoutRequest(paymentID uuid.UUID, provider gateway.ProviderID, b *models.Booking, c *models.Customer, brand string) gateway.CheckoutRequest {
	items := make([]gateway.LineItem, 0, len(b.Services)+1)
	items = append(items, gateway.LineItem{
		ReferenceID: b.HallID.String(),
		Type:        "hall",
		Name:        b.HallName,
		Quantity:    1,
		UnitPrice:   b.HallCost,
		Total:       b.HallCost,
	})
	for _, svc := range b.Services {
		items = append(items, gateway.LineItem{
			ReferenceID: svc.ID.String(),
			Type:        "vendor_service",
			Name:        svc.VendorName + " - " + svc.ServiceName,
			Quantity:    svc.Quantity,
			UnitPrice:   svc.UnitPrice,
			Total:       svc.Total(),
		})
	}

	var addr *gateway.Address
	if c.City != "" || c.Address != "" {
		addr = &gateway.Address{Line1: c.Address, City: c.City}
	}
	ref := paymentID.String()
	return gateway.CheckoutRequest{
		Reference:       ref,
		BookingID:       b.ID.String(),
		Amount:          b.TotalAmount,
		Currency:        b.Currency,
		Description:     fmt.Sprintf("%s booking on %s", b.HallName, b.EventDate.Format("2006-01-02")),
		Customer:        gateway.Customer{Email: c.Email, Phone: c.Phone, FirstName: c.FirstName, LastName: c.LastName},
		BillingAddress:  addr,
		ShippingAddress: addr,
		Items:           items,
		PaymentBrand:    brand,
		ReturnURL:       withQuery(s.cfg.ReturnURL, "payment_id", ref),
		CancelURL:       withQuery(s.cfg.CancelURL, "payment_id", ref),
		WebhookURL:      s.cfg.PublicBaseURL + "/payments/webhook/" + string(provider),
	}
}

func withQuery(base, key, value string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
