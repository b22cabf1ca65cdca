package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hallhub/backend/internal/gateway"
	"github.com/hallhub/backend/internal/models"
)

// RefundInput asks for a partial or full refund of a successful payment.
type RefundInput struct {
	PaymentID   uuid.UUID
	Amount      decimal.Decimal
	Reason      string
	RequestedBy uuid.UUID
}

// RefundOutput is the recorded refund and the payment after it.
type RefundOutput struct {
	Refund  *models.PaymentRefund `json:"refund"`
	Payment *models.Payment       `json:"payment"`
}

// Refund checks the refundable balance, calls the provider and records the refund in one
// transaction. The payment row stays locked across the provider call so concurrent refunds
// of one payment serialize; the call is bounded by the provider timeout.
func (s *Service) Refund(ctx context.Context, in RefundInput) (*RefundOutput, error) {
	ctx, span := s.tracer.Start(ctx, "payments.Refund")
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", in.PaymentID.String()))

	// at most two decimals; "200.000" is still 200
	if !in.Amount.IsPositive() || !in.Amount.Round(2).Equal(in.Amount) {
		return nil, ErrInvalidAmount
	}

	var out RefundOutput
	var providerName string
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetForUpdate(ctx, in.PaymentID)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrPaymentNotFound
		}
		providerName = p.PaymentGateway
		if p.FullyRefunded() {
			return ErrAlreadyFullyRefunded
		}
		if p.Status != models.PaymentStatusSuccess {
			return ErrNotRefundable
		}
		if in.Amount.GreaterThan(p.RefundableBalance()) {
			return ErrRefundExceedsBalance
		}

		providerID := gateway.ProviderID(p.PaymentGateway)
		provider, err := s.registry.Lookup(providerID)
		if err != nil {
			return err
		}
		callCtx, cancel := s.withProviderTimeout(ctx)
		res, err := provider.Refund(callCtx, gateway.RefundRequest{
			TransactionID: p.TransactionID,
			Amount:        in.Amount,
			Currency:      p.Currency,
			Reason:        in.Reason,
			PaymentBrand:  p.PaymentBrand,
		})
		cancel()
		if err != nil {
			s.logger.Warn("refund provider call failed",
				zap.String("payment_id", p.ID.String()), zap.String("provider", p.PaymentGateway), zap.Error(err))
			return transport(providerID, err)
		}
		if !res.Success {
			s.logger.Info("refund rejected by provider",
				zap.String("payment_id", p.ID.String()),
				zap.String("provider", p.PaymentGateway),
				zap.String("code", res.ErrorCode),
				zap.String("message", res.ErrorMessage))
			return rejected(providerID, res.ErrorCode, res.ErrorMessage)
		}

		now := s.now()
		refund := &models.PaymentRefund{
			ID:                  s.newID(),
			PaymentID:           p.ID,
			RefundAmount:        in.Amount,
			Reason:              in.Reason,
			Status:              models.RefundStatusCompleted,
			RequestedBy:         in.RequestedBy,
			RefundTransactionID: res.RefundID,
			RawResponse:         res.RawResponse,
			ProcessedAt:         now,
		}
		full := p.RefundAmount.Add(in.Amount).GreaterThanOrEqual(p.Amount)
		if err := s.recordRefund(ctx, p, refund, full); err != nil {
			// The provider has moved money; the ledger must be fixed by hand.
			s.logger.Error("refund succeeded at provider but was not recorded",
				zap.String("payment_id", p.ID.String()),
				zap.String("provider", p.PaymentGateway),
				zap.String("refund_transaction_id", res.RefundID),
				zap.String("amount", in.Amount.StringFixed(2)),
				zap.Error(err))
			return err
		}

		out.Refund = refund
		out.Payment, err = s.payments.GetByID(ctx, p.ID)
		return err
	})
	if err != nil {
		if providerName != "" {
			refundsTotal.WithLabelValues(providerName, refundOutcome(err)).Inc()
		}
		return nil, err
	}
	refundsTotal.WithLabelValues(providerName, "completed").Inc()
	if out.Payment.Status == models.PaymentStatusRefunded {
		transitionsTotal.WithLabelValues(providerName, models.PaymentStatusSuccess, models.PaymentStatusRefunded, "refund").Inc()
	}
	s.logger.Info("refund completed",
		zap.String("payment_id", in.PaymentID.String()),
		zap.String("amount", in.Amount.StringFixed(2)),
		zap.String("refund_transaction_id", out.Refund.RefundTransactionID),
		zap.String("payment_status", out.Payment.Status))
	return &out, nil
}

func (s *Service) recordRefund(ctx context.Context, p *models.Payment, refund *models.PaymentRefund, full bool) error {
	if err := s.payments.CreateRefund(ctx, refund); err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	if err := s.payments.AddRefund(ctx, p.ID, refund.RefundAmount, full); err != nil {
		return fmt.Errorf("update refunded amount: %w", err)
	}
	if !full {
		return nil
	}
	if _, err := s.lockBooking(ctx, p.BookingID); err != nil {
		return err
	}
	if err := s.bookings.SetPaymentStatus(ctx, p.BookingID, models.BookingPaymentRefunded); err != nil {
		return fmt.Errorf("mark booking refunded: %w", err)
	}
	return nil
}

func refundOutcome(err error) string {
	switch {
	case errors.Is(err, ErrProviderTransport):
		return "transport_error"
	case errors.Is(err, ErrProviderRejected):
		return "rejected"
	}
	if status, _, _ := Describe(err); status == http.StatusInternalServerError {
		return "error"
	}
	return "invalid"
}
