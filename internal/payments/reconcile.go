package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hallhub/backend/internal/gateway"
	"github.com/hallhub/backend/internal/models"
)

// Sources of a status update, used as a metric label.
const (
	SourcePoll    = "poll"
	SourceWebhook = "webhook"
	SourceSweep   = "sweep"
)

const (
	reasonExpired   = "checkout expired"
	reasonDuplicate = "duplicate payment for paid booking"
)

// statusUpdate is a normalized provider observation about one payment.
type statusUpdate struct {
	Status        gateway.Status
	NativeStatus  string
	TransactionID string
	Amount        decimal.Decimal // zero when the provider did not report one
	Currency      string
	PaymentMethod string
	ResultCode    string
	Description   string
	Card          *gateway.CardDetails
	Payload       []byte // raw webhook body, stored even when nothing changes
	Source        string
}

// PollStatus asks the provider for the current status of a checkout and applies it.
// Terminal payments are answered from the database. Concurrent polls of one checkout share
// a single provider call.
func (s *Service) PollStatus(ctx context.Context, checkoutID string, userID uuid.UUID, role models.Role) (*models.Payment, error) {
	p, err := s.payments.GetByCheckoutID(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	if p == nil || !canSee(p, userID, role) {
		return nil, ErrPaymentNotFound
	}
	if p.IsTerminal() {
		return p, nil
	}
	return s.reconcileShared(ctx, p, SourcePoll)
}

// ReconcilePayment is PollStatus for background jobs, addressed by payment id.
func (s *Service) ReconcilePayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPaymentNotFound
	}
	if p.IsTerminal() {
		return p, nil
	}
	return s.reconcileShared(ctx, p, SourceSweep)
}

// reconcileShared collapses concurrent reconciles of one checkout into a single provider
// call. The shared call is detached from the first caller, so a caller that goes away only
// abandons its own wait.
func (s *Service) reconcileShared(ctx context.Context, p *models.Payment, source string) (*models.Payment, error) {
	ch := s.polls.DoChan(p.PaymentGateway+":"+p.CheckoutID, func() (any, error) {
		// status query plus a possible authorisation
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*s.cfg.ProviderTimeout)
		defer cancel()
		return s.reconcile(shared, p, source)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*models.Payment), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) reconcile(ctx context.Context, p *models.Payment, source string) (*models.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "payments.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", p.ID.String()), attribute.String("payment.source", source))

	providerID := gateway.ProviderID(p.PaymentGateway)
	provider, err := s.registry.Lookup(providerID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := s.withProviderTimeout(ctx)
	res, err := provider.GetStatus(callCtx, p.CheckoutID)
	cancel()
	s.recordPoll(ctx, p, res.RawResponse)
	if err != nil {
		s.logger.Warn("status query failed",
			zap.String("provider", p.PaymentGateway), zap.String("checkout_id", p.CheckoutID), zap.Error(err))
		return nil, transport(providerID, err)
	}
	if !res.Success {
		if s.expired(p) {
			return s.applyStatus(ctx, p.ID, statusUpdate{Status: gateway.StatusPending, Source: source})
		}
		s.logger.Warn("status query rejected",
			zap.String("provider", p.PaymentGateway),
			zap.String("checkout_id", p.CheckoutID),
			zap.String("code", res.ErrorCode),
			zap.String("message", res.ErrorMessage))
		return nil, rejected(providerID, res.ErrorCode, res.ErrorMessage)
	}
	if res.AuthorizationRequired {
		res = s.authorize(ctx, provider, p.CheckoutID, res)
		s.recordPoll(ctx, p, res.RawResponse)
	}

	return s.applyStatus(ctx, p.ID, statusUpdate{
		Status:        res.Status,
		NativeStatus:  res.NativeStatus,
		TransactionID: res.TransactionID,
		Amount:        res.Amount,
		Currency:      res.Currency,
		PaymentMethod: res.PaymentMethod,
		ResultCode:    res.ResultCode,
		Description:   res.Description,
		Card:          res.Card,
		Source:        source,
	})
}

// recordPoll keeps the raw provider answer of every status query, whatever its outcome.
func (s *Service) recordPoll(ctx context.Context, p *models.Payment, raw []byte) {
	if err := s.payments.RecordPoll(ctx, p.ID, raw, s.now()); err != nil {
		s.logger.Warn("could not record status response",
			zap.String("payment_id", p.ID.String()), zap.String("provider", p.PaymentGateway), zap.Error(err))
	}
}

// authorize confirms an approved order with providers that need it. On failure the original
// pending result stands and the next poll or webhook tries again.
func (s *Service) authorize(ctx context.Context, provider gateway.Provider, checkoutID string, current gateway.StatusResult) gateway.StatusResult {
	az, ok := provider.(gateway.Authorizer)
	if !ok {
		return current
	}
	callCtx, cancel := s.withProviderTimeout(ctx)
	defer cancel()
	res, err := az.Authorize(callCtx, checkoutID)
	if err != nil || !res.Success {
		s.logger.Warn("order authorisation failed",
			zap.String("provider", string(provider.ID())),
			zap.String("checkout_id", checkoutID),
			zap.String("code", res.ErrorCode),
			zap.Error(err))
		return current
	}
	s.logger.Info("order authorised", zap.String("provider", string(provider.ID())), zap.String("checkout_id", checkoutID))
	return res
}

func (s *Service) expired(p *models.Payment) bool {
	return p.Status == models.PaymentStatusPending && !p.ExpiresAt.IsZero() && s.now().After(p.ExpiresAt)
}

// applyStatus moves a payment according to u inside one transaction, together with its
// booking. The payment row is locked first, then the booking, on every path that touches both.
func (s *Service) applyStatus(ctx context.Context, paymentID uuid.UUID, u statusUpdate) (*models.Payment, error) {
	var (
		out        *models.Payment
		from, to   string
		transition bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrPaymentNotFound
		}
		if len(u.Payload) > 0 {
			if err := s.payments.SaveWebhookPayload(ctx, p.ID, u.Payload); err != nil {
				return fmt.Errorf("save webhook payload: %w", err)
			}
			p.WebhookPayload = u.Payload
		}
		out = p
		from = p.Status
		log := s.logger.With(
			zap.String("payment_id", p.ID.String()),
			zap.String("provider", p.PaymentGateway),
			zap.String("checkout_id", p.CheckoutID),
			zap.String("source", u.Source),
			zap.String("native_status", u.NativeStatus),
		)

		target := u.Status
		reason := u.Description
		if target == gateway.StatusPending && s.expired(p) {
			target, reason = gateway.StatusFailed, reasonExpired
		}

		switch {
		case target == gateway.StatusUnknown:
			unmappedStatusTotal.WithLabelValues(p.PaymentGateway).Inc()
			log.Warn("unmapped provider status, payment left unchanged")
			return nil
		case string(target) == p.Status:
			return nil
		case p.Status != models.PaymentStatusPending:
			log.Info("ignoring out-of-order status for settled payment",
				zap.String("current", p.Status), zap.String("reported", string(target)))
			return nil
		}

		tr := Transition{
			TransactionID: u.TransactionID,
			PaymentBrand:  u.PaymentMethod,
			ResultCode:    u.ResultCode,
			Card:          u.Card,
			At:            s.now(),
		}
		switch target {
		case gateway.StatusSuccess:
			if mismatch(p, u) {
				log.Error("provider amount does not match payment, not applied",
					zap.String("expected", p.Amount.StringFixed(2)+" "+p.Currency),
					zap.String("reported", u.Amount.StringFixed(2)+" "+u.Currency))
				return nil
			}
			booking, err := s.lockBooking(ctx, p.BookingID)
			if err != nil {
				return err
			}
			other, err := s.payments.HasSuccessfulPayment(ctx, p.BookingID, p.ID)
			if err != nil {
				return err
			}
			if other || booking.PaymentStatus == models.BookingPaymentPaid {
				tr.FailureReason = reasonDuplicate
				ok, err := s.payments.MarkFailed(ctx, p.ID, tr)
				if err != nil {
					return err
				}
				if ok {
					transition, to = true, models.PaymentStatusFailed
				}
				log.Error("second successful payment for a paid booking, refund manually",
					zap.String("booking_id", p.BookingID.String()), zap.String("transaction_id", u.TransactionID))
				break
			}
			ok, err := s.payments.MarkSuccess(ctx, p.ID, tr)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			transition, to = true, models.PaymentStatusSuccess
			if booking.IsCancelled() {
				// Money was taken for a booking that no longer stands: record it, keep the
				// booking cancelled and leave the refund to an operator.
				if err := s.bookings.SetPaymentStatus(ctx, booking.ID, models.BookingPaymentPaid); err != nil {
					return fmt.Errorf("mark cancelled booking paid: %w", err)
				}
				paidCancelledTotal.WithLabelValues(p.PaymentGateway).Inc()
				log.Error("payment succeeded for cancelled booking, refund manually",
					zap.String("booking_id", booking.ID.String()), zap.String("transaction_id", u.TransactionID))
				break
			}
			if err := s.bookings.MarkPaid(ctx, booking.ID, tr.At); err != nil {
				return fmt.Errorf("confirm booking: %w", err)
			}

		case gateway.StatusFailed:
			tr.FailureReason = reason
			if tr.FailureReason == "" {
				tr.FailureReason = "declined by provider"
			}
			booking, err := s.lockBooking(ctx, p.BookingID)
			if err != nil {
				return err
			}
			ok, err := s.payments.MarkFailed(ctx, p.ID, tr)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if booking.PaymentStatus != models.BookingPaymentPaid {
				if err := s.bookings.SetPaymentStatus(ctx, booking.ID, models.BookingPaymentFailed); err != nil {
					return fmt.Errorf("mark booking payment failed: %w", err)
				}
			}
			transition, to = true, models.PaymentStatusFailed

		default:
			log.Info("ignoring status that cannot follow pending", zap.String("reported", string(target)))
			return nil
		}

		out, err = s.payments.GetByID(ctx, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if transition {
		transitionsTotal.WithLabelValues(out.PaymentGateway, from, to, u.Source).Inc()
		s.logger.Info("payment status changed",
			zap.String("payment_id", out.ID.String()),
			zap.String("provider", out.PaymentGateway),
			zap.String("from", from),
			zap.String("to", to),
			zap.String("source", u.Source))
	}
	return out, nil
}

func (s *Service) lockBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	b, err := s.bookings.GetForUpdate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock booking: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("lock booking %s: %w", id, ErrBookingNotFound)
	}
	return b, nil
}

// mismatch reports a provider amount or currency that differs from the payment. Providers
// that send no amount are not checked.
func mismatch(p *models.Payment, u statusUpdate) bool {
	if u.Amount.IsPositive() && !u.Amount.Equal(p.Amount) {
		return true
	}
	return u.Currency != "" && p.Currency != "" && !strings.EqualFold(u.Currency, p.Currency)
}

// StalePending lists pending payments created before cutoff, least recently polled first.
func (s *Service) StalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	return s.payments.ListStalePending(ctx, cutoff, limit)
}
