package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hallhub/backend/internal/gateway"
	"github.com/hallhub/backend/internal/models"
)

const archiveTimeout = 5 * time.Second

// WebhookMeta describes the inbound request for logging.
type WebhookMeta struct {
	ClientIP string
	Path     string
}

// AuthenticateWebhook resolves the provider and verifies the signature over the exact raw
// body. Disabled providers still receive webhooks for payments already in flight.
func (s *Service) AuthenticateWebhook(providerID gateway.ProviderID, body []byte, headers http.Header, meta WebhookMeta) (gateway.Provider, error) {
	provider, err := s.registry.Lookup(providerID)
	if err != nil {
		webhookRejectedTotal.WithLabelValues("unknown", "provider").Inc()
		return nil, err
	}
	signature := headers.Get(provider.SignatureHeader())
	if !provider.ValidateWebhookSignature(body, signature) {
		webhookRejectedTotal.WithLabelValues(string(providerID), "signature").Inc()
		s.logger.Warn("webhook signature rejected",
			zap.String("provider", string(providerID)),
			zap.String("client_ip", meta.ClientIP),
			zap.String("path", meta.Path),
			zap.Bool("signature_present", signature != ""))
		return nil, ErrSignatureInvalid
	}
	if signature == "" && s.cfg.AllowUnsignedWebhooks {
		s.logger.Warn("accepting unsigned webhook", zap.String("provider", string(providerID)), zap.String("client_ip", meta.ClientIP))
	}
	return provider, nil
}

// HandleWebhook processes an authenticated webhook body: archive, contract check, parse,
// then the same transition rules as a poll. The body is archived before any check, so
// rejected deliveries are kept too.
func (s *Service) HandleWebhook(ctx context.Context, provider gateway.Provider, body []byte) (*models.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "payments.HandleWebhook")
	defer span.End()
	providerID := provider.ID()
	span.SetAttributes(attribute.String("payment.provider", string(providerID)))

	data, parseErr := provider.ParseWebhookPayload(body)
	checkoutID := ""
	if parseErr == nil {
		checkoutID = data.CheckoutID
	}
	s.archiveWebhook(ctx, providerID, checkoutID, body)

	if s.contracts != nil {
		if err := s.contracts.Validate(providerID, body); err != nil {
			webhookRejectedTotal.WithLabelValues(string(providerID), "contract").Inc()
			s.logger.Warn("webhook violates contract", zap.String("provider", string(providerID)), zap.Error(err))
			s.keepRejectedPayload(ctx, providerID, checkoutID, body)
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	if parseErr != nil {
		webhookRejectedTotal.WithLabelValues(string(providerID), "parse").Inc()
		s.logger.Warn("webhook payload unreadable", zap.String("provider", string(providerID)), zap.Error(parseErr))
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, parseErr)
	}
	span.SetAttributes(attribute.String("payment.checkout_id", data.CheckoutID))

	p, err := s.payments.GetByCheckoutID(ctx, data.CheckoutID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.PaymentGateway != string(providerID) {
		s.logger.Warn("webhook for unknown checkout",
			zap.String("provider", string(providerID)), zap.String("checkout_id", data.CheckoutID))
		return nil, ErrPaymentNotFound
	}

	u := statusUpdate{
		Status:        data.Status,
		NativeStatus:  data.NativeStatus,
		TransactionID: data.TransactionID,
		Amount:        data.Amount,
		Currency:      data.Currency,
		PaymentMethod: data.PaymentMethod,
		ResultCode:    data.ResultCode,
		Description:   data.AdditionalData["result_description"],
		Card:          data.Card,
		Payload:       body,
		Source:        SourceWebhook,
	}
	if data.AuthorizationRequired && p.Status == models.PaymentStatusPending {
		res := s.authorize(ctx, provider, data.CheckoutID, gateway.StatusResult{Status: data.Status})
		if res.Status != data.Status {
			u.Status, u.NativeStatus, u.TransactionID = res.Status, res.NativeStatus, res.TransactionID
		}
	}
	return s.applyStatus(ctx, p.ID, u)
}

func (s *Service) archiveWebhook(ctx context.Context, provider gateway.ProviderID, checkoutID string, body []byte) {
	if s.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()
	key, err := s.archive.ArchiveWebhook(ctx, string(provider), checkoutID, body)
	if err != nil {
		s.logger.Warn("webhook archive failed", zap.String("provider", string(provider)), zap.String("checkout_id", checkoutID), zap.Error(err))
		return
	}
	s.logger.Debug("webhook archived", zap.String("key", key))
}

// keepRejectedPayload attaches a body that failed validation to its payment, when the
// checkout can still be identified.
func (s *Service) keepRejectedPayload(ctx context.Context, provider gateway.ProviderID, checkoutID string, body []byte) {
	if checkoutID == "" {
		return
	}
	p, err := s.payments.GetByCheckoutID(ctx, checkoutID)
	if err != nil || p == nil || p.PaymentGateway != string(provider) {
		return
	}
	if err := s.payments.SaveWebhookPayload(ctx, p.ID, body); err != nil {
		s.logger.Warn("could not keep rejected webhook body",
			zap.String("payment_id", p.ID.String()), zap.String("provider", string(provider)), zap.Error(err))
	}
}

// IsIgnorable reports webhook errors the provider should not retry.
func IsIgnorable(err error) bool {
	return errors.Is(err, ErrPaymentNotFound)
}
