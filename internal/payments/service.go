// Package payments runs checkout, status reconciliation, webhooks and refunds for hall
// bookings on top of the provider adapters in internal/gateway.
package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hallhub/backend/internal/gateway"
	"github.com/hallhub/backend/internal/models"
)

const (
	defaultProviderTimeout = 15 * time.Second
	defaultCheckoutTTL     = 30 * time.Minute
)

// Config holds the provider-independent settings of the service.
type Config struct {
	PublicBaseURL         string
	ReturnURL             string
	CancelURL             string
	ProviderTimeout       time.Duration
	CheckoutTTL           map[gateway.ProviderID]time.Duration // fallback when the provider reports no expiry
	AllowUnsignedWebhooks bool
}

// Deps are the collaborators of Service. Contracts and Archive are optional.
type Deps struct {
	Registry  *gateway.Registry
	Payments  PaymentStore
	Bookings  BookingStore
	Customers CustomerReader
	Tx        TxRunner
	Contracts ContractValidator
	Archive   WebhookArchiver
}

// Service is the payment orchestrator.
type Service struct {
	registry  *gateway.Registry
	payments  PaymentStore
	bookings  BookingStore
	customers CustomerReader
	tx        TxRunner
	contracts ContractValidator
	archive   WebhookArchiver
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
	polls     singleflight.Group
	now       func() time.Time
	newID     func() uuid.UUID
}

// NewService creates the payment service.
func NewService(deps Deps, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	return &Service{
		registry:  deps.Registry,
		payments:  deps.Payments,
		bookings:  deps.Bookings,
		customers: deps.Customers,
		tx:        deps.Tx,
		contracts: deps.Contracts,
		archive:   deps.Archive,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("payments"),
		now:       time.Now,
		newID:     uuid.New,
	}
}

// Registry exposes the provider registry for listing and toggling providers.
func (s *Service) Registry() *gateway.Registry { return s.registry }

// PaymentDetail is a payment with its refunds.
type PaymentDetail struct {
	Payment *models.Payment        `json:"payment"`
	Refunds []models.PaymentRefund `json:"refunds"`
}

// GetPayment returns a payment and its refunds. Non-admins only see their own payments.
func (s *Service) GetPayment(ctx context.Context, id, userID uuid.UUID, role models.Role) (*PaymentDetail, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil || !canSee(p, userID, role) {
		return nil, ErrPaymentNotFound
	}
	refunds, err := s.payments.ListRefunds(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if refunds == nil {
		refunds = []models.PaymentRefund{}
	}
	return &PaymentDetail{Payment: p, Refunds: refunds}, nil
}

func canSee(p *models.Payment, userID uuid.UUID, role models.Role) bool {
	return role == models.RoleAdmin || p.CustomerID == userID
}

func (s *Service) checkoutTTL(id gateway.ProviderID) time.Duration {
	if d, ok := s.cfg.CheckoutTTL[id]; ok && d > 0 {
		return d
	}
	return defaultCheckoutTTL
}

func (s *Service) withProviderTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.ProviderTimeout)
}
