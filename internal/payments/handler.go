package payments

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hallhub/backend/internal/gateway"
	"github.com/hallhub/backend/internal/middleware"
	"github.com/hallhub/backend/internal/models"
	"github.com/hallhub/backend/pkg/response"
)

// CheckoutRequest is the body for POST /payments/checkout.
type CheckoutRequest struct {
	BookingID    string `json:"booking_id" binding:"required"`
	Provider     string `json:"provider" binding:"required"`
	PaymentBrand string `json:"payment_brand,omitempty"` // card brand for hyperpay (VISA, MASTER, MADA)
}

// RefundRequest is the body for POST /payments/:id/refund.
type RefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// ProviderToggleRequest is the body for PUT /payments/providers/:provider.
type ProviderToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// Handler handles payment HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a payments handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Checkout handles POST /payments/checkout.
func (h *Handler) Checkout(c *gin.Context) {
	userID, role, ok := middleware.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	bookingID, err := uuid.Parse(req.BookingID)
	if err != nil {
		response.BadRequest(c, "invalid booking id")
		return
	}

	out, err := h.svc.CreateCheckout(c.Request.Context(), CheckoutInput{
		BookingID:    bookingID,
		Provider:     gateway.ParseProviderID(req.Provider),
		PaymentBrand: req.PaymentBrand,
		UserID:       userID,
		Role:         models.Role(role),
	})
	if err != nil {
		h.fail(c, err, "checkout failed", zap.String("booking_id", req.BookingID), zap.String("provider", req.Provider))
		return
	}
	response.Created(c, out)
}

// Status handles GET /payments/status/:checkoutId.
func (h *Handler) Status(c *gin.Context) {
	userID, role, ok := middleware.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	checkoutID := c.Param("checkoutId")
	if checkoutID == "" {
		response.BadRequest(c, "checkout id required")
		return
	}
	p, err := h.svc.PollStatus(c.Request.Context(), checkoutID, userID, models.Role(role))
	if err != nil {
		h.fail(c, err, "status poll failed", zap.String("checkout_id", checkoutID))
		return
	}
	response.OK(c, statusView(p))
}

// Webhook handles POST /payments/webhook/:provider. Must run behind middleware.RawBody.
// Unknown checkouts are acknowledged so the provider stops retrying.
func (h *Handler) Webhook(c *gin.Context) {
	body, ok := middleware.GetRawBody(c)
	if !ok {
		response.BadRequest(c, "missing body")
		return
	}
	providerID := gateway.ParseProviderID(c.Param("provider"))
	provider, err := h.svc.AuthenticateWebhook(providerID, body, c.Request.Header, WebhookMeta{
		ClientIP: c.ClientIP(),
		Path:     c.Request.URL.Path,
	})
	if err != nil {
		h.fail(c, err, "webhook rejected", zap.String("provider", string(providerID)))
		return
	}

	p, err := h.svc.HandleWebhook(c.Request.Context(), provider, body)
	if err != nil {
		if IsIgnorable(err) {
			response.Ack(c, "ignored")
			return
		}
		h.fail(c, err, "webhook processing failed", zap.String("provider", string(providerID)))
		return
	}
	response.OK(c, gin.H{"payment_id": p.ID, "status": p.Status})
}

// Refund handles POST /payments/:id/refund (admin).
func (h *Handler) Refund(c *gin.Context) {
	userID, _, ok := middleware.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	out, err := h.svc.Refund(c.Request.Context(), RefundInput{
		PaymentID:   paymentID,
		Amount:      req.Amount,
		Reason:      req.Reason,
		RequestedBy: userID,
	})
	if err != nil {
		h.fail(c, err, "refund failed", zap.String("payment_id", paymentID.String()))
		return
	}
	response.OK(c, out)
}

// Get handles GET /payments/:id.
func (h *Handler) Get(c *gin.Context) {
	userID, role, ok := middleware.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	detail, err := h.svc.GetPayment(c.Request.Context(), id, userID, models.Role(role))
	if err != nil {
		h.fail(c, err, "get payment failed", zap.String("payment_id", id.String()))
		return
	}
	response.OK(c, detail)
}

// Providers handles GET /payments/providers.
func (h *Handler) Providers(c *gin.Context) {
	response.OK(c, gin.H{"providers": h.svc.Registry().Enabled()})
}

// SetProviderEnabled handles PUT /payments/providers/:provider (admin).
func (h *Handler) SetProviderEnabled(c *gin.Context) {
	var req ProviderToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	id := gateway.ParseProviderID(c.Param("provider"))
	if err := h.svc.Registry().SetEnabled(id, *req.Enabled); err != nil {
		h.fail(c, err, "toggle provider failed")
		return
	}
	h.logger.Info("provider toggled", zap.String("provider", string(id)), zap.Bool("enabled", *req.Enabled))
	response.OK(c, gin.H{"provider": id, "enabled": *req.Enabled})
}

// fail writes the mapped error. Internal errors are logged with detail and returned opaque.
func (h *Handler) fail(c *gin.Context, err error, msg string, fields ...zap.Field) {
	status, code, text := Describe(err)
	fields = append(fields, zap.Error(err), zap.String("error_code", code))
	switch {
	case status >= http.StatusInternalServerError:
		h.logger.Error(msg, fields...)
	case errors.Is(err, ErrSignatureInvalid):
		// already logged with client details
	default:
		h.logger.Info(msg, fields...)
	}
	_ = c.Error(err)
	response.Error(c, status, code, text)
}

type paymentStatusView struct {
	PaymentID     uuid.UUID       `json:"payment_id"`
	BookingID     uuid.UUID       `json:"booking_id"`
	CheckoutID    string          `json:"checkout_id"`
	Provider      string          `json:"provider"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
	TransactionID string          `json:"transaction_id,omitempty"`
	PaymentBrand  string          `json:"payment_brand,omitempty"`
	CardLast4     string          `json:"card_last4,omitempty"`
	ResultCode    string          `json:"result_code,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

func statusView(p *models.Payment) paymentStatusView {
	return paymentStatusView{
		PaymentID:     p.ID,
		BookingID:     p.BookingID,
		CheckoutID:    p.CheckoutID,
		Provider:      p.PaymentGateway,
		Status:        p.Status,
		Amount:        p.Amount,
		Currency:      p.Currency,
		RefundAmount:  p.RefundAmount,
		TransactionID: p.TransactionID,
		PaymentBrand:  p.PaymentBrand,
		CardLast4:     p.CardLast4,
		ResultCode:    p.ResultCode,
		FailureReason: p.FailureReason,
	}
}
