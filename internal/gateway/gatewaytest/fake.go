// Package gatewaytest provides a scriptable gateway.Provider for tests.
package gatewaytest

import (
	"context"
	"sync"

	"github.com/hallhub/backend/internal/gateway"
)

// SignatureHeader is the header the fake reads signatures from.
const SignatureHeader = "X-Test-Signature"

// Provider is a fake adapter. Each Func hook, when set, replaces the default behaviour;
// every call is recorded.
type Provider struct {
	Name gateway.ProviderID

	CreateCheckoutFunc func(ctx context.Context, req gateway.CheckoutRequest) (gateway.CheckoutResult, error)
	GetStatusFunc      func(ctx context.Context, checkoutID string) (gateway.StatusResult, error)
	RefundFunc         func(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResult, error)
	ValidateFunc       func(payload []byte, signature string) bool
	ParseFunc          func(payload []byte) (gateway.WebhookData, error)

	mu        sync.Mutex
	checkouts []gateway.CheckoutRequest
	polls     []string
	refunds   []gateway.RefundRequest
}

// New creates a fake provider named id.
func New(id gateway.ProviderID) *Provider {
	return &Provider{Name: id}
}

func (p *Provider) ID() gateway.ProviderID { return p.Name }

func (p *Provider) SignatureHeader() string { return SignatureHeader }

func (p *Provider) CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (gateway.CheckoutResult, error) {
	p.mu.Lock()
	p.checkouts = append(p.checkouts, req)
	p.mu.Unlock()
	if p.CreateCheckoutFunc != nil {
		return p.CreateCheckoutFunc(ctx, req)
	}
	return gateway.CheckoutResult{Success: true, CheckoutID: "chk_" + req.Reference, PaymentURL: "https://pay.test/" + req.Reference}, nil
}

func (p *Provider) GetStatus(ctx context.Context, checkoutID string) (gateway.StatusResult, error) {
	p.mu.Lock()
	p.polls = append(p.polls, checkoutID)
	p.mu.Unlock()
	if p.GetStatusFunc != nil {
		return p.GetStatusFunc(ctx, checkoutID)
	}
	return gateway.StatusResult{Success: true, Status: gateway.StatusPending}, nil
}

func (p *Provider) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	p.mu.Lock()
	p.refunds = append(p.refunds, req)
	p.mu.Unlock()
	if p.RefundFunc != nil {
		return p.RefundFunc(ctx, req)
	}
	return gateway.RefundResult{Success: true, RefundID: "ref_" + req.TransactionID, RefundedAmount: req.Amount}, nil
}

// ValidateWebhookSignature defaults to accepting the literal signature "valid".
func (p *Provider) ValidateWebhookSignature(payload []byte, signature string) bool {
	if p.ValidateFunc != nil {
		return p.ValidateFunc(payload, signature)
	}
	return signature == "valid"
}

func (p *Provider) ParseWebhookPayload(payload []byte) (gateway.WebhookData, error) {
	if p.ParseFunc != nil {
		return p.ParseFunc(payload)
	}
	return gateway.WebhookData{}, gateway.ErrMalformedPayload
}

// Checkouts returns the recorded checkout requests.
func (p *Provider) Checkouts() []gateway.CheckoutRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]gateway.CheckoutRequest(nil), p.checkouts...)
}

// Polls returns the checkout ids passed to GetStatus.
func (p *Provider) Polls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.polls...)
}

// Refunds returns the recorded refund requests.
func (p *Provider) Refunds() []gateway.RefundRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]gateway.RefundRequest(nil), p.refunds...)
}
