// Package gateway defines the provider-neutral contract every payment provider adapter
// implements, plus the pieces adapters share: the registry, money formatting, webhook
// signature helpers and an instrumented HTTP client.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProviderID identifies a payment provider.
type ProviderID string

const (
	HyperPay ProviderID = "hyperpay"
	Tabby    ProviderID = "tabby"
	Tamara   ProviderID = "tamara"
)

// ParseProviderID normalizes user input ("Tabby", " tamara ") into a ProviderID.
func ParseProviderID(s string) ProviderID {
	return ProviderID(strings.ToLower(strings.TrimSpace(s)))
}

// Status is the normalized outcome every adapter maps its native vocabulary into.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
	StatusUnknown  Status = "unknown"
)

// Error codes returned in results when a request is rejected before or by the provider.
const (
	CodeMinAmountNotMet      = "MIN_AMOUNT_NOT_MET"
	CodeMaxAmountExceeded    = "MAX_AMOUNT_EXCEEDED"
	CodeMissingFields        = "MISSING_FIELDS"
	CodeBrandNotEnabled      = "BRAND_NOT_ENABLED"
	CodeCurrencyNotSupported = "CURRENCY_NOT_SUPPORTED"
	CodeTransport            = "PROVIDER_TRANSPORT_ERROR"
	CodeInvalidResponse      = "INVALID_PROVIDER_RESPONSE"
)

var (
	// ErrTransport wraps network failures, timeouts, open circuits and provider 5xx responses.
	ErrTransport = errors.New("provider transport error")
	// ErrMalformedPayload is returned by ParseWebhookPayload for bodies it cannot read.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Customer is the payer identity sent to providers.
type Customer struct {
	Email     string
	Phone     string
	FirstName string
	LastName  string
}

// Address is a billing or shipping address.
type Address struct {
	Line1       string
	City        string
	CountryCode string
}

// LineItem is one priced line of the order (hall rental, vendor service).
type LineItem struct {
	ReferenceID string
	Type        string
	Name        string
	Quantity    int
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
}

// CheckoutRequest is the provider-neutral checkout input.
type CheckoutRequest struct {
	Reference       string // our payment id, sent as the merchant reference
	BookingID       string
	Amount          decimal.Decimal
	Currency        string
	Description     string
	Customer        Customer
	BillingAddress  *Address
	ShippingAddress *Address
	Items           []LineItem
	PaymentBrand    string
	ReturnURL       string
	CancelURL       string
	WebhookURL      string
}

// CheckoutResult is the provider-neutral checkout outcome.
type CheckoutResult struct {
	Success      bool
	CheckoutID   string
	PaymentURL   string
	ExpiresAt    time.Time // zero when the provider does not report one
	ErrorCode    string
	ErrorMessage string
	RawResponse  []byte
}

// CardDetails is masked card metadata. Full PANs never leave the provider.
type CardDetails struct {
	Bin         string
	Last4       string
	Holder      string
	ExpiryMonth string
	ExpiryYear  string
}

// StatusResult is the provider-neutral answer to a status query.
// Success reports whether the query itself succeeded, not the payment.
type StatusResult struct {
	Success       bool
	Status        Status
	NativeStatus  string
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	ResultCode    string
	Description   string
	Card          *CardDetails
	ErrorCode     string
	ErrorMessage  string
	RawResponse   []byte
	// AuthorizationRequired is set when the shopper approved but the merchant must still
	// authorise the order (see Authorizer).
	AuthorizationRequired bool
}

// RefundRequest is the provider-neutral refund input.
type RefundRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Reason        string
	PaymentBrand  string // card brand of the original payment; some providers route refunds by brand
}

// RefundResult is the provider-neutral refund outcome.
type RefundResult struct {
	Success        bool
	RefundID       string
	RefundedAmount decimal.Decimal
	ErrorCode      string
	ErrorMessage   string
	RawResponse    []byte
}

// WebhookData is a parsed provider callback.
type WebhookData struct {
	CheckoutID     string
	TransactionID  string
	Status         Status
	NativeStatus   string
	Amount         decimal.Decimal
	Currency       string
	PaymentMethod  string
	ResultCode     string
	Card           *CardDetails
	RawPayload     []byte
	AdditionalData map[string]string
	// AuthorizationRequired mirrors StatusResult.AuthorizationRequired.
	AuthorizationRequired bool
}

// Provider is implemented once per payment gateway. Adapters never return an error for a
// provider-side decline; they return a result with Success=false and the provider's code.
// A non-nil error means the provider could not be reached or answered garbage.
type Provider interface {
	ID() ProviderID
	CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error)
	GetStatus(ctx context.Context, checkoutID string) (StatusResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	// SignatureHeader names the request header carrying the webhook signature or token.
	SignatureHeader() string
	ValidateWebhookSignature(payload []byte, signature string) bool
	ParseWebhookPayload(payload []byte) (WebhookData, error)
}

// Authorizer is implemented by providers whose approved orders must be confirmed by the
// merchant before they count as paid.
type Authorizer interface {
	Authorize(ctx context.Context, checkoutID string) (StatusResult, error)
}
