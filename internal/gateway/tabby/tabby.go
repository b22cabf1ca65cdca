// Package tabby adapts the Tabby pay-in-4 API (v2) to gateway.Provider.
package tabby

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hallhub/backend/internal/gateway"
)

const (
	signatureHeader    = "X-Tabby-Signature"
	defaultCheckoutTTL = 30 * time.Minute
	defaultLanguage    = "ar"
	sessionCreated     = "created"
)

// Config holds Tabby settings.
type Config struct {
	BaseURL               string
	SecretKey             string
	MerchantCode          string
	Currency              string
	WebhookSecret         string
	MinAmount             decimal.Decimal
	MaxAmount             decimal.Decimal
	CheckoutTTL           time.Duration
	Language              string
	AllowUnsignedWebhooks bool
}

// Adapter implements gateway.Provider for Tabby.
type Adapter struct {
	cfg    Config
	client *gateway.Client
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Tabby adapter.
func New(cfg Config, client *gateway.Client, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = gateway.NewClient(gateway.Tabby, gateway.WithLogger(logger))
	}
	if cfg.CheckoutTTL <= 0 {
		cfg.CheckoutTTL = defaultCheckoutTTL
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Adapter{cfg: cfg, client: client, logger: logger, now: time.Now}
}

func (a *Adapter) ID() gateway.ProviderID { return gateway.Tabby }

func (a *Adapter) SignatureHeader() string { return signatureHeader }

// NormalizeStatus maps a Tabby payment status. Tabby reports statuses upper-case in the API
// and lower-case in webhooks.
func NormalizeStatus(native string) gateway.Status {
	switch strings.ToLower(strings.TrimSpace(native)) {
	case "created":
		return gateway.StatusPending
	case "authorized", "closed":
		return gateway.StatusSuccess
	case "rejected", "expired":
		return gateway.StatusFailed
	default:
		return gateway.StatusUnknown
	}
}

type buyer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type shippingAddress struct {
	City    string `json:"city"`
	Address string `json:"address"`
	Zip     string `json:"zip"`
}

type orderItem struct {
	ReferenceID string `json:"reference_id"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
}

type order struct {
	ReferenceID    string      `json:"reference_id"`
	TaxAmount      string      `json:"tax_amount"`
	ShippingAmount string      `json:"shipping_amount"`
	DiscountAmount string      `json:"discount_amount"`
	Items          []orderItem `json:"items"`
}

type checkoutPayment struct {
	Amount          string            `json:"amount"`
	Currency        string            `json:"currency"`
	Description     string            `json:"description,omitempty"`
	Buyer           buyer             `json:"buyer"`
	ShippingAddress *shippingAddress  `json:"shipping_address,omitempty"`
	Order           order             `json:"order"`
	Meta            map[string]string `json:"meta,omitempty"`
}

type merchantURLs struct {
	Success string `json:"success"`
	Cancel  string `json:"cancel"`
	Failure string `json:"failure"`
}

type checkoutBody struct {
	Payment      checkoutPayment `json:"payment"`
	Lang         string          `json:"lang"`
	MerchantCode string          `json:"merchant_code"`
	MerchantURLs merchantURLs    `json:"merchant_urls"`
}

type refundEntry struct {
	ID     string `json:"id"`
	Amount string `json:"amount"`
}

type paymentBody struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	Amount    string        `json:"amount"`
	Currency  string        `json:"currency"`
	ExpiresAt string        `json:"expires_at"`
	Order     order         `json:"order"`
	Refunds   []refundEntry `json:"refunds"`
}

type installmentProduct struct {
	WebURL string `json:"web_url"`
}

type sessionResponse struct {
	ID            string      `json:"id"`
	Status        string      `json:"status"`
	Payment       paymentBody `json:"payment"`
	Configuration struct {
		AvailableProducts struct {
			Installments []installmentProduct `json:"installments"`
		} `json:"available_products"`
		Products struct {
			Installments struct {
				RejectionReason string `json:"rejection_reason"`
			} `json:"installments"`
		} `json:"products"`
	} `json:"configuration"`
}

type errorResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"errorType"`
	Error     string `json:"error"`
}

func (a *Adapter) validate(req gateway.CheckoutRequest) (code, msg string) {
	switch {
	case !strings.EqualFold(req.Currency, a.cfg.Currency):
		return gateway.CodeCurrencyNotSupported, fmt.Sprintf("currency %s not supported, expected %s", req.Currency, a.cfg.Currency)
	case req.Amount.LessThan(a.cfg.MinAmount):
		return gateway.CodeMinAmountNotMet, fmt.Sprintf("amount %s below Tabby minimum %s", gateway.FormatAmount(req.Amount), gateway.FormatAmount(a.cfg.MinAmount))
	case a.cfg.MaxAmount.IsPositive() && req.Amount.GreaterThan(a.cfg.MaxAmount):
		return gateway.CodeMaxAmountExceeded, fmt.Sprintf("amount %s above Tabby maximum %s", gateway.FormatAmount(req.Amount), gateway.FormatAmount(a.cfg.MaxAmount))
	case req.Customer.Email == "" || req.Customer.Phone == "":
		return gateway.CodeMissingFields, "buyer email and phone are required"
	case len(req.Items) == 0:
		return gateway.CodeMissingFields, "at least one order item is required"
	}
	return "", ""
}

// CreateCheckout opens a Tabby session. The payment id doubles as our checkout id since
// every later call is keyed by it.
func (a *Adapter) CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (gateway.CheckoutResult, error) {
	if code, msg := a.validate(req); code != "" {
		return gateway.CheckoutResult{ErrorCode: code, ErrorMessage: msg}, nil
	}

	items := make([]orderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, orderItem{
			ReferenceID: it.ReferenceID,
			Title:       it.Name,
			Category:    it.Type,
			Quantity:    it.Quantity,
			UnitPrice:   gateway.FormatAmount(it.UnitPrice),
		})
	}
	body := checkoutBody{
		Payment: checkoutPayment{
			Amount:      gateway.FormatAmount(req.Amount),
			Currency:    strings.ToUpper(req.Currency),
			Description: req.Description,
			Buyer: buyer{
				Name:  strings.TrimSpace(req.Customer.FirstName + " " + req.Customer.LastName),
				Email: req.Customer.Email,
				Phone: req.Customer.Phone,
			},
			Order: order{
				ReferenceID:    req.Reference,
				TaxAmount:      gateway.FormatAmount(gateway.VATFromInclusive(req.Amount)),
				ShippingAmount: "0.00",
				DiscountAmount: "0.00",
				Items:          items,
			},
			Meta: map[string]string{"booking_id": req.BookingID, "payment_id": req.Reference},
		},
		Lang:         a.cfg.Language,
		MerchantCode: a.cfg.MerchantCode,
		MerchantURLs: merchantURLs{Success: req.ReturnURL, Cancel: req.CancelURL, Failure: req.CancelURL},
	}
	if addr := firstAddress(req.ShippingAddress, req.BillingAddress); addr != nil {
		body.Payment.ShippingAddress = &shippingAddress{City: addr.City, Address: addr.Line1}
	}

	httpReq, err := gateway.NewJSONRequest(ctx, http.MethodPost, a.cfg.BaseURL+"/api/v2/checkout", a.cfg.SecretKey, body)
	if err != nil {
		return gateway.CheckoutResult{ErrorCode: gateway.CodeTransport, ErrorMessage: err.Error()}, err
	}
	resp, err := a.client.Do(ctx, "create_checkout", httpReq)
	if err != nil {
		return gateway.CheckoutResult{ErrorCode: gateway.CodeTransport, ErrorMessage: err.Error(), RawResponse: rawBody(resp)}, err
	}
	if !resp.OK() {
		code, msg := decodeError(resp)
		return gateway.CheckoutResult{ErrorCode: code, ErrorMessage: msg, RawResponse: resp.Body}, nil
	}

	var session sessionResponse
	if err := json.Unmarshal(resp.Body, &session); err != nil {
		return gateway.CheckoutResult{ErrorCode: gateway.CodeInvalidResponse, ErrorMessage: "unreadable session response", RawResponse: resp.Body},
			fmt.Errorf("tabby: decode session: %w", err)
	}
	out := gateway.CheckoutResult{RawResponse: resp.Body}
	products := session.Configuration.AvailableProducts.Installments
	if session.Status != sessionCreated || len(products) == 0 || products[0].WebURL == "" || session.Payment.ID == "" {
		reason := session.Configuration.Products.Installments.RejectionReason
		out.ErrorCode = "REJECTED"
		if reason != "" {
			out.ErrorCode = strings.ToUpper(reason)
		}
		out.ErrorMessage = "tabby declined the session"
		a.logger.Info("tabby session rejected", zap.String("reference", req.Reference), zap.String("reason", reason))
		return out, nil
	}
	out.Success = true
	out.CheckoutID = session.Payment.ID
	out.PaymentURL = products[0].WebURL
	out.ExpiresAt = a.now().Add(a.cfg.CheckoutTTL)
	if t, err := time.Parse(time.RFC3339, session.Payment.ExpiresAt); err == nil {
		out.ExpiresAt = t
	}
	return out, nil
}

// GetStatus retrieves a payment. A closed payment whose refunds cover the full amount is
// reported as refunded.
func (a *Adapter) GetStatus(ctx context.Context, checkoutID string) (gateway.StatusResult, error) {
	httpReq, err := gateway.NewJSONRequest(ctx, http.MethodGet, a.cfg.BaseURL+"/api/v2/payments/"+url.PathEscape(checkoutID), a.cfg.SecretKey, nil)
	if err != nil {
		return gateway.StatusResult{Status: gateway.StatusUnknown, ErrorCode: gateway.CodeTransport, ErrorMessage: err.Error()}, err
	}
	resp, err := a.client.Do(ctx, "get_status", httpReq)
	if err != nil {
		return gateway.StatusResult{Status: gateway.StatusUnknown, ErrorCode: gateway.CodeTransport, ErrorMessage: err.Error(), RawResponse: rawBody(resp)}, err
	}
	if !resp.OK() {
		code, msg := decodeError(resp)
		return gateway.StatusResult{Status: gateway.StatusUnknown, ErrorCode: code, ErrorMessage: msg, RawResponse: resp.Body}, nil
	}

	var p paymentBody
	if err := json.Unmarshal(resp.Body, &p); err != nil || p.Status == "" {
		return gateway.StatusResult{Status: gateway.StatusUnknown, ErrorCode: gateway.CodeInvalidResponse, ErrorMessage: "unreadable payment response", RawResponse: resp.Body}, nil
	}
	amount, _ := gateway.ParseAmount(p.Amount)
	status := NormalizeStatus(p.Status)
	if status == gateway.StatusSuccess && amount.IsPositive() && refundedTotal(p.Refunds).GreaterThanOrEqual(amount) {
		status = gateway.StatusRefunded
	}
	out := gateway.StatusResult{
		Success:       true,
		Status:        status,
		NativeStatus:  p.Status,
		Amount:        amount,
		Currency:      p.Currency,
		PaymentMethod: "tabby_installments",
		RawResponse:   resp.Body,
	}
	if status == gateway.StatusSuccess || status == gateway.StatusRefunded {
		out.TransactionID = p.ID
	}
	return out, nil
}

// Refund refunds part or all of a closed payment.
func (a *Adapter) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	if req.TransactionID == "" || !req.Amount.IsPositive() {
		return gateway.RefundResult{ErrorCode: gateway.CodeMissingFields, ErrorMessage: "transaction id and positive amount required"}, nil
	}
	body := map[string]string{
		"amount": gateway.FormatAmount(req.Amount),
		"reason": req.Reason,
	}
	endpoint := a.cfg.BaseURL + "/api/v2/payments/" + url.PathEscape(req.TransactionID) + "/refunds"
	httpReq, err := gateway.NewJSONRequest(ctx, http.MethodPost, endpoint, a.cfg.SecretKey, body)
	if err != nil {
		return gateway.RefundResult{ErrorCode: gateway.CodeTransport, ErrorMessage: err.Error()}, err
	}
	resp, err := a.client.Do(ctx, "refund", httpReq)
	if err != nil {
		return gateway.RefundResult{ErrorCode: gateway.CodeTransport, ErrorMessage: err.Error(), RawResponse: rawBody(resp)}, err
	}
	if !resp.OK() {
		code, msg := decodeError(resp)
		return gateway.RefundResult{ErrorCode: code, ErrorMessage: msg, RawResponse: resp.Body}, nil
	}

	var p paymentBody
	if err := json.Unmarshal(resp.Body, &p); err != nil {
		return gateway.RefundResult{ErrorCode: gateway.CodeInvalidResponse, ErrorMessage: "unreadable refund response", RawResponse: resp.Body},
			fmt.Errorf("tabby: decode refund: %w", err)
	}
	out := gateway.RefundResult{Success: true, RefundedAmount: req.Amount, RawResponse: resp.Body}
	if n := len(p.Refunds); n > 0 {
		last := p.Refunds[n-1]
		out.RefundID = last.ID
		if amt, err := gateway.ParseAmount(last.Amount); err == nil && amt.IsPositive() {
			out.RefundedAmount = amt
		}
	}
	return out, nil
}

// ValidateWebhookSignature checks the base64 HMAC-SHA256 of the raw body.
func (a *Adapter) ValidateWebhookSignature(payload []byte, signature string) bool {
	if a.cfg.WebhookSecret == "" {
		return a.cfg.AllowUnsignedWebhooks
	}
	return gateway.VerifyHMACBase64(a.cfg.WebhookSecret, payload, signature)
}

// ParseWebhookPayload reads a payment notification; its body is the payment object.
func (a *Adapter) ParseWebhookPayload(payload []byte) (gateway.WebhookData, error) {
	var p paymentBody
	if err := json.Unmarshal(payload, &p); err != nil {
		return gateway.WebhookData{}, fmt.Errorf("%w: %v", gateway.ErrMalformedPayload, err)
	}
	if p.ID == "" {
		return gateway.WebhookData{}, fmt.Errorf("%w: missing payment id", gateway.ErrMalformedPayload)
	}
	amount, err := gateway.ParseAmount(p.Amount)
	if err != nil {
		return gateway.WebhookData{}, fmt.Errorf("%w: amount %q", gateway.ErrMalformedPayload, p.Amount)
	}
	status := NormalizeStatus(p.Status)
	data := gateway.WebhookData{
		CheckoutID:     p.ID,
		Status:         status,
		NativeStatus:   p.Status,
		Amount:         amount,
		Currency:       p.Currency,
		PaymentMethod:  "tabby_installments",
		RawPayload:     payload,
		AdditionalData: map[string]string{"order_reference_id": p.Order.ReferenceID},
	}
	if status == gateway.StatusSuccess {
		data.TransactionID = p.ID
	}
	return data, nil
}

func decodeError(resp *gateway.Response) (code, msg string) {
	var e errorResponse
	if err := json.Unmarshal(resp.Body, &e); err == nil && e.Error != "" {
		code = strings.ToUpper(e.ErrorType)
		if code == "" {
			code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
		}
		return code, e.Error
	}
	return fmt.Sprintf("HTTP_%d", resp.StatusCode), http.StatusText(resp.StatusCode)
}

func refundedTotal(refunds []refundEntry) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range refunds {
		if amt, err := gateway.ParseAmount(r.Amount); err == nil {
			sum = sum.Add(amt)
		}
	}
	return sum
}

func firstAddress(addrs ...*gateway.Address) *gateway.Address {
	for _, a := range addrs {
		if a != nil {
			return a
		}
	}
	return nil
}

func rawBody(resp *gateway.Response) []byte {
	if resp == nil {
		return nil
	}
	return resp.Body
}

var _ gateway.Provider = (*Adapter)(nil)
