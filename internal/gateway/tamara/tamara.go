// Package tamara adapts the Tamara instalments API to gateway.Provider.
//
// Tamara orders move new -> approved -> authorised -> captured. An approved order is not
// paid until the merchant authorises it, so the adapter also implements gateway.Authorizer.
package tamara

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
	signatureHeader    = "Authorization"
	defaultCheckoutTTL = time.Hour
	defaultPaymentType = "PAY_BY_INSTALMENTS"
	defaultLocale      = "ar_SA"
	statusApproved     = "approved"
)

// Config holds Tamara settings.
type Config struct {
	BaseURL               string
	APIToken              string
	NotificationToken     string
	Currency              string
	CountryCode           string
	MinAmount             decimal.Decimal
	MaxAmount             decimal.Decimal
	CheckoutTTL           time.Duration
	PaymentType           string
	Locale                string
	AllowUnsignedWebhooks bool
}

// Adapter implements gateway.Provider and gateway.Authorizer for Tamara.
type Adapter struct {
	cfg    Config
	client *gateway.Client
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Tamara adapter.
func New(cfg Config, client *gateway.Client, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = gateway.NewClient(gateway.Tamara, gateway.WithLogger(logger))
	}
	if cfg.CheckoutTTL <= 0 {
		cfg.CheckoutTTL = defaultCheckoutTTL
	}
	if cfg.PaymentType == "" {
		cfg.PaymentType = defaultPaymentType
	}
	if cfg.Locale == "" {
		cfg.Locale = defaultLocale
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "SA"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Adapter{cfg: cfg, client: client, logger: logger, now: time.Now}
}

func (a *Adapter) ID() gateway.ProviderID { return gateway.Tamara }

func (a *Adapter) SignatureHeader() string { return signatureHeader }

var statusMap = map[string]gateway.Status{
	"new":                gateway.StatusPending,
	"approved":           gateway.StatusPending,
	"authorised":         gateway.StatusSuccess,
	"captured":           gateway.StatusSuccess,
	"fully_captured":     gateway.StatusSuccess,
	"partially_captured": gateway.StatusSuccess,
	"partially_refunded": gateway.StatusSuccess,
	"declined":           gateway.StatusFailed,
	"expired":            gateway.StatusFailed,
	"canceled":           gateway.StatusFailed,
	"fully_refunded":     gateway.StatusRefunded,
	"refunded":           gateway.StatusRefunded,
}

// NormalizeStatus maps a Tamara order status.
func NormalizeStatus(native string) gateway.Status {
	if s, ok := statusMap[strings.ToLower(strings.TrimSpace(native))]; ok {
		return s
	}
	return gateway.StatusUnknown
}

// eventStatus derives the order status from a notification event type when the
// notification does not carry order_status.
func eventStatus(eventType string) string {
	switch strings.ToLower(eventType) {
	case "order_approved":
		return "approved"
	case "order_authorised":
		return "authorised"
	case "order_captured":
		return "captured"
	case "order_declined":
		return "declined"
	case "order_expired":
		return "expired"
	case "order_canceled":
		return "canceled"
	case "order_refunded":
		return "refunded"
	}
	return ""
}

type money struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

func newMoney(d decimal.Decimal, currency string) money {
	return money{Amount: json.Number(gateway.FormatAmount(d)), Currency: currency}
}

func (m *money) decimal() decimal.Decimal {
	if m == nil {
		return decimal.Zero
	}
	d, err := gateway.ParseAmount(m.Amount.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

type item struct {
	ReferenceID string `json:"reference_id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	SKU         string `json:"sku"`
	Quantity    int    `json:"quantity"`
	UnitPrice   money  `json:"unit_price"`
	TotalAmount money  `json:"total_amount"`
}

type consumer struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
}

type address struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Line1       string `json:"line1"`
	City        string `json:"city"`
	CountryCode string `json:"country_code"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type merchantURL struct {
	Success      string `json:"success"`
	Failure      string `json:"failure"`
	Cancel       string `json:"cancel"`
	Notification string `json:"notification"`
}

type checkoutBody struct {
	OrderReferenceID string      `json:"order_reference_id"`
	OrderNumber      string      `json:"order_number,omitempty"`
	TotalAmount      money       `json:"total_amount"`
	Description      string      `json:"description"`
	CountryCode      string      `json:"country_code"`
	PaymentType      string      `json:"payment_type"`
	Locale           string      `json:"locale"`
	Items            []item      `json:"items"`
	Consumer         consumer    `json:"consumer"`
	BillingAddress   address     `json:"billing_address"`
	ShippingAddress  address     `json:"shipping_address"`
	TaxAmount        money       `json:"tax_amount"`
	ShippingAmount   money       `json:"shipping_amount"`
	MerchantURL      merchantURL `json:"merchant_url"`
}

type checkoutResponse struct {
	OrderID     string `json:"order_id"`
	CheckoutID  string `json:"checkout_id"`
	CheckoutURL string `json:"checkout_url"`
	Status      string `json:"status"`
}

type orderResponse struct {
	OrderID          string `json:"order_id"`
	OrderReferenceID string `json:"order_reference_id"`
	Status           string `json:"status"`
	PaymentType      string `json:"payment_type"`
	TotalAmount      *money `json:"total_amount"`
	RefundedAmount   *money `json:"refunded_amount"`
}

type refundResponse struct {
	OrderID        string `json:"order_id"`
	RefundID       string `json:"refund_id"`
	Status         string `json:"status"`
	RefundedAmount *money `json:"refunded_amount"`
}

type notification struct {
	OrderID          string          `json:"order_id"`
	OrderReferenceID string          `json:"order_reference_id"`
	OrderNumber      string          `json:"order_number"`
	OrderStatus      string          `json:"order_status"`
	EventType        string          `json:"event_type"`
	Data             json.RawMessage `json:"data"`
}

type errorResponse struct {
	Message string `json:"message"`
	Errors  []struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	} `json:"errors"`
}

func (a *Adapter) validate(req gateway.CheckoutRequest) (code, msg string) {
	switch {
	case !strings.EqualFold(req.Currency, a.cfg.Currency):
		return gateway.CodeCurrencyNotSupported, fmt.Sprintf("currency %s not supported, expected %s", req.Currency, a.cfg.Currency)
	case req.Amount.LessThan(a.cfg.MinAmount):
		return gateway.CodeMinAmountNotMet, fmt.Sprintf("amount %s below Tamara minimum %s", gateway.FormatAmount(req.Amount), gateway.FormatAmount(a.cfg.MinAmount))
	case a.cfg.MaxAmount.IsPositive() && req.Amount.GreaterThan(a.cfg.MaxAmount):
		return gateway.CodeMaxAmountExceeded, fmt.Sprintf("amount %s above Tamara maximum %s", gateway.FormatAmount(req.Amount), gateway.FormatAmount(a.cfg.MaxAmount))
	case req.Customer.Phone == "" || req.Customer.FirstName == "":
		return gateway.CodeMissingFields, "consumer first name and phone are required"
	case req.BillingAddress == nil && req.ShippingAddress == nil:
		return gateway.CodeMissingFields, "a billing or shipping address is required"
	case len(req.Items) == 0:
		return gateway.CodeMissingFields, "at least one order item is required"
	}
	return "", ""
}

func (a *Adapter) toAddress(addr *gateway.Address, c gateway.Customer) address {
	country := addr.CountryCode
	if country == "" {
		country = a.cfg.CountryCode
	}
	return address{
		FirstName:   c.FirstName,
		LastName:    c.LastName,
		Line1:       addr.Line1,
		City:        addr.City,
		CountryCode: country,
		PhoneNumber: c.Phone,
	}
}

// CreateCheckout creates a Tamara checkout session. The order id identifies the payment in
// every later call, so it is returned as the checkout id.
func (a *Adapter) CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (gateway.CheckoutResult, error) {
	if code, msg := a.validate(req); code != "" {
		return gateway.CheckoutResult{ErrorCode: code, ErrorMessage: msg}, nil
	}
	currency := strings.ToUpper(req.Currency)
	billing, shipping := req.BillingAddress, req.ShippingAddress
	if billing == nil {
		billing = shipping
	}
	if shipping == nil {
		shipping = billing
	}

	items := make([]item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, item{
			ReferenceID: it.ReferenceID,
			Type:        it.Type,
			Name:        it.Name,
			SKU:         it.ReferenceID,
			Quantity:    it.Quantity,
			UnitPrice:   newMoney(it.UnitPrice, currency),
			TotalAmount: newMoney(it.Total, currency),
		})
	}
	description := req.Description
	if description == "" {
		description = "Hall booking " + req.BookingID
	}
	body := checkoutBody{
		OrderReferenceID: req.Reference,
		OrderNumber:      req.BookingID,
		TotalAmount:      newMoney(req.Amount, currency),
		Description:      description,
		CountryCode:      a.cfg.CountryCode,
		PaymentType:      a.cfg.PaymentType,
		Locale:           a.cfg.Locale,
		Items:            items,
		Consumer: consumer{
			FirstName:   req.Customer.FirstName,
			LastName:    req.Customer.LastName,
			PhoneNumber: req.Customer.Phone,
			Email:       req.Customer.Email,
		},
		BillingAddress:  a.toAddress(billing, req.Customer),
		ShippingAddress: a.toAddress(shipping, req.Customer),
		TaxAmount:       newMoney(gateway.VATFromInclusive(req.Amount), currency),
		ShippingAmount:  newMoney(decimal.Zero, currency),
		MerchantURL: merchantURL{
			Success:      req.ReturnURL,
			Failure:      req.CancelURL,
			Cancel:       req.CancelURL,
			Notification: req.WebhookURL,
		},
	}

	httpReq, err := gateway.NewJSONRequest(ctx, http.MethodPost, a.cfg.BaseURL+"/checkout", a.cfg.APIToken, body)
	if err != nil {
		return gateway.CheckoutResult{ErrorCode: gateway.CodeTransport, ErrorMessage: err.Error()}, err
	}
	resp, err := a.client.Do(ctx, "create_checkout", httpReq)
	if err != nil {
		return gateway.CheckoutResult{ErrorCode: gateway.CodeTransport, ErrorMessage: err.Error(), RawResponse: rawBody(resp)}, err
	}
	if !resp.OK() {
		code, msg := decodeError(resp)
		a.logger.Info("tamara checkout rejected", zap.String("reference", req.Reference), zap.String("code", code), zap.String("message", msg))
		return gateway.CheckoutResult{ErrorCode: code, ErrorMessage: msg, RawResponse: resp.Body}, nil
	}

	var out checkoutResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return gateway.CheckoutResult{ErrorCode: gateway.CodeInvalidResponse, ErrorMessage: "unreadable checkout response", RawResponse: resp.Body},
			fmt.Errorf("tamara: decode checkout: %w", err)
	}
	if out.OrderID == "" || out.CheckoutURL == "" {
		return gateway.CheckoutResult{ErrorCode: gateway.CodeInvalidResponse, ErrorMessage: "checkout response without order id or url", RawResponse: resp.Body}, nil
	}
	return gateway.CheckoutResult{
		Success:     true,
		CheckoutID:  out.OrderID,
		PaymentURL:  out.CheckoutURL,
		ExpiresAt:   a.now().Add(a.cfg.CheckoutTTL),
		RawResponse: resp.Body,
	}, nil
}

// GetStatus fetches the order.
func (a *Adapter) GetStatus(ctx context.Context, checkoutID string) (gateway.StatusResult, error) {
	httpReq, err := gateway.NewJSONRequest(ctx, http.MethodGet, a.cfg.BaseURL+"/orders/"+url.PathEscape(checkoutID), a.cfg.APIToken, nil)
	if err != nil {
		return gateway.StatusResult{Status: gateway.StatusUnknown, ErrorCode: gateway.CodeTransport, ErrorMessage: err.Error()}, err
	}
	return a.orderStatus(ctx, "get_status", httpReq)
}

// Authorize confirms an approved order. Tamara auto-captures authorised orders by default.
func (a *Adapter) Authorize(ctx context.Context, checkoutID string) (gateway.StatusResult, error) {
	endpoint := a.cfg.BaseURL + "/orders/" + url.PathEscape(checkoutID) + "/authorise"
	httpReq, err := gateway.NewJSONRequest(ctx, http.MethodPost, endpoint, a.cfg.APIToken, nil)
	if err != nil {
		return gateway.StatusResult{Status: gateway.StatusUnknown, ErrorCode: gateway.CodeTransport, ErrorMessage: err.Error()}, err
	}
	return a.orderStatus(ctx, "authorise", httpReq)
}

func (a *Adapter) orderStatus(ctx context.Context, operation string, httpReq *http.Request) (gateway.StatusResult, error) {
	resp, err := a.client.Do(ctx, operation, httpReq)
	if err != nil {
		return gateway.StatusResult{Status: gateway.StatusUnknown, ErrorCode: gateway.CodeTransport, ErrorMessage: err.Error(), RawResponse: rawBody(resp)}, err
	}
	if !resp.OK() {
		code, msg := decodeError(resp)
		return gateway.StatusResult{Status: gateway.StatusUnknown, ErrorCode: code, ErrorMessage: msg, RawResponse: resp.Body}, nil
	}

	var o orderResponse
	if err := json.Unmarshal(resp.Body, &o); err != nil || o.Status == "" {
		return gateway.StatusResult{Status: gateway.StatusUnknown, ErrorCode: gateway.CodeInvalidResponse, ErrorMessage: "unreadable order response", RawResponse: resp.Body}, nil
	}
	status := NormalizeStatus(o.Status)
	out := gateway.StatusResult{
		Success:               true,
		Status:                status,
		NativeStatus:          o.Status,
		Amount:                o.TotalAmount.decimal(),
		PaymentMethod:         strings.ToLower(o.PaymentType),
		RawResponse:           resp.Body,
		AuthorizationRequired: strings.EqualFold(o.Status, statusApproved),
	}
	if o.TotalAmount != nil {
		out.Currency = o.TotalAmount.Currency
	}
	if status == gateway.StatusSuccess || status == gateway.StatusRefunded {
		out.TransactionID = o.OrderID
	}
	return out, nil
}

// Refund uses the simplified refund endpoint, which refunds captured amounts by order id.
func (a *Adapter) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	if req.TransactionID == "" || !req.Amount.IsPositive() {
		return gateway.RefundResult{ErrorCode: gateway.CodeMissingFields, ErrorMessage: "transaction id and positive amount required"}, nil
	}
	currency := req.Currency
	if currency == "" {
		currency = a.cfg.Currency
	}
	comment := req.Reason
	if comment == "" {
		comment = "refund"
	}
	body := struct {
		TotalAmount money  `json:"total_amount"`
		Comment     string `json:"comment"`
	}{newMoney(req.Amount, strings.ToUpper(currency)), comment}

	endpoint := a.cfg.BaseURL + "/payments/simplified-refund/" + url.PathEscape(req.TransactionID)
	httpReq, err := gateway.NewJSONRequest(ctx, http.MethodPost, endpoint, a.cfg.APIToken, body)
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

	var out refundResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return gateway.RefundResult{ErrorCode: gateway.CodeInvalidResponse, ErrorMessage: "unreadable refund response", RawResponse: resp.Body},
			fmt.Errorf("tamara: decode refund: %w", err)
	}
	if out.RefundID == "" {
		return gateway.RefundResult{ErrorCode: gateway.CodeInvalidResponse, ErrorMessage: "refund response without refund id", RawResponse: resp.Body}, nil
	}
	refunded := out.RefundedAmount.decimal()
	if !refunded.IsPositive() {
		refunded = req.Amount
	}
	return gateway.RefundResult{Success: true, RefundID: out.RefundID, RefundedAmount: refunded, RawResponse: resp.Body}, nil
}

// ValidateWebhookSignature compares the notification token sent in the Authorization header.
func (a *Adapter) ValidateWebhookSignature(_ []byte, signature string) bool {
	if a.cfg.NotificationToken == "" {
		return a.cfg.AllowUnsignedWebhooks
	}
	return gateway.VerifyToken(a.cfg.NotificationToken, signature)
}

// ParseWebhookPayload reads an order notification. Notifications carry no amount.
func (a *Adapter) ParseWebhookPayload(payload []byte) (gateway.WebhookData, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return gateway.WebhookData{}, fmt.Errorf("%w: %v", gateway.ErrMalformedPayload, err)
	}
	if n.OrderID == "" {
		return gateway.WebhookData{}, fmt.Errorf("%w: missing order_id", gateway.ErrMalformedPayload)
	}
	native := n.OrderStatus
	if native == "" {
		native = eventStatus(n.EventType)
	}
	status := NormalizeStatus(native)
	data := gateway.WebhookData{
		CheckoutID:            n.OrderID,
		Status:                status,
		NativeStatus:          native,
		PaymentMethod:         "tamara",
		RawPayload:            payload,
		AuthorizationRequired: strings.EqualFold(native, statusApproved),
		AdditionalData: map[string]string{
			"order_reference_id": n.OrderReferenceID,
			"event_type":         n.EventType,
		},
	}
	if status == gateway.StatusSuccess {
		data.TransactionID = n.OrderID
	}
	return data, nil
}

func decodeError(resp *gateway.Response) (code, msg string) {
	var e errorResponse
	if err := json.Unmarshal(resp.Body, &e); err == nil && (e.Message != "" || len(e.Errors) > 0) {
		code, msg = fmt.Sprintf("HTTP_%d", resp.StatusCode), e.Message
		if len(e.Errors) > 0 {
			if e.Errors[0].ErrorCode != "" {
				code = strings.ToUpper(e.Errors[0].ErrorCode)
			}
			if msg == "" {
				msg = e.Errors[0].Message
			}
		}
		return code, msg
	}
	return fmt.Sprintf("HTTP_%d", resp.StatusCode), http.StatusText(resp.StatusCode)
}

func rawBody(resp *gateway.Response) []byte {
	if resp == nil {
		return nil
	}
	return resp.Body
}

var (
	_ gateway.Provider   = (*Adapter)(nil)
	_ gateway.Authorizer = (*Adapter)(nil)
)
