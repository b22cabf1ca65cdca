// Package hyperpay adapts the HyperPay (OPPWA) COPYandPAY card API to gateway.Provider.
// Requests are form-encoded; amounts are two-decimal strings.
package hyperpay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hallhub/backend/internal/gateway"
)

const (
	brandMada            = "MADA"
	defaultCheckoutTTL   = 30 * time.Minute
	paymentTypeDebit     = "DB"
	paymentTypeRefund    = "RF"
	signatureHeader      = "X-Signature"
	defaultCountry       = "SA"
	operationCreate      = "create_checkout"
	operationStatus      = "get_status"
	operationRefund      = "refund"
	webhookTypePayment   = "PAYMENT"
	customParamBookingID = "customParameters[booking_id]"
)

// Config holds HyperPay settings.
type Config struct {
	BaseURL               string
	AccessToken           string
	EntityID              string
	MadaEntityID          string
	Currency              string
	WebhookSecret         string
	Brands                []string
	CheckoutTTL           time.Duration
	AllowUnsignedWebhooks bool
}

// Adapter implements gateway.Provider for HyperPay.
type Adapter struct {
	cfg    Config
	client *gateway.Client
	brands map[string]bool
	logger *zap.Logger
	now    func() time.Time
}

// New creates a HyperPay adapter.
func New(cfg Config, client *gateway.Client, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = gateway.NewClient(gateway.HyperPay, gateway.WithLogger(logger))
	}
	if cfg.CheckoutTTL <= 0 {
		cfg.CheckoutTTL = defaultCheckoutTTL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	brands := make(map[string]bool, len(cfg.Brands))
	for _, b := range cfg.Brands {
		brands[strings.ToUpper(b)] = true
	}
	return &Adapter{cfg: cfg, client: client, brands: brands, logger: logger, now: time.Now}
}

func (a *Adapter) ID() gateway.ProviderID { return gateway.HyperPay }

func (a *Adapter) SignatureHeader() string { return signatureHeader }

type result struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type card struct {
	Bin         string `json:"bin"`
	Last4Digits string `json:"last4Digits"`
	Holder      string `json:"holder"`
	ExpiryMonth string `json:"expiryMonth"`
	ExpiryYear  string `json:"expiryYear"`
}

type checkoutResponse struct {
	ID     string `json:"id"`
	Result result `json:"result"`
	NDC    string `json:"ndc"`
}

type paymentResponse struct {
	ID                    string `json:"id"`
	PaymentType           string `json:"paymentType"`
	PaymentBrand          string `json:"paymentBrand"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	MerchantTransactionID string `json:"merchantTransactionId"`
	NDC                   string `json:"ndc"`
	Result                result `json:"result"`
	Card                  *card  `json:"card,omitempty"`
}

type webhookEnvelope struct {
	Type    string          `json:"type"`
	Action  string          `json:"action"`
	Payload paymentResponse `json:"payload"`
}

func (c *card) details() *gateway.CardDetails {
	if c == nil {
		return nil
	}
	return &gateway.CardDetails{
		Bin:         c.Bin,
		Last4:       c.Last4Digits,
		Holder:      c.Holder,
		ExpiryMonth: c.ExpiryMonth,
		ExpiryYear:  c.ExpiryYear,
	}
}

func (a *Adapter) entityFor(brand string) string {
	if strings.EqualFold(brand, brandMada) && a.cfg.MadaEntityID != "" {
		return a.cfg.MadaEntityID
	}
	return a.cfg.EntityID
}

// CreateCheckout prepares a COPYandPAY checkout. The returned PaymentURL is the widget script
// the frontend embeds to render the card form.
func (a *Adapter) CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (gateway.CheckoutResult, error) {
	if !req.Amount.IsPositive() {
		return gateway.CheckoutResult{ErrorCode: gateway.CodeMissingFields, ErrorMessage: "amount must be positive"}, nil
	}
	if !strings.EqualFold(req.Currency, a.cfg.Currency) {
		return gateway.CheckoutResult{
			ErrorCode:    gateway.CodeCurrencyNotSupported,
			ErrorMessage: fmt.Sprintf("currency %s not supported, expected %s", req.Currency, a.cfg.Currency),
		}, nil
	}
	brand := strings.ToUpper(req.PaymentBrand)
	if brand != "" && !a.brands[brand] {
		return gateway.CheckoutResult{
			ErrorCode:    gateway.CodeBrandNotEnabled,
			ErrorMessage: fmt.Sprintf("card brand %s is not enabled", brand),
		}, nil
	}

	form := url.Values{}
	form.Set("entityId", a.entityFor(brand))
	form.Set("amount", gateway.FormatAmount(req.Amount))
	form.Set("currency", strings.ToUpper(req.Currency))
	form.Set("paymentType", paymentTypeDebit)
	form.Set("merchantTransactionId", req.Reference)
	if req.BookingID != "" {
		form.Set(customParamBookingID, req.BookingID)
	}
	setIf(form, "customer.email", req.Customer.Email)
	setIf(form, "customer.givenName", req.Customer.FirstName)
	setIf(form, "customer.surname", req.Customer.LastName)
	setIf(form, "customer.mobile", req.Customer.Phone)
	if addr := req.BillingAddress; addr != nil {
		setIf(form, "billing.street1", addr.Line1)
		setIf(form, "billing.city", addr.City)
		country := addr.CountryCode
		if country == "" {
			country = defaultCountry
		}
		form.Set("billing.country", country)
	}
	setIf(form, "shopperResultUrl", req.ReturnURL)
	setIf(form, "notificationUrl", req.WebhookURL)

	httpReq, err := gateway.NewFormRequest(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/checkouts", a.cfg.AccessToken, form)
	if err != nil {
		return gateway.CheckoutResult{ErrorCode: gateway.CodeTransport, ErrorMessage: err.Error()}, err
	}
	resp, err := a.client.Do(ctx, operationCreate, httpReq)
	if err != nil {
		return gateway.CheckoutResult{ErrorCode: gateway.CodeTransport, ErrorMessage: err.Error(), RawResponse: rawBody(resp)}, err
	}

	var body checkoutResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return gateway.CheckoutResult{ErrorCode: gateway.CodeInvalidResponse, ErrorMessage: "unreadable checkout response", RawResponse: resp.Body},
			fmt.Errorf("hyperpay: decode checkout response: %w", err)
	}
	out := gateway.CheckoutResult{RawResponse: resp.Body}
	if !resp.OK() || body.ID == "" || NormalizeResultCode(body.Result.Code) != gateway.StatusPending {
		out.ErrorCode = body.Result.Code
		out.ErrorMessage = body.Result.Description
		if out.ErrorCode == "" {
			out.ErrorCode = fmt.Sprintf("HTTP_%d", resp.StatusCode)
		}
		a.logger.Info("hyperpay checkout rejected",
			zap.String("reference", req.Reference), zap.String("code", out.ErrorCode), zap.String("description", out.ErrorMessage))
		return out, nil
	}
	out.Success = true
	out.CheckoutID = body.ID
	out.PaymentURL = a.cfg.BaseURL + "/v1/paymentWidgets.js?checkoutId=" + url.QueryEscape(body.ID)
	out.ExpiresAt = a.now().Add(a.cfg.CheckoutTTL)
	return out, nil
}

// GetStatus queries the payment behind a checkout. MADA checkouts live under their own
// entity, so a session-not-found answer from the default entity is retried against it.
func (a *Adapter) GetStatus(ctx context.Context, checkoutID string) (gateway.StatusResult, error) {
	res, err := a.queryStatus(ctx, checkoutID, a.cfg.EntityID)
	if err == nil && res.ResultCode == codeSessionNotFound && a.cfg.MadaEntityID != "" && a.cfg.MadaEntityID != a.cfg.EntityID {
		return a.queryStatus(ctx, checkoutID, a.cfg.MadaEntityID)
	}
	return res, err
}

func (a *Adapter) queryStatus(ctx context.Context, checkoutID, entityID string) (gateway.StatusResult, error) {
	endpoint := a.cfg.BaseURL + "/v1/checkouts/" + url.PathEscape(checkoutID) + "/payment"
	httpReq, err := gateway.NewFormRequest(ctx, http.MethodGet, endpoint, a.cfg.AccessToken, url.Values{"entityId": {entityID}})
	if err != nil {
		return gateway.StatusResult{Status: gateway.StatusUnknown, ErrorCode: gateway.CodeTransport, ErrorMessage: err.Error()}, err
	}
	resp, err := a.client.Do(ctx, operationStatus, httpReq)
	if err != nil {
		return gateway.StatusResult{Status: gateway.StatusUnknown, ErrorCode: gateway.CodeTransport, ErrorMessage: err.Error(), RawResponse: rawBody(resp)}, err
	}

	// Declined payments come back as HTTP 400 with a result block, so the body is read either way.
	var body paymentResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.Result.Code == "" {
		return gateway.StatusResult{
			Status:       gateway.StatusUnknown,
			ErrorCode:    gateway.CodeInvalidResponse,
			ErrorMessage: fmt.Sprintf("status response without result code (HTTP %d)", resp.StatusCode),
			RawResponse:  resp.Body,
		}, nil
	}
	amount, err := gateway.ParseAmount(body.Amount)
	if err != nil {
		a.logger.Warn("hyperpay status amount unreadable", zap.String("checkout_id", checkoutID), zap.String("amount", body.Amount))
	}
	status := NormalizeResultCode(body.Result.Code)
	out := gateway.StatusResult{
		Success:       true,
		Status:        status,
		NativeStatus:  body.Result.Code,
		Amount:        amount,
		Currency:      body.Currency,
		PaymentMethod: body.PaymentBrand,
		ResultCode:    body.Result.Code,
		Description:   body.Result.Description,
		Card:          body.Card.details(),
		RawResponse:   resp.Body,
	}
	if status == gateway.StatusSuccess {
		out.TransactionID = body.ID
	}
	return out, nil
}

// Refund issues an RF back-office operation against the captured payment.
func (a *Adapter) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	if req.TransactionID == "" || !req.Amount.IsPositive() {
		return gateway.RefundResult{ErrorCode: gateway.CodeMissingFields, ErrorMessage: "transaction id and positive amount required"}, nil
	}
	currency := req.Currency
	if currency == "" {
		currency = a.cfg.Currency
	}
	form := url.Values{}
	form.Set("entityId", a.entityFor(req.PaymentBrand))
	form.Set("amount", gateway.FormatAmount(req.Amount))
	form.Set("currency", strings.ToUpper(currency))
	form.Set("paymentType", paymentTypeRefund)
	setIf(form, "customParameters[reason]", req.Reason)

	endpoint := a.cfg.BaseURL + "/v1/payments/" + url.PathEscape(req.TransactionID)
	httpReq, err := gateway.NewFormRequest(ctx, http.MethodPost, endpoint, a.cfg.AccessToken, form)
	if err != nil {
		return gateway.RefundResult{ErrorCode: gateway.CodeTransport, ErrorMessage: err.Error()}, err
	}
	resp, err := a.client.Do(ctx, operationRefund, httpReq)
	if err != nil {
		return gateway.RefundResult{ErrorCode: gateway.CodeTransport, ErrorMessage: err.Error(), RawResponse: rawBody(resp)}, err
	}

	var body paymentResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return gateway.RefundResult{ErrorCode: gateway.CodeInvalidResponse, ErrorMessage: "unreadable refund response", RawResponse: resp.Body},
			fmt.Errorf("hyperpay: decode refund response: %w", err)
	}
	if NormalizeResultCode(body.Result.Code) != gateway.StatusSuccess {
		code := body.Result.Code
		if code == "" {
			code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
		}
		return gateway.RefundResult{ErrorCode: code, ErrorMessage: body.Result.Description, RawResponse: resp.Body}, nil
	}
	refunded, err := gateway.ParseAmount(body.Amount)
	if err != nil || refunded.IsZero() {
		refunded = req.Amount
	}
	return gateway.RefundResult{Success: true, RefundID: body.ID, RefundedAmount: refunded, RawResponse: resp.Body}, nil
}

// ValidateWebhookSignature checks the hex HMAC-SHA256 of the raw body.
func (a *Adapter) ValidateWebhookSignature(payload []byte, signature string) bool {
	if a.cfg.WebhookSecret == "" {
		return a.cfg.AllowUnsignedWebhooks
	}
	return gateway.VerifyHMACHex(a.cfg.WebhookSecret, payload, signature)
}

// ParseWebhookPayload reads a PAYMENT notification. The checkout id travels in payload.ndc.
// Refund and reversal notifications are reported as unknown so they never move a payment.
func (a *Adapter) ParseWebhookPayload(payload []byte) (gateway.WebhookData, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return gateway.WebhookData{}, fmt.Errorf("%w: %v", gateway.ErrMalformedPayload, err)
	}
	p := env.Payload
	if p.NDC == "" {
		return gateway.WebhookData{}, fmt.Errorf("%w: missing payload.ndc", gateway.ErrMalformedPayload)
	}
	amount, err := gateway.ParseAmount(p.Amount)
	if err != nil {
		return gateway.WebhookData{}, fmt.Errorf("%w: amount %q", gateway.ErrMalformedPayload, p.Amount)
	}

	status := NormalizeResultCode(p.Result.Code)
	if !strings.EqualFold(env.Type, webhookTypePayment) || (p.PaymentType != "" && p.PaymentType != paymentTypeDebit) {
		status = gateway.StatusUnknown
	}
	data := gateway.WebhookData{
		CheckoutID:    p.NDC,
		Status:        status,
		NativeStatus:  p.Result.Code,
		Amount:        amount,
		Currency:      p.Currency,
		PaymentMethod: p.PaymentBrand,
		ResultCode:    p.Result.Code,
		Card:          p.Card.details(),
		RawPayload:    payload,
		AdditionalData: map[string]string{
			"type":               env.Type,
			"action":             env.Action,
			"payment_type":       p.PaymentType,
			"merchant_reference": p.MerchantTransactionID,
			"result_description": p.Result.Description,
		},
	}
	if status == gateway.StatusSuccess {
		data.TransactionID = p.ID
	}
	return data, nil
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

func rawBody(resp *gateway.Response) []byte {
	if resp == nil {
		return nil
	}
	return resp.Body
}

var _ gateway.Provider = (*Adapter)(nil)
