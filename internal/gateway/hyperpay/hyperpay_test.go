package hyperpay

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallhub/backend/internal/gateway"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	a := New(Config{
		BaseURL:       server.URL,
		AccessToken:   "tok",
		EntityID:      "ent-card",
		MadaEntityID:  "ent-mada",
		Currency:      "SAR",
		WebhookSecret: "whsec",
		Brands:        []string{"VISA", "MASTER", "MADA"},
		CheckoutTTL:   30 * time.Minute,
	}, gateway.NewClient(gateway.HyperPay), nil)
	a.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return a, server
}

func checkoutRequest() gateway.CheckoutRequest {
	return gateway.CheckoutRequest{
		Reference: "pay-1",
		BookingID: "bk-1",
		Amount:    decimal.RequireFromString("1150"),
		Currency:  "SAR",
		Customer:  gateway.Customer{Email: "sara@example.com", FirstName: "Sara", LastName: "Ali", Phone: "+966500000000"},
		BillingAddress: &gateway.Address{
			Line1: "King Fahd Rd", City: "Riyadh",
		},
		PaymentBrand: "VISA",
		ReturnURL:    "https://app.test/return",
		WebhookURL:   "https://api.test/payments/webhook/hyperpay",
	}
}

func TestCreateCheckout_Success(t *testing.T) {
	a, server := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkouts", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "ent-card", r.PostForm.Get("entityId"))
		assert.Equal(t, "1150.00", r.PostForm.Get("amount"))
		assert.Equal(t, "SAR", r.PostForm.Get("currency"))
		assert.Equal(t, "DB", r.PostForm.Get("paymentType"))
		assert.Equal(t, "pay-1", r.PostForm.Get("merchantTransactionId"))
		assert.Equal(t, "sara@example.com", r.PostForm.Get("customer.email"))
		assert.Equal(t, "Riyadh", r.PostForm.Get("billing.city"))
		assert.Equal(t, "SA", r.PostForm.Get("billing.country"))
		assert.Equal(t, "https://app.test/return", r.PostForm.Get("shopperResultUrl"))
		_, _ = w.Write([]byte(`{"result":{"code":"000.200.100","description":"successfully created checkout"},"id":"CHK123","ndc":"CHK123"}`))
	})

	res, err := a.CreateCheckout(context.Background(), checkoutRequest())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "CHK123", res.CheckoutID)
	assert.Equal(t, server.URL+"/v1/paymentWidgets.js?checkoutId=CHK123", res.PaymentURL)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC), res.ExpiresAt)
	assert.NotEmpty(t, res.RawResponse)
}

func TestCreateCheckout_MadaUsesMadaEntity(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "ent-mada", r.PostForm.Get("entityId"))
		_, _ = w.Write([]byte(`{"result":{"code":"000.200.100"},"id":"CHK9"}`))
	})
	req := checkoutRequest()
	req.PaymentBrand = "mada"

	res, err := a.CreateCheckout(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestCreateCheckout_ValidationSkipsNetwork(t *testing.T) {
	called := false
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	req := checkoutRequest()
	req.PaymentBrand = "AMEX"
	res, err := a.CreateCheckout(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, gateway.CodeBrandNotEnabled, res.ErrorCode)

	req = checkoutRequest()
	req.Currency = "USD"
	res, err = a.CreateCheckout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, gateway.CodeCurrencyNotSupported, res.ErrorCode)

	assert.False(t, called)
}

func TestCreateCheckout_Rejected(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"result":{"code":"200.300.404","description":"invalid or missing parameter"}}`))
	})

	res, err := a.CreateCheckout(context.Background(), checkoutRequest())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "200.300.404", res.ErrorCode)
	assert.Equal(t, "invalid or missing parameter", res.ErrorMessage)
}

func TestCreateCheckout_ServerErrorIsTransport(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	res, err := a.CreateCheckout(context.Background(), checkoutRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, gateway.ErrTransport))
	assert.False(t, res.Success)
	assert.Equal(t, gateway.CodeTransport, res.ErrorCode)
}

func TestGetStatus_Success(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/checkouts/CHK123/payment", r.URL.Path)
		assert.Equal(t, "ent-card", r.URL.Query().Get("entityId"))
		_, _ = w.Write([]byte(`{
			"id":"TXN-1","paymentType":"DB","paymentBrand":"VISA","amount":"1150.00","currency":"SAR",
			"result":{"code":"000.000.000","description":"Transaction succeeded"},
			"card":{"bin":"411111","last4Digits":"1111","holder":"Sara Ali","expiryMonth":"05","expiryYear":"2030"}
		}`))
	})

	res, err := a.GetStatus(context.Background(), "CHK123")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, gateway.StatusSuccess, res.Status)
	assert.Equal(t, "TXN-1", res.TransactionID)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("1150")))
	assert.Equal(t, "VISA", res.PaymentMethod)
	require.NotNil(t, res.Card)
	assert.Equal(t, "1111", res.Card.Last4)
	assert.Equal(t, "411111", res.Card.Bin)
}

func TestGetStatus_DeclinedOnHTTP400(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"id":"TXN-2","amount":"1150.00","currency":"SAR","result":{"code":"800.100.151","description":"transaction declined (invalid card)"}}`))
	})

	res, err := a.GetStatus(context.Background(), "CHK123")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, gateway.StatusFailed, res.Status)
	assert.Empty(t, res.TransactionID)
	assert.Equal(t, "800.100.151", res.ResultCode)
}

func TestGetStatus_RetriesMadaEntity(t *testing.T) {
	var entities []string
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		entity := r.URL.Query().Get("entityId")
		entities = append(entities, entity)
		if entity == "ent-card" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"result":{"code":"200.300.404","description":"No payment session found"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"TXN-3","paymentBrand":"MADA","amount":"10.00","currency":"SAR","result":{"code":"000.000.000"}}`))
	})

	res, err := a.GetStatus(context.Background(), "CHK-M")
	require.NoError(t, err)
	assert.Equal(t, []string{"ent-card", "ent-mada"}, entities)
	assert.Equal(t, gateway.StatusSuccess, res.Status)
	assert.Equal(t, "MADA", res.PaymentMethod)
}

func TestGetStatus_UnreadableBody(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})

	res, err := a.GetStatus(context.Background(), "CHK123")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, gateway.StatusUnknown, res.Status)
	assert.Equal(t, gateway.CodeInvalidResponse, res.ErrorCode)
}

func TestRefund(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/TXN-1", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "RF", r.PostForm.Get("paymentType"))
		assert.Equal(t, "200.00", r.PostForm.Get("amount"))
		assert.Equal(t, "ent-card", r.PostForm.Get("entityId"))
		_, _ = w.Write([]byte(`{"id":"RF-1","paymentType":"RF","amount":"200.00","currency":"SAR","result":{"code":"000.000.000"}}`))
	})

	res, err := a.Refund(context.Background(), gateway.RefundRequest{
		TransactionID: "TXN-1", Amount: decimal.RequireFromString("200"), Currency: "SAR", Reason: "customer request",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "RF-1", res.RefundID)
	assert.True(t, res.RefundedAmount.Equal(decimal.RequireFromString("200")))
}

func TestRefund_Declined(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"result":{"code":"700.400.200","description":"cannot refund (refund volume exceeded)"}}`))
	})

	res, err := a.Refund(context.Background(), gateway.RefundRequest{TransactionID: "TXN-1", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "700.400.200", res.ErrorCode)
}

func TestValidateWebhookSignature(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	body := []byte(`{"type":"PAYMENT"}`)
	sig := hex.EncodeToString(gateway.SignHMACSHA256("whsec", body))

	assert.True(t, a.ValidateWebhookSignature(body, sig))
	assert.True(t, a.ValidateWebhookSignature(body, strings.ToUpper(sig)))
	assert.False(t, a.ValidateWebhookSignature(body, ""))
	assert.False(t, a.ValidateWebhookSignature([]byte(`{"type":"PAYMENT","x":1}`), sig))
}

func TestValidateWebhookSignature_NoSecret(t *testing.T) {
	strict := New(Config{Currency: "SAR"}, nil, nil)
	assert.False(t, strict.ValidateWebhookSignature([]byte(`{}`), ""))

	lenient := New(Config{Currency: "SAR", AllowUnsignedWebhooks: true}, nil, nil)
	assert.True(t, lenient.ValidateWebhookSignature([]byte(`{}`), ""))
}

func TestParseWebhookPayload(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	body := []byte(`{"type":"PAYMENT","action":"CREATED","payload":{
		"id":"TXN-1","paymentType":"DB","paymentBrand":"MADA","amount":"1150.00","currency":"SAR",
		"ndc":"CHK123","merchantTransactionId":"pay-1",
		"result":{"code":"000.000.000","description":"Transaction succeeded"},
		"card":{"bin":"440647","last4Digits":"0004","holder":"Sara","expiryMonth":"12","expiryYear":"2029"}}}`)

	data, err := a.ParseWebhookPayload(body)
	require.NoError(t, err)
	assert.Equal(t, "CHK123", data.CheckoutID)
	assert.Equal(t, "TXN-1", data.TransactionID)
	assert.Equal(t, gateway.StatusSuccess, data.Status)
	assert.True(t, data.Amount.Equal(decimal.RequireFromString("1150")))
	assert.Equal(t, "MADA", data.PaymentMethod)
	assert.Equal(t, "0004", data.Card.Last4)
	assert.Equal(t, "pay-1", data.AdditionalData["merchant_reference"])
}

func TestParseWebhookPayload_RefundNotificationIsUnknown(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	data, err := a.ParseWebhookPayload([]byte(`{"type":"PAYMENT","payload":{"id":"RF-1","paymentType":"RF","ndc":"CHK123","amount":"10.00","result":{"code":"000.000.000"}}}`))
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusUnknown, data.Status)
	assert.Empty(t, data.TransactionID)
}

func TestParseWebhookPayload_Malformed(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	for _, body := range []string{`not json`, `{"type":"PAYMENT","payload":{}}`, `{"payload":{"ndc":"x","amount":"abc"}}`} {
		_, err := a.ParseWebhookPayload([]byte(body))
		assert.ErrorIs(t, err, gateway.ErrMalformedPayload, body)
	}
}
