package tabby

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallhub/backend/internal/gateway"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	a := New(Config{
		BaseURL:       server.URL,
		SecretKey:     "sk_test",
		MerchantCode:  "hallhub_sa",
		Currency:      "SAR",
		WebhookSecret: "whsec",
		MinAmount:     decimal.RequireFromString("1"),
		MaxAmount:     decimal.RequireFromString("5000"),
	}, gateway.NewClient(gateway.Tabby), nil)
	a.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return a
}

func checkoutRequest(amount string) gateway.CheckoutRequest {
	total := decimal.RequireFromString(amount)
	return gateway.CheckoutRequest{
		Reference: "pay-1",
		BookingID: "bk-1",
		Amount:    total,
		Currency:  "SAR",
		Customer:  gateway.Customer{Email: "sara@example.com", Phone: "+966500000001", FirstName: "Sara", LastName: "Ali"},
		BillingAddress: &gateway.Address{
			Line1: "Olaya St", City: "Riyadh", CountryCode: "SA",
		},
		Items: []gateway.LineItem{
			{ReferenceID: "hall-1", Type: "hall", Name: "Grand Hall", Quantity: 1, UnitPrice: total, Total: total},
		},
		ReturnURL: "https://app.test/ok",
		CancelURL: "https://app.test/cancel",
	}
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, gateway.StatusPending, NormalizeStatus("CREATED"))
	assert.Equal(t, gateway.StatusSuccess, NormalizeStatus("AUTHORIZED"))
	assert.Equal(t, gateway.StatusSuccess, NormalizeStatus("closed"))
	assert.Equal(t, gateway.StatusFailed, NormalizeStatus("rejected"))
	assert.Equal(t, gateway.StatusFailed, NormalizeStatus("EXPIRED"))
	assert.Equal(t, gateway.StatusUnknown, NormalizeStatus("on_hold"))
}

func TestCreateCheckout_Success(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/checkout", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		var body checkoutBody
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "1150.00", body.Payment.Amount)
		assert.Equal(t, "150.00", body.Payment.Order.TaxAmount)
		assert.Equal(t, "pay-1", body.Payment.Order.ReferenceID)
		assert.Equal(t, "hallhub_sa", body.MerchantCode)
		assert.Equal(t, "Riyadh", body.Payment.ShippingAddress.City)
		require.Len(t, body.Payment.Order.Items, 1)
		assert.Equal(t, "1150.00", body.Payment.Order.Items[0].UnitPrice)
		_, _ = w.Write([]byte(`{
			"id":"sess-1","status":"created",
			"payment":{"id":"tabby-pay-1","status":"CREATED","expires_at":"2026-03-01T12:45:00Z"},
			"configuration":{"available_products":{"installments":[{"web_url":"https://checkout.tabby.ai/sess-1"}]}}
		}`))
	})

	res, err := a.CreateCheckout(context.Background(), checkoutRequest("1150"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "tabby-pay-1", res.CheckoutID)
	assert.Equal(t, "https://checkout.tabby.ai/sess-1", res.PaymentURL)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 45, 0, 0, time.UTC), res.ExpiresAt.UTC())
}

func TestCreateCheckout_Rejected(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"rejected","payment":{"id":"p"},
			"configuration":{"products":{"installments":{"rejection_reason":"not_available"}}}}`))
	})

	res, err := a.CreateCheckout(context.Background(), checkoutRequest("300"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "NOT_AVAILABLE", res.ErrorCode)
}

func TestCreateCheckout_LimitsSkipNetwork(t *testing.T) {
	called := false
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	res, err := a.CreateCheckout(context.Background(), checkoutRequest("0.50"))
	require.NoError(t, err)
	assert.Equal(t, gateway.CodeMinAmountNotMet, res.ErrorCode)

	res, err = a.CreateCheckout(context.Background(), checkoutRequest("5000.01"))
	require.NoError(t, err)
	assert.Equal(t, gateway.CodeMaxAmountExceeded, res.ErrorCode)

	req := checkoutRequest("100")
	req.Customer.Phone = ""
	res, err = a.CreateCheckout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, gateway.CodeMissingFields, res.ErrorCode)

	assert.False(t, called)
}

func TestCreateCheckout_ClientError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","errorType":"bad_data","error":"buyer.phone is invalid"}`))
	})

	res, err := a.CreateCheckout(context.Background(), checkoutRequest("100"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "BAD_DATA", res.ErrorCode)
	assert.Equal(t, "buyer.phone is invalid", res.ErrorMessage)
}

func TestGetStatus(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		want     gateway.Status
		wantTxID string
	}{
		{"created", `{"id":"tp-1","status":"CREATED","amount":"100.00","currency":"SAR"}`, gateway.StatusPending, ""},
		{"authorized", `{"id":"tp-1","status":"AUTHORIZED","amount":"100.00","currency":"SAR"}`, gateway.StatusSuccess, "tp-1"},
		{"expired", `{"id":"tp-1","status":"EXPIRED","amount":"100.00","currency":"SAR"}`, gateway.StatusFailed, ""},
		{"fully refunded", `{"id":"tp-1","status":"CLOSED","amount":"100.00","currency":"SAR","refunds":[{"id":"r1","amount":"60.00"},{"id":"r2","amount":"40.00"}]}`, gateway.StatusRefunded, "tp-1"},
		{"partially refunded", `{"id":"tp-1","status":"CLOSED","amount":"100.00","currency":"SAR","refunds":[{"id":"r1","amount":"60.00"}]}`, gateway.StatusSuccess, "tp-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v2/payments/tp-1", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			})
			res, err := a.GetStatus(context.Background(), "tp-1")
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.wantTxID, res.TransactionID)
		})
	}
}

func TestGetStatus_NotFound(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":"error","errorType":"not_found","error":"payment not found"}`))
	})
	res, err := a.GetStatus(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "NOT_FOUND", res.ErrorCode)
}

func TestGetStatus_TransportError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := a.GetStatus(context.Background(), "tp-1")
	assert.True(t, errors.Is(err, gateway.ErrTransport))
}

func TestRefund(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/payments/tp-1/refunds", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "40.00", body["amount"])
		assert.Equal(t, "date changed", body["reason"])
		_, _ = w.Write([]byte(`{"id":"tp-1","status":"CLOSED","amount":"100.00","refunds":[{"id":"r0","amount":"10.00"},{"id":"r1","amount":"40.00"}]}`))
	})

	res, err := a.Refund(context.Background(), gateway.RefundRequest{TransactionID: "tp-1", Amount: decimal.NewFromInt(40), Reason: "date changed"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "r1", res.RefundID)
	assert.True(t, res.RefundedAmount.Equal(decimal.NewFromInt(40)))
}

func TestRefund_Rejected(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","errorType":"bad_request","error":"payment is not captured"}`))
	})
	res, err := a.Refund(context.Background(), gateway.RefundRequest{TransactionID: "tp-1", Amount: decimal.NewFromInt(40)})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "payment is not captured", res.ErrorMessage)
}

func TestWebhook(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	body := []byte(`{"id":"tp-1","status":"authorized","amount":"100.00","currency":"SAR","order":{"reference_id":"pay-1"}}`)
	sig := base64.StdEncoding.EncodeToString(gateway.SignHMACSHA256("whsec", body))

	assert.Equal(t, "X-Tabby-Signature", a.SignatureHeader())
	assert.True(t, a.ValidateWebhookSignature(body, sig))
	assert.False(t, a.ValidateWebhookSignature(body, "bm90LWEtc2ln"))

	data, err := a.ParseWebhookPayload(body)
	require.NoError(t, err)
	assert.Equal(t, "tp-1", data.CheckoutID)
	assert.Equal(t, "tp-1", data.TransactionID)
	assert.Equal(t, gateway.StatusSuccess, data.Status)
	assert.True(t, data.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "pay-1", data.AdditionalData["order_reference_id"])

	_, err = a.ParseWebhookPayload([]byte(`{"status":"authorized"}`))
	assert.ErrorIs(t, err, gateway.ErrMalformedPayload)
}
