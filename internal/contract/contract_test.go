package contract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallhub/backend/internal/gateway"
)

func TestNewValidator_UnknownProvider(t *testing.T) {
	_, err := NewValidator("paypal")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	v, err := NewValidator(gateway.HyperPay, gateway.Tabby, gateway.Tamara)
	require.NoError(t, err)

	tests := []struct {
		name     string
		provider gateway.ProviderID
		body     string
		valid    bool
	}{
		{"hyperpay ok", gateway.HyperPay, `{"type":"PAYMENT","payload":{"ndc":"CHK1","amount":"500.00","currency":"SAR","result":{"code":"000.000.000"}}}`, true},
		{"hyperpay missing ndc", gateway.HyperPay, `{"type":"PAYMENT","payload":{"result":{"code":"000.000.000"}}}`, false},
		{"hyperpay bad code", gateway.HyperPay, `{"type":"PAYMENT","payload":{"ndc":"CHK1","result":{"code":"success"}}}`, false},
		{"hyperpay numeric amount", gateway.HyperPay, `{"type":"PAYMENT","payload":{"ndc":"CHK1","amount":500,"result":{"code":"000.000.000"}}}`, false},
		{"tabby ok", gateway.Tabby, `{"id":"tp-1","status":"authorized","amount":"100.00","currency":"SAR"}`, true},
		{"tabby missing status", gateway.Tabby, `{"id":"tp-1"}`, false},
		{"tamara ok", gateway.Tamara, `{"order_id":"ord-1","event_type":"order_approved"}`, true},
		{"tamara no status or event", gateway.Tamara, `{"order_id":"ord-1"}`, false},
		{"not json", gateway.Tabby, `nope`, false},
		{"provider without schema", "other", `nope`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.provider, []byte(tt.body))
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			var ve *ViolationError
			require.True(t, errors.As(err, &ve), "want ViolationError, got %v", err)
			assert.NotEmpty(t, ve.Errors)
			assert.Equal(t, tt.provider, ve.Provider)
		})
	}
}
