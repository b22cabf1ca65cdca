package payments

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hallhub/backend/internal/gateway"
)

var (
	ErrProviderNotFound     = gateway.ErrProviderNotFound
	ErrProviderDisabled     = gateway.ErrProviderDisabled
	ErrBookingNotFound      = errors.New("booking not found")
	ErrBookingCancelled     = errors.New("booking is cancelled")
	ErrAlreadyPaid          = errors.New("booking already paid")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrNotRefundable        = errors.New("payment is not refundable")
	ErrAlreadyFullyRefunded = errors.New("payment already fully refunded")
	ErrRefundExceedsBalance = errors.New("refund exceeds refundable balance")
	ErrSignatureInvalid     = errors.New("webhook signature invalid")
	ErrProviderTransport    = errors.New("payment provider unreachable")
	ErrProviderRejected     = errors.New("payment provider rejected the request")
	ErrUnmappedStatus       = errors.New("provider status could not be mapped")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidPayload       = errors.New("invalid webhook payload")
)

// ProviderError carries the code and message an adapter returned, so callers can show them
// unchanged. Kind is ErrProviderRejected or ErrProviderTransport.
type ProviderError struct {
	Kind     error
	Provider gateway.ProviderID
	Code     string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func rejected(provider gateway.ProviderID, code, msg string) error {
	return &ProviderError{Kind: ErrProviderRejected, Provider: provider, Code: code, Message: msg}
}

func transport(provider gateway.ProviderID, err error) error {
	return &ProviderError{Kind: ErrProviderTransport, Provider: provider, Code: gateway.CodeTransport, Message: "provider unreachable", Err: err}
}

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{ErrProviderNotFound, http.StatusNotFound, "PROVIDER_NOT_FOUND"},
	{ErrProviderDisabled, http.StatusBadRequest, "PROVIDER_DISABLED"},
	{ErrBookingNotFound, http.StatusNotFound, "BOOKING_NOT_FOUND"},
	{ErrBookingCancelled, http.StatusConflict, "BOOKING_CANCELLED"},
	{ErrAlreadyPaid, http.StatusConflict, "ALREADY_PAID"},
	{ErrPaymentNotFound, http.StatusNotFound, "PAYMENT_NOT_FOUND"},
	{ErrAlreadyFullyRefunded, http.StatusConflict, "ALREADY_FULLY_REFUNDED"},
	{ErrNotRefundable, http.StatusConflict, "NOT_REFUNDABLE"},
	{ErrRefundExceedsBalance, http.StatusUnprocessableEntity, "REFUND_EXCEEDS_BALANCE"},
	{ErrSignatureInvalid, http.StatusUnauthorized, "SIGNATURE_INVALID"},
	{ErrProviderTransport, http.StatusBadGateway, "PROVIDER_TRANSPORT_ERROR"},
	{ErrProviderRejected, http.StatusUnprocessableEntity, "PROVIDER_REJECTED"},
	{ErrUnmappedStatus, http.StatusBadGateway, "UNMAPPED_STATUS"},
	{ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{ErrInvalidPayload, http.StatusBadRequest, "INVALID_PAYLOAD"},
}

// Describe maps err to an HTTP status, a stable error code and a message safe to return.
// Rejections carry the provider's own code and message. Unrecognised errors map to 500.
func Describe(err error) (status int, code, msg string) {
	var pe *ProviderError
	if errors.As(err, &pe) && errors.Is(pe.Kind, ErrProviderRejected) && pe.Code != "" {
		msg = pe.Message
		if msg == "" {
			msg = ErrProviderRejected.Error()
		}
		return http.StatusUnprocessableEntity, pe.Code, msg
	}
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status, e.code, e.err.Error()
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "internal error"
}
