package hyperpay

import (
	"strings"

	"github.com/hallhub/backend/internal/gateway"
)

// resultRule maps a result-code prefix to a normalized status. Rules are evaluated in order
// and the first matching prefix wins, so narrower prefixes must precede broader ones.
type resultRule struct {
	prefix  string
	status  gateway.Status
	meaning string
}

var resultRules = []resultRule{
	{"000.000.", gateway.StatusSuccess, "transaction succeeded"},
	{"000.100.1", gateway.StatusSuccess, "request processed in test mode"},
	{"000.3", gateway.StatusSuccess, "processed, settlement pending on acquirer side"},
	{"000.6", gateway.StatusSuccess, "processed, transaction confirmed by connector"},
	{"000.400.110", gateway.StatusSuccess, "succeeded, manual review suggested"},
	{"000.400.120", gateway.StatusSuccess, "succeeded, manual review suggested"},
	{"000.400.03", gateway.StatusFailed, "partially failed, reversal required"},
	{"000.400.0", gateway.StatusPending, "manual review required"},
	{"000.400.100", gateway.StatusPending, "manual review required"},
	{"000.200", gateway.StatusPending, "checkout open, shopper has not paid yet"},
	{"800.400.5", gateway.StatusPending, "waiting for confirmation of non-instant payment"},
	{"100.400.500", gateway.StatusPending, "waiting for external risk"},
	{"000.400.", gateway.StatusFailed, "rejected by risk management"},
	{"800.", gateway.StatusFailed, "rejected by bank, risk or blacklist"},
	{"100.", gateway.StatusFailed, "rejected: communication, validation or system error"},
	{"200.", gateway.StatusFailed, "rejected: invalid request"},
	{"300.", gateway.StatusFailed, "rejected: soft decline"},
	{"500.", gateway.StatusFailed, "rejected: configuration error"},
	{"600.", gateway.StatusFailed, "rejected: transaction not supported"},
	{"700.", gateway.StatusFailed, "rejected: reference error"},
	{"900.", gateway.StatusFailed, "rejected: connector unavailable"},
}

// NormalizeResultCode maps a HyperPay result code ("000.000.000") to a normalized status.
func NormalizeResultCode(code string) gateway.Status {
	code = strings.TrimSpace(code)
	if code == "" {
		return gateway.StatusUnknown
	}
	for _, r := range resultRules {
		if strings.HasPrefix(code, r.prefix) {
			return r.status
		}
	}
	return gateway.StatusUnknown
}

// codeSessionNotFound is returned when a checkout id is queried against the wrong entity.
const codeSessionNotFound = "200.300.404"
