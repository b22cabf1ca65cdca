package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for gateway_requests_total.
const (
	outcomeOK          = "ok"
	outcomeClientError = "client_error"
	outcomeError       = "error"
	outcomeCircuitOpen = "circuit_open"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Calls to payment providers by operation and outcome.",
		},
		[]string{"provider", "operation", "outcome"},
	)
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Latency of calls to payment providers.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		},
		[]string{"provider", "operation"},
	)
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_state",
			Help: "Provider circuit state: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"provider"},
	)
)
