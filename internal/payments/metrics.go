package payments

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_transitions_total",
			Help: "Payment status changes by provider, source and edge.",
		},
		[]string{"provider", "from", "to", "source"},
	)
	webhookRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_webhook_rejected_total",
			Help: "Webhooks refused before reconciliation.",
		},
		[]string{"provider", "reason"},
	)
	unmappedStatusTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_unmapped_status_total",
			Help: "Provider statuses that did not map to a normalized status.",
		},
		[]string{"provider"},
	)
	refundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_refunds_total",
			Help: "Refund attempts by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	paidCancelledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_paid_cancelled_booking_total",
			Help: "Successful payments for bookings already cancelled; each needs a manual refund.",
		},
		[]string{"provider"},
	)
)
