// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "creator_payments"

var (
	// WebhookEvents counts webhook deliveries by event name and outcome
	// (processed, duplicate, ignored, rejected, failed).
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Webhook deliveries by event and outcome.",
	}, []string{"event", "outcome"})

	// SalesRecorded counts freshly written sales; replays are not counted.
	SalesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "sales_recorded_total",
		Help:      "Sales written to the ledger.",
	}, []string{"asset_kind"})

	SaleGrossMinor = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "sale_gross_minor_total",
		Help:      "Sum of gross sale amounts in minor units.",
	})

	PayoutRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payout",
		Name:      "requests_total",
		Help:      "Payout requests by outcome.",
	}, []string{"outcome"})

	PayoutSettlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payout",
		Name:      "settlements_total",
		Help:      "Pending payouts moved to a terminal status.",
	}, []string{"status", "source"})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Outbound payment gateway call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "code"})

	NotifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "failures_total",
		Help:      "Post-sale side effects that failed.",
	}, []string{"sink"})
)
