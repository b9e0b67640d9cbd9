package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cajaflow_webhook_notifications_total",
			Help: "Inbound provider notifications by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	WebhookProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cajaflow_webhook_processing_seconds",
			Help:    "Webhook reconciliation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"type"},
	)

	PaymentAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cajaflow_payment_attempts_total",
			Help: "Payment attempts by tenant, flow and status",
		},
		[]string{"tenant_id", "flow", "status"},
	)

	CredentialRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cajaflow_credential_refreshes_total",
			Help: "Provider token refresh outcomes",
		},
		[]string{"result"},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cajaflow_alerts_total",
			Help: "Alerts emitted by severity",
		},
		[]string{"severity"},
	)

	EventsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cajaflow_events_dispatched_total",
			Help: "Business events dispatched by type and status",
		},
		[]string{"event_type", "status"},
	)
)
