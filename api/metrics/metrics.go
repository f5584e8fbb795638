package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts Stripe webhook requests by event type and outcome.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapcal",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "snapcal",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// PaymentFailuresTotal counts invoice.payment_failed notifications.
	PaymentFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "snapcal",
		Subsystem: "billing",
		Name:      "payment_failures_total",
		Help:      "Total failed invoice payments reported by Stripe.",
	})

	// ReconcileOutcomes counts reconciler results per event variant.
	ReconcileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapcal",
		Subsystem: "billing",
		Name:      "reconcile_outcomes_total",
		Help:      "Billing event reconciliation outcomes (applied, unchanged, unknown_customer, stale, failed).",
	}, []string{"variant", "outcome"})

	// SweepTransitions counts records moved from active to expired by the sweeper.
	SweepTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "snapcal",
		Subsystem: "entitlement",
		Name:      "sweep_transitions_total",
		Help:      "Entitlement records expired by the sweeper.",
	})

	// SweepRuns counts sweeper runs by result.
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapcal",
		Subsystem: "entitlement",
		Name:      "sweep_runs_total",
		Help:      "Sweeper runs by result (ok/error).",
	}, []string{"result"})

	// AccessChecks counts access evaluations by resulting status.
	AccessChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapcal",
		Subsystem: "entitlement",
		Name:      "access_checks_total",
		Help:      "Access evaluations by resulting status.",
	}, []string{"status", "entitled"})
)
