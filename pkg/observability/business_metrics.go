package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Aggregation metrics
	batchesCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_batches_created_total",
		Help: "Total batches created by aggregation runs",
	}, []string{
		"outcome", // created, nothing_to_do, failed
	})

	batchAmountCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_batch_amount_cents_total",
		Help: "Total amount charged to companies in cents",
	}, []string{
		"component", // principal, fee
	})

	obligationsChargedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_obligations_charged_total",
		Help: "Total obligations linked to a batch",
	})

	// Payout metrics
	payoutAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_payout_attempts_total",
		Help: "Total payout attempts by outcome",
	}, []string{
		"kind",    // invoice, dividend, equity_buyback
		"outcome", // processing, failed, retained, not_payable, insufficient_balance
	})

	providerCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_provider_call_duration_seconds",
		Help:    "Duration of transfer provider API calls",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{
		"operation", // quote, transfer, fund, get_transfer, delivery_estimate, balance
		"status",    // ok, error
	})

	// Reconciliation metrics
	reconcileEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_reconcile_events_total",
		Help: "Provider events processed by bucket and effect",
	}, []string{
		"bucket", // success, failure, intermediate
		"effect", // transitioned, duplicate, ignored
	})

	// Lock metrics
	lockWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_lock_wait_seconds",
		Help:    "Time spent waiting to acquire a settlement lock",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	}, []string{
		"outcome", // acquired, timeout, unavailable
	})

	// Notification metrics
	notificationDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_notification_deliveries_total",
		Help: "Notification delivery attempts",
	}, []string{
		"type",
		"status", // delivered, retrying, failed
	})
)

// RecordBatchCreated records the outcome of one aggregation run
func RecordBatchCreated(outcome string, principalCents, feeCents int64, obligations int) {
	batchesCreatedTotal.WithLabelValues(outcome).Inc()
	if outcome != "created" {
		return
	}
	batchAmountCents.WithLabelValues("principal").Add(float64(principalCents))
	batchAmountCents.WithLabelValues("fee").Add(float64(feeCents))
	obligationsChargedTotal.Add(float64(obligations))
}

// RecordPayoutAttempt records one executor run
func RecordPayoutAttempt(kind, outcome string) {
	payoutAttemptsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordProviderCall records one transfer provider API call
func RecordProviderCall(operation, status string, seconds float64) {
	providerCallDuration.WithLabelValues(operation, status).Observe(seconds)
}

// RecordReconcileEvent records how a provider event was applied
func RecordReconcileEvent(bucket, effect string) {
	reconcileEventsTotal.WithLabelValues(bucket, effect).Inc()
}

// RecordLockWait records lock acquisition latency
func RecordLockWait(outcome string, seconds float64) {
	lockWaitDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordNotificationDelivery records one outbox delivery attempt
func RecordNotificationDelivery(notificationType, status string) {
	notificationDeliveriesTotal.WithLabelValues(notificationType, status).Inc()
}
