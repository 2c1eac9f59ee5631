package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tbp_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tbp_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	LocksAcquired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tbp_locks_acquired_total",
			Help: "Total reservation locks acquired",
		},
		[]string{"resource_type"},
	)

	LockConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tbp_lock_conflicts_total",
			Help: "Total lock acquisitions rejected because the resource was held",
		},
		[]string{"resource_type"},
	)

	SagaCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tbp_saga_commands_total",
			Help: "Saga commands handled by participants",
		},
		[]string{"action", "outcome"},
	)

	PaymentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tbp_payments_processed_total",
			Help: "Payments processed by final status",
		},
		[]string{"provider", "status"},
	)

	ReconciliationDiscrepancies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tbp_reconciliation_discrepancies_total",
			Help: "Discrepancies found while reconciling payments against the gateway",
		},
	)

	OutboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tbp_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tbp_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(RequestsTotal, DBTxDuration, LocksAcquired, LockConflicts,
		SagaCommands, PaymentsProcessed, ReconciliationDiscrepancies, OutboxLag, RateLimitExceeded)
}
