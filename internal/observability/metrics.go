// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger metrics
	TransactionsTotal  *prometheus.CounterVec
	TransactionLatency *prometheus.HistogramVec
	JournalSeq         prometheus.Gauge
	JournalErrors      *prometheus.CounterVec
	SinkErrors         prometheus.Counter

	// Supply metrics
	SupplyUnits   *prometheus.GaugeVec
	RewardsPaid   prometheus.Counter
	UnitsRetired  prometheus.Counter
	OpenPositions prometheus.Gauge

	// Verification metrics
	VerificationRunsTotal *prometheus.CounterVec
	VerificationDuration  prometheus.Histogram
	ReplayDivergences     prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulVerification prometheus.Gauge
	UptimeSeconds              prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "carbon_ledger"
	}

	return &Metrics{
		// Ledger metrics
		TransactionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Total number of ledger transactions by operation and result",
		}, []string{"op", "result"}),
		TransactionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transaction_latency_seconds",
			Help:      "Ledger transaction latency in seconds, journal append included",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		JournalSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "journal_seq",
			Help:      "Sequence number of the last committed journal entry",
		}),
		JournalErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "journal_append_errors_total",
			Help:      "Total number of failed journal appends by operation",
		}, []string{"op"}),
		SinkErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "sink_errors_total",
			Help:      "Total number of journal entries the analytics sink rejected",
		}),

		// Supply metrics
		SupplyUnits: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supply",
			Name:      "units",
			Help:      "Units per batch by ledger state",
		}, []string{"batch_id", "state"}),
		RewardsPaid: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "staking",
			Name:      "rewards_paid_total",
			Help:      "Total staking rewards paid out",
		}),
		UnitsRetired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retirement",
			Name:      "units_retired_total",
			Help:      "Total units retired",
		}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "staking",
			Name:      "open_positions",
			Help:      "Number of staking positions not yet closed",
		}),

		// Verification metrics
		VerificationRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "runs_total",
			Help:      "Total number of verification runs by status",
		}, []string{"status"}),
		VerificationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "duration_seconds",
			Help:      "Verification duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		ReplayDivergences: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "replay_divergences",
			Help:      "Number of divergences found by the last replay verification",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulVerification: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_verification_timestamp",
			Help:      "Unix timestamp of last successful verification",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTransaction records a ledger transaction outcome.
func RecordTransaction(op, result string, seconds float64) {
	DefaultMetrics.TransactionsTotal.WithLabelValues(op, result).Inc()
	DefaultMetrics.TransactionLatency.WithLabelValues(op).Observe(seconds)
}

// RecordJournalError increments the failed journal append counter.
func RecordJournalError(op string) {
	DefaultMetrics.JournalErrors.WithLabelValues(op).Inc()
}

// RecordSinkError increments the analytics sink error counter.
func RecordSinkError() {
	DefaultMetrics.SinkErrors.Inc()
}

// UpdateJournalSeq sets the last committed journal seq.
func UpdateJournalSeq(seq int64) {
	DefaultMetrics.JournalSeq.Set(float64(seq))
}

// UpdateSupply sets the per-state unit gauges of a batch.
func UpdateSupply(batchID string, free, staked, retired int64) {
	DefaultMetrics.SupplyUnits.WithLabelValues(batchID, "free").Set(float64(free))
	DefaultMetrics.SupplyUnits.WithLabelValues(batchID, "staked").Set(float64(staked))
	DefaultMetrics.SupplyUnits.WithLabelValues(batchID, "retired").Set(float64(retired))
}

// RecordRewardPaid adds a claimed reward amount.
func RecordRewardPaid(amount float64) {
	DefaultMetrics.RewardsPaid.Add(amount)
}

// RecordRetirement adds retired units.
func RecordRetirement(units int64) {
	DefaultMetrics.UnitsRetired.Add(float64(units))
}

// UpdateOpenPositions sets the open position gauge.
func UpdateOpenPositions(n int) {
	DefaultMetrics.OpenPositions.Set(float64(n))
}

// RecordVerification records a verification run.
func RecordVerification(status string, durationSeconds float64, divergences int) {
	DefaultMetrics.VerificationRunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.VerificationDuration.Observe(durationSeconds)
	DefaultMetrics.ReplayDivergences.Set(float64(divergences))
	if status == "match" {
		DefaultMetrics.LastSuccessfulVerification.SetToCurrentTime()
	}
}

// AddUptime advances the uptime counter.
func AddUptime(seconds float64) {
	DefaultMetrics.UptimeSeconds.Add(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
