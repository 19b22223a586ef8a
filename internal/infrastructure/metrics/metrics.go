package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gymledger"

// Metrics holds the ledger collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	settlementBatches *prometheus.CounterVec
	settledAmount     prometheus.Counter
	creditOps         *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	reconcileDrift    prometheus.Counter
	overdue           prometheus.Gauge
	outboxPublished   *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		settlementBatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "receivable",
				Name:      "settlement_batches_total",
				Help:      "Settlement batches by outcome.",
			},
			[]string{"result"},
		),
		settledAmount: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "receivable",
				Name:      "settled_amount_total",
				Help:      "Sum of recorded settlement amounts.",
			},
		),
		creditOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "credit",
				Name:      "operations_total",
				Help:      "Credit ledger operations by kind and outcome.",
			},
			[]string{"op", "result"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "request",
				Name:      "transitions_total",
				Help:      "Request transitions by kind and outcome.",
			},
			[]string{"kind", "result"},
		),
		reconcileDrift: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "credit",
				Name:      "cache_drift_repairs_total",
				Help:      "Credit cache rows rewritten because they disagreed with the ledger.",
			},
		),
		overdue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "receivable",
				Name:      "overdue",
				Help:      "Unpaid receivables past their due date at the last scan.",
			},
		),
		outboxPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "messages_total",
				Help:      "Outbox publish attempts by outcome.",
			},
			[]string{"result"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"method", "path"},
		),
	}

	reg.MustRegister(
		m.settlementBatches,
		m.settledAmount,
		m.creditOps,
		m.transitions,
		m.reconcileDrift,
		m.overdue,
		m.outboxPublished,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) SettlementBatch(result string, amount int64) {
	if m == nil {
		return
	}
	m.settlementBatches.WithLabelValues(result).Inc()
	if amount > 0 {
		m.settledAmount.Add(float64(amount))
	}
}

func (m *Metrics) CreditOp(op, result string) {
	if m == nil {
		return
	}
	m.creditOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Transition(kind, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) DriftRepaired() {
	if m == nil {
		return
	}
	m.reconcileDrift.Inc()
}

func (m *Metrics) SetOverdue(n int) {
	if m == nil {
		return
	}
	m.overdue.Set(float64(n))
}

func (m *Metrics) OutboxPublished(result string) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(result).Inc()
}

// ObserveHTTP records one handled request. path should be the route template, not the
// raw URL, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, path string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, statusLabel(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(seconds)
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
