// Package metrics exposes Prometheus instruments for ledger operations.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "group_ledger"

type Metrics struct {
	ExpensesCreated     prometheus.Counter
	SettlementsExecuted prometheus.Counter
	TransfersRecorded   prometheus.Counter
	Rejections          *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	InvariantViolations prometheus.Gauge
}

// New registers all instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ExpensesCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expenses_created_total",
			Help:      "Shared expenses recorded.",
		}),
		SettlementsExecuted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_executed_total",
			Help:      "Settlement executions committed.",
		}),
		TransfersRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_transfers_total",
			Help:      "Settlement transfer records written.",
		}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_rejected_total",
			Help:      "Operations rejected, by operation and reason.",
		}, []string{"operation", "reason"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of ledger operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		InvariantViolations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conservation_violations",
			Help:      "Groups whose balances did not sum to zero at the last audit.",
		}),
	}
}

func (m *Metrics) ExpenseCreated() {
	if m == nil {
		return
	}
	m.ExpensesCreated.Inc()
}

func (m *Metrics) SettlementExecuted(transfers int) {
	if m == nil {
		return
	}
	m.SettlementsExecuted.Inc()
	m.TransfersRecorded.Add(float64(transfers))
}

func (m *Metrics) Rejected(operation, reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(operation, reason).Inc()
}

// Observe records the time since start for operation.
func (m *Metrics) Observe(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) SetViolations(n int) {
	if m == nil {
		return
	}
	m.InvariantViolations.Set(float64(n))
}
