package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/warp/group-ledger/metrics"
)

func TestMetrics_Counts(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.ExpenseCreated()
	m.ExpenseCreated()
	m.SettlementExecuted(3)
	m.Rejected("create_expense", "split_mismatch")
	m.SetViolations(1)
	m.Observe("create_expense", time.Now())

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ExpensesCreated))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SettlementsExecuted))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.TransfersRecorded))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Rejections.WithLabelValues("create_expense", "split_mismatch")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InvariantViolations))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ExpenseCreated()
		m.SettlementExecuted(2)
		m.Rejected("x", "y")
		m.Observe("x", time.Now())
		m.SetViolations(0)
	})
}
