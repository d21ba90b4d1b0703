package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserversUpdateCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveOrder("SOL-USDC", "accepted")
	m.ObserveOrder("SOL-USDC", "accepted")
	m.ObserveMatch("SOL-USDC", 3, time.Millisecond)
	m.ObserveExecution("bundle", "confirmed", 2, time.Second)
	m.ObserveExecution("", "rate_limited", 0, 0)
	m.PositionOpened()
	m.PositionOpened()
	m.PositionClosed("take_profit")
	m.RiskRejected("max_order_size")

	require.Equal(t, 2.0, testutil.ToFloat64(m.OrdersTotal.WithLabelValues("SOL-USDC", "accepted")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.FillsTotal.WithLabelValues("SOL-USDC")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("none", "rate_limited")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.PositionsOpen))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RiskViolations.WithLabelValues("max_order_size")))

	n, err := testutil.GatherAndCount(reg, "tradingbot_execution_executions_total")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestNilRegistererSkipsRegistration(t *testing.T) {
	require.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}
