package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSalesMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSalesMetricsWithRegisterer(registry)

	m.IncOrdersStarted()
	m.IncOrdersStarted()
	m.IncOrdersCompleted()
	m.IncOrdersFailed()
	m.IncReceiptsRecorded()
	m.ObserveOrderDuration(0.25)

	require.Equal(t, float64(2), testutil.ToFloat64(m.ordersStarted))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ordersCompleted))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ordersFailed))
	require.Equal(t, float64(0), testutil.ToFloat64(m.ordersCanceled))
	require.Equal(t, float64(1), testutil.ToFloat64(m.receiptsRecorded))
	require.Equal(t, float64(0), testutil.ToFloat64(m.openOrders))
}

func TestSalesMetrics_ResumedOrdersBalanceOpenGauge(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSalesMetricsWithRegisterer(registry)

	// A resumed order enters the open gauge before its terminal transition
	// decrements it, so completing it cannot push the gauge negative.
	m.IncOrdersResumed()
	require.Equal(t, float64(1), testutil.ToFloat64(m.openOrders))

	m.IncOrdersCompleted()
	require.Equal(t, float64(1), testutil.ToFloat64(m.ordersResumed))
	require.Equal(t, float64(0), testutil.ToFloat64(m.openOrders))

	m.IncOrdersResumed()
	m.IncOrdersCanceled()
	require.Equal(t, float64(0), testutil.ToFloat64(m.openOrders))
}

func TestGatewayMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newGatewayMetricsWithRegisterer(registry)

	m.IncReconnectAttempts()
	m.SetConnected(true)

	require.Equal(t, float64(1), testutil.ToFloat64(m.reconnectAttempts))
	require.Equal(t, float64(1), testutil.ToFloat64(m.connected))

	m.SetConnected(false)
	require.Equal(t, float64(0), testutil.ToFloat64(m.connected))
}

func TestMetrics_NilSafe(t *testing.T) {
	var sm *SalesMetrics
	sm.IncOrdersStarted()
	sm.IncOrdersResumed()
	sm.IncOrdersCompleted()
	sm.IncOrdersCanceled()
	sm.IncOrdersFailed()
	sm.IncReceiptsRecorded()
	sm.ObserveOrderDuration(1)

	var gm *GatewayMetrics
	gm.IncReconnectAttempts()
	gm.SetConnected(true)
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()

	first := newSalesMetricsWithRegisterer(registry)
	second := newSalesMetricsWithRegisterer(registry)

	first.IncOrdersStarted()
	second.IncOrdersStarted()

	// Re-registration reuses the existing collectors.
	require.Equal(t, float64(2), testutil.ToFloat64(first.ordersStarted))
}
