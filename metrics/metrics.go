// Package metrics exposes prometheus collectors for the purchase lifecycle.
// All collectors are nil-safe: a nil receiver disables recording, so wiring
// metrics is optional everywhere.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type SalesMetrics struct {
	ordersStarted    prometheus.Counter
	ordersResumed    prometheus.Counter
	ordersCompleted  prometheus.Counter
	ordersCanceled   prometheus.Counter
	ordersFailed     prometheus.Counter
	receiptsRecorded prometheus.Counter
	openOrders       prometheus.Gauge
	orderDuration    prometheus.Histogram
}

func NewSalesMetrics() *SalesMetrics {
	return newSalesMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newSalesMetricsWithRegisterer(registerer prometheus.Registerer) *SalesMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SalesMetrics{
		ordersStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "billingz_orders_started_total",
			Help: "Total number of purchase orders started",
		}),
		ordersResumed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "billingz_orders_resumed_total",
			Help: "Total number of in-progress orders discovered by history queries",
		}),
		ordersCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "billingz_orders_completed_total",
			Help: "Total number of orders reaching the complete state",
		}),
		ordersCanceled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "billingz_orders_canceled_total",
			Help: "Total number of orders reaching the canceled state",
		}),
		ordersFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "billingz_orders_failed_total",
			Help: "Total number of orders reaching the failed state",
		}),
		receiptsRecorded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "billingz_receipts_recorded_total",
			Help: "Total number of receipts inserted into the ledger",
		}),
		openOrders: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "billingz_open_orders",
			Help: "Number of orders currently in a non-terminal state",
		}),
		orderDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "billingz_order_duration_seconds",
			Help:    "Time from order start to a terminal state",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *SalesMetrics) IncOrdersStarted() {
	if m == nil {
		return
	}
	m.ordersStarted.Inc()
	m.openOrders.Inc()
}

// IncOrdersResumed counts an in-progress order surfaced by a history query.
// Resumed orders enter the open-orders gauge the same way started ones do, so
// their terminal transitions balance out.
func (m *SalesMetrics) IncOrdersResumed() {
	if m == nil {
		return
	}
	m.ordersResumed.Inc()
	m.openOrders.Inc()
}

func (m *SalesMetrics) IncOrdersCompleted() {
	if m == nil {
		return
	}
	m.ordersCompleted.Inc()
	m.openOrders.Dec()
}

func (m *SalesMetrics) IncOrdersCanceled() {
	if m == nil {
		return
	}
	m.ordersCanceled.Inc()
	m.openOrders.Dec()
}

func (m *SalesMetrics) IncOrdersFailed() {
	if m == nil {
		return
	}
	m.ordersFailed.Inc()
	m.openOrders.Dec()
}

func (m *SalesMetrics) IncReceiptsRecorded() {
	if m == nil {
		return
	}
	m.receiptsRecorded.Inc()
}

func (m *SalesMetrics) ObserveOrderDuration(seconds float64) {
	if m == nil {
		return
	}
	m.orderDuration.Observe(seconds)
}

type GatewayMetrics struct {
	reconnectAttempts prometheus.Counter
	connected         prometheus.Gauge
}

func NewGatewayMetrics() *GatewayMetrics {
	return newGatewayMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newGatewayMetricsWithRegisterer(registerer prometheus.Registerer) *GatewayMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &GatewayMetrics{
		reconnectAttempts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "billingz_gateway_reconnect_attempts_total",
			Help: "Total number of scheduled reconnect attempts",
		}),
		connected: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "billingz_gateway_connected",
			Help: "Whether the billing connection is currently established",
		}),
	}
}

func (m *GatewayMetrics) IncReconnectAttempts() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *GatewayMetrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

// registerCounter registers the counter, reusing an existing collector when
// one with the same name is already registered.
func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	if err := registerer.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(prometheus.Counter)
		}
		panic(err)
	}
	return c
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	g := prometheus.NewGauge(opts)
	if err := registerer.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(prometheus.Gauge)
		}
		panic(err)
	}
	return g
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	h := prometheus.NewHistogram(opts)
	if err := registerer.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(prometheus.Histogram)
		}
		panic(err)
	}
	return h
}
