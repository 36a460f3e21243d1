package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes exchange counters on a private Prometheus registry
// A nil *Metrics is valid and records nothing
type Metrics struct {
	registry *prometheus.Registry

	ordersCreated *prometheus.CounterVec   // type, side
	rejections    *prometheus.CounterVec   // operation, reason
	trades        *prometheus.CounterVec   // ticker
	tradeVolume   *prometheus.CounterVec   // ticker
	transfers     *prometheus.CounterVec   // direction, ticker
	bookDepth     *prometheus.GaugeVec     // ticker, side
	callLatency   *prometheus.HistogramVec // operation
}

// New creates metrics under namespace
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders accepted by the engine",
		}, []string{"type", "side"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Calls rejected by the engine",
		}, []string{"operation", "reason"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Individual matches settled",
		}, []string{"ticker"}),
		tradeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trade_volume_total",
			Help:      "Matched quantity in ticker units",
		}, []string{"ticker"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Deposits and withdrawals",
		}, []string{"direction", "ticker"}),
		bookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orderbook_orders",
			Help:      "Resting orders by ticker and side",
		}, []string{"ticker", "side"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Engine entry point latency",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"operation"}),
	}

	registry.MustRegister(
		m.ordersCreated,
		m.rejections,
		m.trades,
		m.tradeVolume,
		m.transfers,
		m.bookDepth,
		m.callLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry (tests, extra collectors)
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) OrderCreated(orderType, side string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(orderType, side).Inc()
}

func (m *Metrics) Rejected(operation, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(operation, reason).Inc()
}

func (m *Metrics) Trade(ticker string, qty uint64) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(ticker).Inc()
	m.tradeVolume.WithLabelValues(ticker).Add(float64(qty))
}

func (m *Metrics) Transfer(direction, ticker string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(direction, ticker).Inc()
}

func (m *Metrics) BookDepth(ticker, side string, orders int) {
	if m == nil {
		return
	}
	m.bookDepth.WithLabelValues(ticker, side).Set(float64(orders))
}

// ObserveCall records how long an entry point took
func (m *Metrics) ObserveCall(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.callLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
