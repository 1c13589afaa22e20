// Package metrics exposes backtest progress as Prometheus metrics.
package metrics

import (
	"net/http"

	"backtest-engine-go/internal/broker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the run's Prometheus collectors. It observes the broker.
type Metrics struct {
	registry *prometheus.Registry

	OrdersSubmitted prometheus.Counter
	Fills           *prometheus.CounterVec // labels: sec_type, action
	Cancels         prometheus.Counter
	Expiries        prometheus.Counter
	CashBalance     prometheus.Gauge
	SimulatedTime   prometheus.Gauge // unix seconds of the last event
}

var _ broker.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors on a registry of their own.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OrdersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_orders_submitted_total",
			Help: "Total orders placed with the simulated broker",
		}),
		Fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_fills_total",
			Help: "Total trades filled",
		}, []string{"sec_type", "action"}),
		Cancels: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_cancels_total",
			Help: "Total trades cancelled",
		}),
		Expiries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_expiries_total",
			Help: "Total trades forced by contract expiry",
		}),
		CashBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_cash_balance",
			Help: "Simulated account cash balance",
		}),
		SimulatedTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_simulated_time_seconds",
			Help: "Simulated time of the last trade event",
		}),
	}

	m.registry.MustRegister(
		m.OrdersSubmitted,
		m.Fills,
		m.Cancels,
		m.Expiries,
		m.CashBalance,
		m.SimulatedTime,
	)
	return m
}

// OnTradeEvent updates the collectors from a broker event.
func (m *Metrics) OnTradeEvent(ev broker.TradeEvent) {
	switch ev.Kind {
	case broker.EventSubmitted:
		m.OrdersSubmitted.Inc()
	case broker.EventFilled:
		m.Fills.WithLabelValues(string(ev.Trade.Contract.SecType), string(ev.Trade.Order.Action)).Inc()
	case broker.EventCancelled:
		m.Cancels.Inc()
	}
	if ev.Expiry {
		m.Expiries.Inc()
	}
	m.CashBalance.Set(ev.CashBalance)
	m.SimulatedTime.Set(float64(ev.Time.Unix()))
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
