// Package metrics exposes Prometheus instrumentation for the copier.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector on its own registry so tests can build
// isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	SignalsReceived prometheus.Counter
	SignalsRejected prometheus.Counter
	OrdersSubmitted prometheus.Counter
	OrdersFailed    prometheus.Counter
	ReconcileTicks  prometheus.Counter
	ActionsApplied  *prometheus.CounterVec
	ActionsFailed   *prometheus.CounterVec
	ManagedTickets  prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SignalsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradecopy_signals_received_total",
			Help: "Parsed signals accepted for execution.",
		}),
		SignalsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradecopy_signals_rejected_total",
			Help: "Inbound signal payloads rejected before execution.",
		}),
		OrdersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradecopy_orders_submitted_total",
			Help: "Orders the venue accepted.",
		}),
		OrdersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradecopy_orders_failed_total",
			Help: "Order submissions the venue rejected.",
		}),
		ReconcileTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradecopy_reconcile_ticks_total",
			Help: "Completed reconciliation iterations.",
		}),
		ActionsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecopy_actions_applied_total",
			Help: "Corrective actions applied, by kind.",
		}, []string{"kind"}),
		ActionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecopy_actions_failed_total",
			Help: "Corrective actions the venue rejected, by kind.",
		}, []string{"kind"}),
		ManagedTickets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradecopy_managed_tickets",
			Help: "Tickets currently under management.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		m.SignalsReceived,
		m.SignalsRejected,
		m.OrdersSubmitted,
		m.OrdersFailed,
		m.ReconcileTicks,
		m.ActionsApplied,
		m.ActionsFailed,
		m.ManagedTickets,
	)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
