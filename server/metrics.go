package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pior/minicache/protocol"
	"github.com/pior/minicache/store"
)

// Metrics holds the Prometheus collectors of a server.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	commands      *prometheus.CounterVec
	connsCurrent  prometheus.Gauge
	connsTotal    prometheus.Counter
	connsRejected prometheus.Counter
}

// NewMetrics creates the server collectors on a fresh registry. The store
// gauges read st on every scrape.
func NewMetrics(st *store.Store) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minicache_commands_total",
				Help: "Total number of commands processed",
			},
			[]string{"verb", "result"},
		),
		connsCurrent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "minicache_connections_current",
				Help: "Number of open client connections",
			},
		),
		connsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "minicache_connections_total",
				Help: "Total client connections accepted",
			},
		),
		connsRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "minicache_connections_rejected_total",
				Help: "Client connections refused because every slot was busy",
			},
		),
	}

	registry.MustRegister(
		m.commands,
		m.connsCurrent,
		m.connsTotal,
		m.connsRejected,
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "minicache_items",
				Help: "Number of live items",
			},
			func() float64 { return float64(st.Len()) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "minicache_get_hits_total",
				Help: "Total get/gets requests that found their key",
			},
			func() float64 { return float64(st.Hits()) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "minicache_get_misses_total",
				Help: "Total get/gets requests that missed",
			},
			func() float64 { return float64(st.Misses()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "minicache_memory_bytes",
				Help: "Approximate bytes held by keys and values",
			},
			func() float64 { return float64(st.MemSize()) },
		),
	)

	return m
}

// Registry returns the registry holding every server collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) recordCommand(verb protocol.Verb, status protocol.Status) {
	if m == nil {
		return
	}
	label := string(verb)
	if !verb.IsKnown() {
		label = "unknown"
	}
	m.commands.WithLabelValues(label, string(status)).Inc()
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connsTotal.Inc()
	m.connsCurrent.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.connsCurrent.Dec()
}

func (m *Metrics) connRejected() {
	if m == nil {
		return
	}
	m.connsRejected.Inc()
}
