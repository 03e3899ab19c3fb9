package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts agent activity. A private registry keeps the admin
// endpoint limited to what the agent registers itself.
type Metrics struct {
	registry *prometheus.Registry
	queries  *prometheus.CounterVec
	probes   prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memquery_queries_total",
			Help: "Memory queries answered, by surface and outcome.",
		}, []string{"surface", "outcome"}),
		probes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memquery_probe_connections_total",
			Help: "TCP probe connections answered.",
		}),
	}
	reg.MustRegister(m.queries, m.probes)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return m
}

func (m *Metrics) ObserveQuery(surface, outcome string) {
	m.queries.WithLabelValues(surface, outcome).Inc()
}

func (m *Metrics) ObserveProbe() {
	m.probes.Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
