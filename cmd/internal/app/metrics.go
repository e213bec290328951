package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the process-level counters exposed on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	MessagesSent    prometheus.Counter
	FanoutDelivered prometheus.Counter
	FanoutDropped   prometheus.Counter
	StatFailures    *prometheus.CounterVec
}

// NewMetrics builds a fresh registry with go/process collectors plus the
// courier counters.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "messages_sent_total",
			Help:      "Messages accepted and persisted.",
		}),
		FanoutDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "fanout_delivered_total",
			Help:      "Realtime pushes enqueued to live sessions.",
		}),
		FanoutDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "fanout_dropped_total",
			Help:      "Realtime pushes dropped under backpressure.",
		}),
		StatFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "stat_failures_total",
			Help:      "Dashboard aggregate queries that degraded to zero.",
		}, []string{"op"}),
	}

	reg.MustRegister(m.MessagesSent, m.FanoutDelivered, m.FanoutDropped, m.StatFailures)
	return m
}

// Handler returns the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
