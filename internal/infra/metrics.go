package infra

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	generations   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	statusEvents  *prometheus.CounterVec
	streamsActive prometheus.Gauge
}

// NewMetrics registers the collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generation requests by backend, route and outcome",
		}, []string{"backend", "route", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Generation latency by backend and route",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		}, []string{"backend", "route"}),
		statusEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_events_total",
			Help:      "Status events published by type",
		}, []string{"type"}),
		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status_streams_active",
			Help:      "Open status event streams",
		}),
	}
	m.registry.MustRegister(
		m.generations,
		m.latency,
		m.statusEvents,
		m.streamsActive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveGeneration(backend, route, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(backend, route, outcome).Inc()
	m.latency.WithLabelValues(backend, route).Observe(durationSeconds)
}

func (m *Metrics) ObserveStatusEvent(eventType string) {
	if m == nil {
		return
	}
	m.statusEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.streamsActive.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.streamsActive.Dec()
}

// Handler returns an HTTP handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
