// Package metrics exposes relay outcome counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dealrelay"

// Metrics holds the relay counters. A nil *Metrics records nothing, so
// callers never need to check whether metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	fileRelays *prometheus.CounterVec
	noteRelays *prometheus.CounterVec
	archives   *prometheus.CounterVec
}

// New creates the counters on a private registry alongside the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fileRelays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "file_relays_total",
				Help:      "Shared Slack files processed, by result.",
			},
			[]string{"result"},
		),
		noteRelays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "note_relays_total",
				Help:      "Note-trigger reactions processed, by outcome.",
			},
			[]string{"outcome"},
		),
		archives: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_actions_total",
				Help:      "Archive flow steps, by result.",
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		m.fileRelays,
		m.noteRelays,
		m.archives,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// FileRelay counts one processed file share.
func (m *Metrics) FileRelay(result string) {
	if m == nil {
		return
	}
	m.fileRelays.WithLabelValues(result).Inc()
}

// NoteRelay counts one note relay outcome.
func (m *Metrics) NoteRelay(outcome string) {
	if m == nil {
		return
	}
	m.noteRelays.WithLabelValues(outcome).Inc()
}

// Archive counts one archive flow step.
func (m *Metrics) Archive(result string) {
	if m == nil {
		return
	}
	m.archives.WithLabelValues(result).Inc()
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
