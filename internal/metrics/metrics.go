// Package metrics exposes pipeline counters in Prometheus format. All
// methods are safe on a nil *Metrics so components can run unmetered.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gmailvault"

// Metrics owns a registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	messages      *prometheus.CounterVec
	pages         *prometheus.CounterVec
	retries       *prometheus.CounterVec
	enrichItems   *prometheus.CounterVec
	enrichBatches *prometheus.CounterVec
	jobs          *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobDuration   *prometheus.HistogramVec
	notes         *prometheus.CounterVec
}

// New creates a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "messages_total",
			Help:      "Messages handled by the fetch cursor, by account and outcome.",
		}, []string{"account", "outcome"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "pages_total",
			Help:      "Message listing pages processed, by account.",
		}, []string{"account"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Retried provider calls, by operation.",
		}, []string{"operation"}),
		enrichItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "items_total",
			Help:      "Enrichment results, by outcome (parsed or defaulted).",
		}, []string{"outcome"}),
		enrichBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "batches_total",
			Help:      "Enrichment batches, by final state.",
		}, []string{"state"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"status"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "running",
			Help:      "Jobs currently executing in this process.",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "phase_duration_seconds",
			Help:      "Wall time spent in each job phase.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"phase"}),
		notes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "notes_written_total",
			Help:      "Notes written to the vault, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messages, m.pages, m.retries,
		m.enrichItems, m.enrichBatches,
		m.jobs, m.jobsRunning, m.jobDuration,
		m.notes,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// FetchPage records one processed listing page.
func (m *Metrics) FetchPage(account string, inserted, skipped, failed int) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(account).Inc()
	m.messages.WithLabelValues(account, "inserted").Add(float64(inserted))
	m.messages.WithLabelValues(account, "skipped").Add(float64(skipped))
	m.messages.WithLabelValues(account, "failed").Add(float64(failed))
}

// Retry records a retried provider call.
func (m *Metrics) Retry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

// EnrichmentBatch records a finished batch and its per-item outcomes.
func (m *Metrics) EnrichmentBatch(state string, parsed, defaulted int) {
	if m == nil {
		return
	}
	m.enrichBatches.WithLabelValues(state).Inc()
	m.enrichItems.WithLabelValues("parsed").Add(float64(parsed))
	m.enrichItems.WithLabelValues("defaulted").Add(float64(defaulted))
}

// JobStarted increments the running gauge.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsRunning.Inc()
}

// JobFinished decrements the running gauge and counts the terminal status.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsRunning.Dec()
	m.jobs.WithLabelValues(status).Inc()
}

// PhaseDuration observes how long a phase took.
func (m *Metrics) PhaseDuration(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// NotesWritten counts notes of one kind.
func (m *Metrics) NotesWritten(kind string, n int) {
	if m == nil {
		return
	}
	m.notes.WithLabelValues(kind).Add(float64(n))
}
