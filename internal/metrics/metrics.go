// Package metrics holds the prometheus collectors for jobs, the scheduler and
// backend health. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeHandled   = "handled"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	reg *prometheus.Registry

	jobs            *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	entriesSched    *prometheus.CounterVec
	entriesPromoted *prometheus.CounterVec
	backendErrors   *prometheus.CounterVec
	workersActive   prometheus.Gauge
}

// New registers every collector on a private registry, plus the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobloop_jobs_total",
			Help: "Jobs performed, by queue, class and outcome.",
		}, []string{"queue", "class", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobloop_job_duration_seconds",
			Help:    "Time spent in the job lifecycle.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue", "class"}),
		entriesSched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobloop_entries_scheduled_total",
			Help: "Delayed entries written by populate and reschedule.",
		}, []string{"class"}),
		entriesPromoted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobloop_entries_promoted_total",
			Help: "Due entries moved to a ready queue.",
		}, []string{"queue"}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobloop_backend_errors_total",
			Help: "Backend calls that failed, by component.",
		}, []string{"component"}),
		workersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobloop_workers_active",
			Help: "Worker units currently polling in this process.",
		}),
	}
	m.reg.MustRegister(
		m.jobs, m.jobDuration, m.entriesSched, m.entriesPromoted, m.backendErrors, m.workersActive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the private registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) JobDone(queue, class, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(queue, class, outcome).Inc()
	m.jobDuration.WithLabelValues(queue, class).Observe(took.Seconds())
}

func (m *Metrics) EntryScheduled(class string) {
	if m == nil {
		return
	}
	m.entriesSched.WithLabelValues(class).Inc()
}

func (m *Metrics) EntriesPromoted(queue string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.entriesPromoted.WithLabelValues(queue).Add(float64(n))
}

func (m *Metrics) BackendError(component string) {
	if m == nil {
		return
	}
	m.backendErrors.WithLabelValues(component).Inc()
}

func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.workersActive.Inc()
}

func (m *Metrics) WorkerStopped() {
	if m == nil {
		return
	}
	m.workersActive.Dec()
}
