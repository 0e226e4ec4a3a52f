// Package metrics exposes Prometheus collectors for admission decisions and
// the job lifecycle.
//
// Metric families:
//
//	imagebot_admissions_total{result,reason}   admission decisions
//	imagebot_jobs_submitted_total{kind}        jobs accepted by the provider
//	imagebot_jobs_finalized_total{kind,status} terminal outcomes
//	imagebot_jobs_cancelled_total              jobs abandoned by cancel/shutdown
//	imagebot_jobs_in_flight                    jobs currently tracked
//	imagebot_job_duration_seconds{status}      submit to terminal latency
//	imagebot_provider_fetch_total{outcome}     poll calls against the provider
//	imagebot_tasks_purged_total                rows removed by retention
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imagebot"

// Metrics groups every collector the service records into.
type Metrics struct {
	registry *prometheus.Registry

	admissions    *prometheus.CounterVec
	jobsSubmitted *prometheus.CounterVec
	jobsFinalized *prometheus.CounterVec
	jobsCancelled prometheus.Counter
	jobsInFlight  prometheus.Gauge
	jobDuration   *prometheus.HistogramVec
	fetchCalls    *prometheus.CounterVec
	tasksPurged   prometheus.Counter
}

// New registers all collectors on a fresh registry. Go runtime and process
// collectors are included when withRuntime is set.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		admissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Admission decisions by result and denial reason.",
		}, []string{"result", "reason"}),
		jobsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted by the generation provider.",
		}, []string{"kind"}),
		jobsFinalized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finalized_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"kind", "status"}),
		jobsCancelled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_cancelled_total",
			Help:      "Jobs abandoned before a terminal status.",
		}),
		jobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently tracked by the orchestrator.",
		}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from submission to terminal status.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		fetchCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fetch_total",
			Help:      "Provider poll calls by outcome.",
		}, []string{"outcome"}),
		tasksPurged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_purged_total",
			Help:      "Task records deleted by retention sweeps.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordAdmission(admitted bool, reason string) {
	if m == nil {
		return
	}
	result := "denied"
	if admitted {
		result = "admitted"
	}
	m.admissions.WithLabelValues(result, reason).Inc()
}

func (m *Metrics) RecordSubmitted(kind string) {
	if m == nil {
		return
	}
	m.jobsSubmitted.WithLabelValues(kind).Inc()
}

// JobStarted is called once per tracked job; JobFinished or JobCancelled
// must follow exactly once.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsInFlight.Inc()
}

func (m *Metrics) JobFinished(kind, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.jobsInFlight.Dec()
	m.jobsFinalized.WithLabelValues(kind, status).Inc()
	m.jobDuration.WithLabelValues(status).Observe(took.Seconds())
}

func (m *Metrics) JobCancelled() {
	if m == nil {
		return
	}
	m.jobsInFlight.Dec()
	m.jobsCancelled.Inc()
}

func (m *Metrics) RecordFetch(outcome string) {
	if m == nil {
		return
	}
	m.fetchCalls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.tasksPurged.Add(float64(n))
}
