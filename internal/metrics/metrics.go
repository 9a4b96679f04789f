// Package metrics exposes Prometheus collectors for notification runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors recorded by the pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	runs        *prometheus.CounterVec
	newEvents   prometheus.Counter
	deliveries  *prometheus.CounterVec
	runDuration prometheus.Histogram
	seenEvents  prometheus.Gauge
	lastSuccess prometheus.Gauge
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticket_bot",
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome",
		}, []string{"outcome"}),
		newEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ticket_bot",
			Name:      "new_events_total",
			Help:      "Events announced for the first time",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticket_bot",
			Name:      "deliveries_total",
			Help:      "Notification sends by status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ticket_bot",
			Name:      "run_duration_seconds",
			Help:      "Time spent in a pipeline run",
			Buckets:   prometheus.DefBuckets,
		}),
		seenEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ticket_bot",
			Name:      "seen_events",
			Help:      "Size of the seen set after the last successful save",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ticket_bot",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last run that finished without error",
		}),
	}

	m.reg.MustRegister(
		m.runs, m.newEvents, m.deliveries,
		m.runDuration, m.seenEvents, m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveRun records a finished run. Outcome is the run outcome, or "error".
func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
	if outcome != "error" {
		m.lastSuccess.SetToCurrentTime()
	}
}

// AddNewEvents counts newly announced events.
func (m *Metrics) AddNewEvents(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.newEvents.Add(float64(n))
}

// AddDeliveries counts sends by result.
func (m *Metrics) AddDeliveries(succeeded, failed int) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues("ok").Add(float64(succeeded))
	m.deliveries.WithLabelValues("failed").Add(float64(failed))
}

// SetSeen records the size of the persisted seen set.
func (m *Metrics) SetSeen(n int) {
	if m == nil {
		return
	}
	m.seenEvents.Set(float64(n))
}
