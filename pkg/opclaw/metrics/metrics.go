// Package metrics exposes Prometheus collectors for the command router and
// serves them together with a health endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "opclaw"

// Metrics holds the router's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	utterances   *prometheus.CounterVec
	dispatches   *prometheus.CounterVec
	syntheses    *prometheus.CounterVec
	modelErrors  *prometheus.CounterVec
	ignoredCalls prometheus.Counter
	sessions     prometheus.Gauge
	modelLatency *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, along with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		utterances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Operator utterances by resolution kind.",
		}, []string{"kind"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Capability dispatches by tool and outcome.",
		}, []string{"tool", "outcome"}),
		syntheses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syntheses_total",
			Help:      "Synthesized action programs by verdict.",
		}, []string{"verdict"}),
		modelErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_errors_total",
			Help:      "Language model failures by operation and error kind.",
		}, []string{"op", "kind"}),
		ignoredCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ignored_calls_total",
			Help:      "Extra tool calls dropped because only the first call is honored.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Live conversation sessions.",
		}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_latency_seconds",
			Help:      "Language model call latency by operation.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		m.utterances, m.dispatches, m.syntheses, m.modelErrors,
		m.ignoredCalls, m.sessions, m.modelLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Utterance counts one classified utterance.
func (m *Metrics) Utterance(kind string) {
	if m == nil {
		return
	}
	m.utterances.WithLabelValues(kind).Inc()
}

// Dispatch counts one capability dispatch.
func (m *Metrics) Dispatch(tool, outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(tool, outcome).Inc()
}

// Synthesis counts one synthesized program by verdict.
func (m *Metrics) Synthesis(verdict string) {
	if m == nil {
		return
	}
	m.syntheses.WithLabelValues(verdict).Inc()
}

// ModelError counts one failed model call.
func (m *Metrics) ModelError(op, kind string) {
	if m == nil {
		return
	}
	m.modelErrors.WithLabelValues(op, kind).Inc()
}

// IgnoredCalls adds n dropped tool calls.
func (m *Metrics) IgnoredCalls(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ignoredCalls.Add(float64(n))
}

// SetSessions records the live session count.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// ObserveModel records the latency of one model call.
func (m *Metrics) ObserveModel(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.modelLatency.WithLabelValues(op).Observe(d.Seconds())
}
