// Package metrics exposes the evolution subsystem's counters and
// histograms. It never starts an HTTP server itself - Registry returns a
// *prometheus.Registry for the embedding application to serve however it
// sees fit.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the evolution subsystem's observability surface.
type Metrics struct {
	registry *prometheus.Registry

	AttemptsTotal   *prometheus.CounterVec
	AcceptedTotal   prometheus.Counter
	RejectedTotal   prometheus.Counter
	LLMLatency      prometheus.Histogram
	ValidationScore prometheus.Histogram
}

// New builds a fresh, independently-registered Metrics instance.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sovereign_evolution_attempts_total",
			Help: "Evolve calls started, labeled by the error category of the failure text.",
		}, []string{"category"}),
		AcceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sovereign_evolution_accepted_total",
			Help: "Candidate fixes accepted by sandbox validation.",
		}),
		RejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sovereign_evolution_rejected_total",
			Help: "Candidate fixes rejected by sandbox validation.",
		}),
		LLMLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sovereign_evolution_llm_latency_seconds",
			Help:    "Latency of Ollama chat calls.",
			Buckets: prometheus.DefBuckets,
		}),
		ValidationScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sovereign_evolution_validation_score",
			Help:    "Weighted sandbox validation scores.",
			Buckets: []float64{0, 0.2, 0.4, 0.6, 0.7, 0.8, 1.0},
		}),
	}

	reg.MustRegister(m.AttemptsTotal, m.AcceptedTotal, m.RejectedTotal, m.LLMLatency, m.ValidationScore)
	return m
}

// Registry returns the underlying prometheus registry for the embedding
// process to serve (no HTTP server is started here).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
