package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates the engine's Prometheus instruments. Register one
// instance per process; tests pass their own registry.
type Metrics struct {
	Deliberations *prometheus.CounterVec
	ProviderCalls *prometheus.CounterVec
	PhaseDuration *prometheus.HistogramVec
	Fallbacks     prometheus.Counter
}

// NewMetrics builds and registers the instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Deliberations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Name:      "deliberations_total",
			Help:      "Completed deliberations by outcome.",
		}, []string{"outcome"}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Name:      "provider_calls_total",
			Help:      "Provider generate calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quorum",
			Name:      "phase_duration_seconds",
			Help:      "Wall time per deliberation phase.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"phase"}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quorum",
			Name:      "fallback_responses_total",
			Help:      "Responses substituted with fallback text after retry exhaustion.",
		}),
	}
	reg.MustRegister(m.Deliberations, m.ProviderCalls, m.PhaseDuration, m.Fallbacks)
	return m
}

func (m *Metrics) deliberation(outcome string) {
	if m != nil {
		m.Deliberations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) providerCall(provider, outcome string) {
	if m != nil {
		m.ProviderCalls.WithLabelValues(provider, outcome).Inc()
	}
}

func (m *Metrics) phaseDuration(phase string, seconds float64) {
	if m != nil {
		m.PhaseDuration.WithLabelValues(phase).Observe(seconds)
	}
}

func (m *Metrics) fallback() {
	if m != nil {
		m.Fallbacks.Inc()
	}
}
