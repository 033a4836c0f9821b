package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the policy resolver.
type Metrics struct {
	Resolves       *prometheus.CounterVec
	ResolveLatency prometheus.Histogram
	Adjustments    *prometheus.CounterVec
}

// New creates a new Metrics instance with all resolver metrics registered.
func New() *Metrics {
	return &Metrics{
		Resolves: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rulegate_resolver_resolves_total",
			Help: "Total resolve calls by outcome",
		}, []string{"outcome"}), // outcome: "ok", "degraded", "no_active_ruleset", "invalid_scope"

		ResolveLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rulegate_resolver_duration_seconds",
			Help:    "Duration of resolve calls including prefetch and composition",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		Adjustments: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rulegate_resolver_adjustments_total",
			Help: "Total result adjustments by kind",
		}, []string{"kind"}), // kind: "waive", "downgrade", "override", "overlay"
	}
}

// IncrementResolve records a resolve outcome.
func (m *Metrics) IncrementResolve(outcome string) {
	if m != nil {
		m.Resolves.WithLabelValues(outcome).Inc()
	}
}

// ObserveResolveLatency records the duration of a resolve call.
func (m *Metrics) ObserveResolveLatency(d time.Duration) {
	if m != nil {
		m.ResolveLatency.Observe(d.Seconds())
	}
}

// IncrementAdjustment records one applied adjustment.
func (m *Metrics) IncrementAdjustment(kind string) {
	if m != nil {
		m.Adjustments.WithLabelValues(kind).Inc()
	}
}
