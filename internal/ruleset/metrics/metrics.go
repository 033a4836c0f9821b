package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ruleset module.
type Metrics struct {
	Uploads            *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	TransitionLatency  prometheus.Histogram
	ValidationFailures prometheus.Counter
}

// New creates a new Metrics instance with all ruleset module metrics registered.
func New() *Metrics {
	return &Metrics{
		Uploads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rulegate_ruleset_uploads_total",
			Help: "Total ruleset uploads by outcome",
		}, []string{"outcome"}), // outcome: "stored", "rejected"

		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rulegate_ruleset_transitions_total",
			Help: "Total activation transitions by kind and outcome",
		}, []string{"kind", "outcome"}), // kind: "publish", "rollback"

		TransitionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rulegate_ruleset_transition_duration_seconds",
			Help:    "Duration of publish/rollback transitions including store swap and audit writes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		ValidationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rulegate_ruleset_validation_failures_total",
			Help: "Total uploads rejected by content validation",
		}),
	}
}

// IncrementUpload records an upload outcome.
func (m *Metrics) IncrementUpload(outcome string) {
	if m != nil {
		m.Uploads.WithLabelValues(outcome).Inc()
	}
}

// IncrementTransition records a publish/rollback outcome.
func (m *Metrics) IncrementTransition(kind, outcome string) {
	if m != nil {
		m.Transitions.WithLabelValues(kind, outcome).Inc()
	}
}

// ObserveTransitionLatency records the duration of a transition.
func (m *Metrics) ObserveTransitionLatency(d time.Duration) {
	if m != nil {
		m.TransitionLatency.Observe(d.Seconds())
	}
}

// IncrementValidationFailure records a rejected upload.
func (m *Metrics) IncrementValidationFailure() {
	if m != nil {
		m.ValidationFailures.Inc()
	}
}
