package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the overlay module.
type Metrics struct {
	Drafts    prometheus.Counter
	Publishes *prometheus.CounterVec
}

// New creates a new Metrics instance with all overlay module metrics registered.
func New() *Metrics {
	return &Metrics{
		Drafts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rulegate_overlay_drafts_total",
			Help: "Total overlay drafts created",
		}),
		Publishes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rulegate_overlay_publishes_total",
			Help: "Total overlay publishes by outcome",
		}, []string{"outcome"}), // outcome: "applied", "rejected"
	}
}

// IncrementDraft records a created draft.
func (m *Metrics) IncrementDraft() {
	if m != nil {
		m.Drafts.Inc()
	}
}

// IncrementPublish records a publish outcome.
func (m *Metrics) IncrementPublish(outcome string) {
	if m != nil {
		m.Publishes.WithLabelValues(outcome).Inc()
	}
}
