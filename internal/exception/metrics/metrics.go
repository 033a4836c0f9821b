package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the exception module.
type Metrics struct {
	Creates *prometheus.CounterVec
	Deletes prometheus.Counter
}

// New creates a new Metrics instance with all exception module metrics registered.
func New() *Metrics {
	return &Metrics{
		Creates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rulegate_exception_creates_total",
			Help: "Total exceptions created by effect",
		}, []string{"effect"}),
		Deletes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rulegate_exception_deletes_total",
			Help: "Total exceptions deleted",
		}),
	}
}

// IncrementCreate records a created exception.
func (m *Metrics) IncrementCreate(effect string) {
	if m != nil {
		m.Creates.WithLabelValues(effect).Inc()
	}
}

// IncrementDelete records a deleted exception.
func (m *Metrics) IncrementDelete() {
	if m != nil {
		m.Deletes.Inc()
	}
}
