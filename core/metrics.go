package core

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeApplied   = "applied"
	outcomeDiscarded = "discarded"
)

// Metrics is safe to use as a nil pointer.
type Metrics struct {
	authEvents *prometheus.CounterVec
	failures   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "juxction",
			Name:      "auth_events_total",
			Help:      "Auth state changes seen by the reconciler.",
		}, []string{"event", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "juxction",
			Name:      "best_effort_failures_total",
			Help:      "Failed best-effort operations by name.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.authEvents, m.failures)
	}
	return m
}

func (m *Metrics) event(event AuthEvent, outcome string) {
	if m == nil {
		return
	}
	m.authEvents.WithLabelValues(string(event), outcome).Inc()
}

func (m *Metrics) failure(op string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(op).Inc()
}
