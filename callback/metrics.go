package callback

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes dispatcher counters. All methods are nil-safe so the
// dispatcher works without a metrics registration.
type Metrics struct {
	eventsTotal   *prometheus.CounterVec
	failuresTotal *prometheus.CounterVec
	circuitOpens  *prometheus.CounterVec
}

// NewMetrics registers the dispatcher metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phaseflow",
			Subsystem: "callback",
			Name:      "events_total",
			Help:      "Events dispatched per hook.",
		}, []string{"hook"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phaseflow",
			Subsystem: "callback",
			Name:      "handler_failures_total",
			Help:      "Handler failures counted by the circuit breaker, per hook.",
		}, []string{"hook"}),
		circuitOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phaseflow",
			Subsystem: "callback",
			Name:      "circuit_opens_total",
			Help:      "Circuit-open transitions per hook.",
		}, []string{"hook"}),
	}
	reg.MustRegister(m.eventsTotal, m.failuresTotal, m.circuitOpens)
	return m
}

func (m *Metrics) incEvent(hook string) {
	if m != nil {
		m.eventsTotal.WithLabelValues(hook).Inc()
	}
}

func (m *Metrics) incFailure(hook string) {
	if m != nil {
		m.failuresTotal.WithLabelValues(hook).Inc()
	}
}

func (m *Metrics) incCircuitOpen(hook string) {
	if m != nil {
		m.circuitOpens.WithLabelValues(hook).Inc()
	}
}
