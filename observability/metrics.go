package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"veilmarket/core/events"
)

// EventMetrics counts emitted domain events by type. It satisfies the engine
// emitter interface so wiring it is a one-line SetEmitter call.
type EventMetrics struct {
	emitted *prometheus.CounterVec
}

// NewEventMetrics registers the event counter with reg and returns the
// collector.
func NewEventMetrics(reg prometheus.Registerer) *EventMetrics {
	m := &EventMetrics{
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veilmarket",
			Subsystem: "escrow",
			Name:      "events_total",
			Help:      "Domain events emitted by the settlement engine, by type.",
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(m.emitted)
	}
	return m
}

// Emit increments the counter for the event's type.
func (m *EventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.emitted.WithLabelValues(evt.EventType()).Inc()
}
