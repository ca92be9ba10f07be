package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"stablecore/core/events"
)

// EventMetrics counts emitted engine events by type. It satisfies
// events.Emitter so it can sit in an emitter fanout next to the journal.
type EventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the lazily-initialised event counters registered with the
// default Prometheus registry.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = NewEventMetrics(prometheus.DefaultRegisterer)
	})
	return eventRegistry
}

// NewEventMetrics builds the event counter and registers it with reg.
func NewEventMetrics(reg prometheus.Registerer) *EventMetrics {
	m := &EventMetrics{
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stablecore",
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Count of engine events segmented by type.",
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(m.emitted)
	}
	return m
}

// Emit implements events.Emitter.
func (m *EventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.emitted.WithLabelValues(labelOr(strings.ToLower(strings.TrimSpace(evt.EventType())), "unknown")).Inc()
}
