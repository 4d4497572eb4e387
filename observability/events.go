package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"aphdex/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry counting exchange notifications.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = newEventMetrics(prometheus.DefaultRegisterer)
	})
	return eventRegistry
}

func newEventMetrics(reg prometheus.Registerer) *eventMetrics {
	m := &eventMetrics{
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aphdex",
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Exchange notifications segmented by leading tag.",
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(m.emitted)
	}
	return m
}

// Emit counts the event. It lets the registry sit in an events.Multi.
func (m *eventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	typ := strings.TrimSpace(evt.EventType())
	if typ == "" {
		typ = "unknown"
	}
	m.emitted.WithLabelValues(typ).Inc()
}
