// Package metrics exposes Prometheus collectors for the dashboard engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	pollTicks     prometheus.Counter
	pollResults   *prometheus.CounterVec
	commands      *prometheus.CounterVec
	storeReplaces prometheus.Counter
	storeEvents   prometheus.Gauge
	activeSession prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg uses a
// private registry, which keeps tests independent of the global one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		pollTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attendboard",
			Name:      "poll_ticks_total",
			Help:      "Live roster poll ticks that issued a fetch.",
		}),
		pollResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendboard",
			Name:      "poll_results_total",
			Help:      "Live roster poll results by outcome (applied, discarded, failed).",
		}, []string{"outcome"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendboard",
			Name:      "commands_total",
			Help:      "Attendance commands by operation and outcome.",
		}, []string{"op", "outcome"}),
		storeReplaces: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attendboard",
			Name:      "event_store_replaces_total",
			Help:      "Wholesale replacements of the cached event collection.",
		}),
		storeEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "attendboard",
			Name:      "event_store_events",
			Help:      "Events currently cached.",
		}),
		activeSession: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "attendboard",
			Name:      "active_session_event_id",
			Help:      "Event id of the active attendance session, 0 when none.",
		}),
	}
	reg.MustRegister(m.pollTicks, m.pollResults, m.commands, m.storeReplaces, m.storeEvents, m.activeSession)
	return m
}

func (m *Metrics) PollTick() {
	if m == nil {
		return
	}
	m.pollTicks.Inc()
}

func (m *Metrics) PollResult(outcome string) {
	if m == nil {
		return
	}
	m.pollResults.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Command(op, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) StoreReplaced(n int) {
	if m == nil {
		return
	}
	m.storeReplaces.Inc()
	m.storeEvents.Set(float64(n))
}

func (m *Metrics) ActiveSession(eventID int) {
	if m == nil {
		return
	}
	m.activeSession.Set(float64(eventID))
}
