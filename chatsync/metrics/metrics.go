// Package metrics exposes Prometheus collectors for sync activity. A nil
// *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Live event outcomes.
const (
	OutcomeInserted = "inserted"
	OutcomePatched  = "patched"
	OutcomeIgnored  = "ignored"
)

// Mutation outcomes.
const (
	OutcomePromoted   = "promoted"
	OutcomeRolledBack = "rolled_back"
)

// Metrics groups the collectors shared by the store, controller and engine.
type Metrics struct {
	LiveEvents *prometheus.CounterVec
	Mutations  *prometheus.CounterVec
	Reconnects prometheus.Counter
	RoomsHeld  prometheus.Gauge
}

// New creates the collectors and registers them with reg when non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LiveEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "live_events_total",
			Help:      "Live transport events by merge outcome.",
		}, []string{"outcome"}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "mutations_total",
			Help:      "Optimistic mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "reconnects_total",
			Help:      "Successful transport reconnects.",
		}),
		RoomsHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "rooms_held",
			Help:      "Room timelines currently held in memory.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.LiveEvents, m.Mutations, m.Reconnects, m.RoomsHeld)
	}
	return m
}

// LiveEvent counts one applied or ignored live event.
func (m *Metrics) LiveEvent(outcome string) {
	if m == nil {
		return
	}
	m.LiveEvents.WithLabelValues(outcome).Inc()
}

// Mutation counts the resolution of one optimistic mutation.
func (m *Metrics) Mutation(op, outcome string) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(op, outcome).Inc()
}

// Reconnect counts a successful reconnect.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// SetRoomsHeld records the number of held timelines.
func (m *Metrics) SetRoomsHeld(n int) {
	if m == nil {
		return
	}
	m.RoomsHeld.Set(float64(n))
}
