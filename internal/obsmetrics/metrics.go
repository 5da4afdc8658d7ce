// Package obsmetrics wires the Prometheus metrics named in spec §6 into a
// private registry — not the global default one — so /metrics exposes
// exactly csw's own series and nothing pulled in by a dependency's init().
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every series the monitor updates on each tick and
// transition.
type Metrics struct {
	Registry *prometheus.Registry

	State             *prometheus.GaugeVec
	Players           *prometheus.GaugeVec
	TransitionsTotal  *prometheus.CounterVec
	ControllerErrors  prometheus.Counter
	WakeRequestsTotal *prometheus.CounterVec
}

// New builds a Metrics with a fresh registry and registers every series.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "csw_state",
			Help: "1 for the server's current lifecycle state, labeled by server and state.",
		}, []string{"server", "state"}),
		Players: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "csw_players",
			Help: "Last observed online player count.",
		}, []string{"server"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "csw_transitions_total",
			Help: "Count of state machine transitions, labeled by server, from and to state.",
		}, []string{"server", "from", "to"}),
		ControllerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "csw_controller_errors_total",
			Help: "Count of controller API call failures of any kind.",
		}),
		WakeRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "csw_wake_requests_total",
			Help: "Count of wake_requested events fired by interposers, labeled by server.",
		}, []string{"server"}),
	}

	reg.MustRegister(m.State, m.Players, m.TransitionsTotal, m.ControllerErrors, m.WakeRequestsTotal)
	return m
}

// allStates lists every state so SetState can zero out the gauges for
// states the server is not currently in (a GaugeVec only tracks the label
// combinations it has been Set on; without this, a stale "1" would linger
// on the previous state after a transition).
var allStates = []string{"UNKNOWN", "ONLINE", "IDLE", "STARTING", "STOPPING", "STOPPED", "CRASHED"}

// SetState records server's current state, zeroing every other state's
// gauge for that server.
func (m *Metrics) SetState(server, state string) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.State.WithLabelValues(server, s).Set(v)
	}
}

// SetPlayers records the last observed player count for server.
func (m *Metrics) SetPlayers(server string, players int) {
	m.Players.WithLabelValues(server).Set(float64(players))
}

// RecordTransition increments the transition counter for a from->to move.
func (m *Metrics) RecordTransition(server, from, to string) {
	m.TransitionsTotal.WithLabelValues(server, from, to).Inc()
}

// RecordControllerError increments the controller-wide error counter.
func (m *Metrics) RecordControllerError() {
	m.ControllerErrors.Inc()
}

// RecordWakeRequest increments the wake-request counter for server.
func (m *Metrics) RecordWakeRequest(server string) {
	m.WakeRequestsTotal.WithLabelValues(server).Inc()
}
