package monitor

import (
	"time"

	"github.com/csw-project/csw/internal/fsm"
)

// ServerStatus is one server's point-in-time snapshot, consumed by
// internal/httpapi's GET /status (spec §6).
type ServerStatus struct {
	Name        string
	State       string
	Running     bool
	Players     int
	IdleSince   time.Time
	Degraded    bool
	Quarantined bool
}

// Snapshot returns every server's current status, sorted by name.
func (m *Monitor) Snapshot() []ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ServerStatus, 0, len(m.servers))
	for name, state := range m.servers {
		running := state.machine.State == fsm.Online || state.machine.State == fsm.Idle
		out = append(out, ServerStatus{
			Name:        name,
			State:       state.machine.State.String(),
			Running:     running,
			Players:     state.lastPlayers,
			IdleSince:   state.machine.IdleSince,
			Degraded:    state.machine.Degraded,
			Quarantined: state.machine.Quarantined,
		})
	}
	sortByName(out)
	return out
}

func sortByName(s []ServerStatus) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].Name > s[j].Name; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
