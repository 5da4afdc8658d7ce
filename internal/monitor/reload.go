package monitor

import (
	"go.uber.org/zap"

	"github.com/csw-project/csw/internal/config"
	"github.com/csw-project/csw/internal/controller"
	"github.com/csw-project/csw/internal/webhook"
)

// Reload applies a newly-loaded Config in place (spec §6: "Signals. HUP ⇒
// config reload"). Every server's fsm.Machine — its state, timers and flap
// window — is preserved across the reload by matching on the stable
// descriptor name; only a changed listen_port or kind causes its
// interposer to be released and rebuilt. Servers removed from the file are
// torn down; servers added are created fresh in UNKNOWN.
func (m *Monitor) Reload(
	cfg *config.Config,
	client *controller.Client,
	sender *webhook.Sender,
	buildInterposer func(config.ServerConfig, func(string)) portOwner,
) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.client = client
	m.webhook = sender
	m.pollPeriod = cfg.Controller.PollInterval
	m.ticker.Reset(m.pollPeriod)

	seen := make(map[string]bool, len(cfg.Servers))
	for _, sc := range cfg.Servers {
		seen[sc.Name] = true

		existing, ok := m.servers[sc.Name]
		if !ok {
			state := &serverState{desc: sc, fsmCfg: fsmConfigFromServer(sc)}
			state.interposer = buildInterposer(sc, func(serverID string) { m.onWake(serverID) })
			m.servers[sc.Name] = state
			m.logger.Info("reload: added server", zap.String("server", sc.Name))
			continue
		}

		changed := existing.desc.ListenPort != sc.ListenPort || existing.desc.Kind != sc.Kind
		heldPort := existing.machine.PortHeldByInterposer
		existing.desc = sc
		existing.fsmCfg = fsmConfigFromServer(sc)

		if !changed {
			continue
		}
		m.logger.Info("reload: rebuilding interposer for changed port/kind", zap.String("server", sc.Name))
		if heldPort {
			_ = existing.interposer.Release()
		}
		existing.interposer = buildInterposer(sc, func(serverID string) { m.onWake(serverID) })
		if heldPort {
			_ = existing.interposer.Acquire(sc.ListenPort)
		}
	}

	for name, state := range m.servers {
		if seen[name] {
			continue
		}
		m.logger.Info("reload: removed server", zap.String("server", name))
		if state.machine.PortHeldByInterposer {
			_ = state.interposer.Release()
		}
		delete(m.servers, name)
	}
}
