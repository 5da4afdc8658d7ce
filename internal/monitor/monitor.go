// Package monitor implements the tick coordinator described in spec §4.6:
// on each tick it polls the controller, feeds every server's state machine,
// and serially carries out the intents the machines emit — acquiring or
// releasing ports, calling the controller, and notifying logger/metrics/
// webhook sinks. It also drains the wake_requested events interposers push
// in between ticks.
package monitor

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/csw-project/csw/internal/config"
	"github.com/csw-project/csw/internal/controller"
	"github.com/csw-project/csw/internal/fsm"
	"github.com/csw-project/csw/internal/obsmetrics"
	"github.com/csw-project/csw/internal/webhook"
)

// degradedThreshold is the consecutive-failure count (spec §4.6, default 5)
// after which a server's machine is surfaced as degraded.
const degradedThreshold = 5

// portOwner is the lifecycle contract both interposer.Java and
// interposer.Bedrock satisfy; monitor depends on this narrow interface
// rather than the concrete interposer package so it can be unit tested
// with fakes. It is an alias for an interface literal so that cmd/csw can
// declare the identical alias as its factory's result type.
type portOwner = interface {
	Acquire(port int) error
	Release() error
}

// serverState bundles one server's descriptor, FSM config, live machine
// value and its interposer.
type serverState struct {
	desc        config.ServerConfig
	fsmCfg      fsm.Config
	machine     fsm.Machine
	interposer  portOwner
	lastPlayers int
}

// Monitor is the single tick coordinator for every configured server.
type Monitor struct {
	logger     *zap.Logger
	client     *controller.Client
	webhook    *webhook.Sender
	metrics    *obsmetrics.Metrics
	pollPeriod time.Duration

	mu      sync.Mutex
	servers map[string]*serverState
	ticker  *time.Ticker

	wakeCh chan string
	// Fatal receives the one error that should terminate the process
	// (spec §7: AuthDenied is "fatal at first occurrence: surface and
	// exit"). Buffered 1 so the send never blocks the tick loop.
	Fatal chan error
}

// New builds a Monitor for the given servers. buildInterposer constructs
// the right interposer.Java or interposer.Bedrock for a descriptor — it is
// injected so this package never imports internal/interposer directly,
// keeping the dependency direction one-way (interposer -> mcproto,
// monitor -> interposer only via this constructor callback).
func New(
	cfg *config.Config,
	logger *zap.Logger,
	client *controller.Client,
	sender *webhook.Sender,
	metrics *obsmetrics.Metrics,
	buildInterposer func(config.ServerConfig, func(string)) portOwner,
) *Monitor {
	m := &Monitor{
		logger:     logger,
		client:     client,
		webhook:    sender,
		metrics:    metrics,
		pollPeriod: cfg.Controller.PollInterval,
		servers:    make(map[string]*serverState, len(cfg.Servers)),
		ticker:     time.NewTicker(cfg.Controller.PollInterval),
		wakeCh:     make(chan string, 64),
		Fatal:      make(chan error, 1),
	}

	for _, sc := range cfg.Servers {
		state := &serverState{
			desc:   sc,
			fsmCfg: fsmConfigFromServer(sc),
		}
		state.interposer = buildInterposer(sc, func(serverID string) { m.onWake(serverID) })
		m.servers[sc.Name] = state
	}
	return m
}

func fsmConfigFromServer(sc config.ServerConfig) fsm.Config {
	return fsm.Config{
		IdleTimeout:   sc.IdleTimeout,
		StartTimeout:  sc.StartTimeout,
		StopTimeout:   sc.StopTimeout,
		StopCooldown:  sc.StopCooldown,
		StartGrace:    sc.StartGrace,
		FlapThreshold: sc.FlapThreshold,
		FlapWindow:    sc.FlapWindow,
	}
}

// onWake is called by an interposer goroutine when a login attempt /
// repeated ping fires a wake event. It never blocks: the channel is
// buffered and a full channel just drops the duplicate signal, since the
// monitor's own coalescing (via the FSM's cooldown + the interposer's own
// coalescing window) already protects against floods.
func (m *Monitor) onWake(serverID string) {
	select {
	case m.wakeCh <- serverID:
	default:
		m.logger.Warn("wake channel full, dropping wake event", zap.String("server", serverID))
	}
}

// Run blocks, ticking every pollPeriod and draining wake events, until ctx
// is cancelled. A config Reload can change the tick period in place via
// Ticker.Reset, so each iteration re-reads the channel under the lock
// rather than capturing it once.
func (m *Monitor) Run(ctx context.Context) {
	defer m.ticker.Stop()

	for {
		m.mu.Lock()
		tickC := m.ticker.C
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-tickC:
			m.tick(ctx)
		case serverID := <-m.wakeCh:
			m.handleWake(ctx, serverID)
		}
	}
}

// tick polls every server's status and feeds its machine an observed and a
// tick event, applying whatever intents result.
func (m *Monitor) tick(ctx context.Context) {
	statuses, err := m.listStatus(ctx)
	if err != nil {
		m.logger.Warn("list_status failed", zap.Error(err))
		m.metrics.RecordControllerError()
		return
	}

	m.mu.Lock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	m.mu.Unlock()

	now := time.Now()
	for _, name := range names {
		m.mu.Lock()
		state, ok := m.servers[name]
		if !ok {
			m.mu.Unlock()
			continue
		}
		status, known := statuses[state.desc.CraftyServerID]
		m.mu.Unlock()

		if !known {
			m.logger.Warn("no status reported for server", zap.String("server", name))
			continue
		}

		m.applyEvent(ctx, name, fsm.Event{
			Kind:    fsm.EventObserved,
			Running: status.Running,
			Players: status.PlayerCount,
			Now:     now,
		})
		m.applyEvent(ctx, name, fsm.Event{Kind: fsm.EventTick, Now: now})
	}
}

func (m *Monitor) handleWake(ctx context.Context, serverID string) {
	m.mu.Lock()
	name, ok := m.nameByCraftyID(serverID)
	m.mu.Unlock()
	if !ok {
		return
	}
	if m.metrics != nil {
		m.metrics.RecordWakeRequest(name)
	}
	m.applyEvent(ctx, name, fsm.Event{Kind: fsm.EventWakeRequested, Now: time.Now()})
}

func (m *Monitor) nameByCraftyID(craftyID string) (string, bool) {
	for name, state := range m.servers {
		if state.desc.CraftyServerID == craftyID {
			return name, true
		}
	}
	return "", false
}

// listStatus dispatches to the controller client's bulk or per-server call
// depending on config, returning results keyed by crafty_server_id.
func (m *Monitor) listStatus(ctx context.Context) (map[string]controller.Status, error) {
	if m.client.BulkStatus() {
		return m.client.ListStatusBulk(ctx)
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.servers))
	for _, s := range m.servers {
		ids = append(ids, s.desc.CraftyServerID)
	}
	m.mu.Unlock()

	out := make(map[string]controller.Status, len(ids))
	for _, id := range ids {
		st, err := m.client.ListStatusOne(ctx, id)
		if err != nil {
			m.metrics.RecordControllerError()
			continue
		}
		out[id] = st
	}
	return out, nil
}

// applyEvent transitions the named server's machine, records the
// transition metric on any state change, and executes the resulting
// intents.
func (m *Monitor) applyEvent(ctx context.Context, name string, ev fsm.Event) {
	m.mu.Lock()
	state, ok := m.servers[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	before := state.machine
	next, intents := fsm.Transition(before, state.fsmCfg, ev)
	state.machine = next
	if ev.Kind == fsm.EventObserved {
		state.lastPlayers = ev.Players
	}
	m.mu.Unlock()

	if next.State != before.State {
		m.logger.Info("state transition",
			zap.String("server", name),
			zap.String("from", before.State.String()),
			zap.String("to", next.State.String()),
		)
		m.metrics.RecordTransition(name, before.State.String(), next.State.String())
	}
	if m.metrics != nil {
		m.metrics.SetState(name, next.State.String())
		if ev.Kind == fsm.EventObserved {
			m.metrics.SetPlayers(name, ev.Players)
		}
	}
	if !before.Quarantined && next.Quarantined {
		m.notify(ctx, name, "quarantined", next.State.String())
	}

	m.executeIntents(ctx, name, intents)
}

// executeIntents carries out intents in order. Per spec §5 ("If release()
// fails, do not issue start; remain in STOPPED and log"), a failed
// IntentReleasePort aborts the rest of the batch so IntentStart is never
// reached while the interposer might still hold the socket. A machine that
// had just moved to STARTING is put back in STOPPED with its port held.
func (m *Monitor) executeIntents(ctx context.Context, name string, intents []fsm.Intent) {
	for _, intent := range intents {
		switch intent.Kind {
		case fsm.IntentAcquirePort:
			m.acquirePort(name)
		case fsm.IntentReleasePort:
			if err := m.releasePort(name); err != nil {
				m.logger.Warn("release_port failed, withholding remaining intents for this event",
					zap.String("server", name), zap.Error(err))
				m.mu.Lock()
				if s, ok := m.servers[name]; ok && s.machine.State == fsm.Starting {
					s.machine.State = fsm.Stopped
					s.machine.StartRequestedAt = time.Time{}
					s.machine.PortHeldByInterposer = true
				}
				m.mu.Unlock()
				return
			}
		case fsm.IntentStart:
			m.callController(ctx, name, true)
		case fsm.IntentStop:
			m.callController(ctx, name, false)
		case fsm.IntentNotify:
			m.notify(ctx, name, intent.Reason.String(), "")
		}
	}
}

func (m *Monitor) notify(ctx context.Context, name, kind, extra string) {
	m.mu.Lock()
	state := m.servers[name]
	m.mu.Unlock()
	if state == nil {
		return
	}

	m.logger.Info("notify", zap.String("server", name), zap.String("event", kind))
	if m.webhook == nil {
		return
	}
	if err := m.webhook.Send(ctx, webhook.Event{
		Type:    kind,
		Server:  name,
		State:   state.machine.State.String(),
		Message: extra,
	}); err != nil {
		m.logger.Warn("webhook delivery failed", zap.String("server", name), zap.String("event", kind), zap.Error(err))
	}
}

func (m *Monitor) callController(ctx context.Context, name string, start bool) {
	m.mu.Lock()
	state, ok := m.servers[name]
	m.mu.Unlock()
	if !ok {
		return
	}

	var err error
	if start {
		err = m.client.Start(ctx, state.desc.CraftyServerID)
	} else {
		err = m.client.Stop(ctx, state.desc.CraftyServerID)
	}
	if err == nil {
		return
	}

	m.metrics.RecordControllerError()

	if controller.IsKind(err, controller.ErrKindAuthDenied) {
		m.logger.Error("controller auth denied, exiting", zap.String("server", name), zap.Error(err))
		select {
		case m.Fatal <- err:
		default:
		}
		return
	}

	m.logger.Warn("controller call failed; not retried",
		zap.String("server", name), zap.Bool("start", start), zap.Error(err))

	ek := fsm.EventStopFailed
	if start {
		ek = fsm.EventStartFailed
	}
	m.applyEvent(ctx, name, fsm.Event{Kind: ek, Now: time.Now()})
	m.recordFailure(name)
}

// acquirePort and releasePort are executed synchronously, with a
// jittered-backoff retry (grounded on the teacher's reconnect backoff
// shape) to absorb a listener still in TIME_WAIT from a just-released
// socket. Spec §5: "If acquire() fails because the socket is still
// held..., retry with exponential backoff up to stop_timeout" — so the
// total retry budget is the server's own configured StopTimeout, not a
// fixed attempt count.
func (m *Monitor) acquirePort(name string) error {
	m.mu.Lock()
	state, ok := m.servers[name]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	err := withRetry(state.fsmCfg.StopTimeout, func() error { return state.interposer.Acquire(state.desc.ListenPort) })
	if err != nil {
		m.logger.Error("acquire_port failed", zap.String("server", name), zap.Error(err))
		m.recordFailure(name)
		return err
	}
	m.recordSuccess(name)
	return nil
}

func (m *Monitor) releasePort(name string) error {
	m.mu.Lock()
	state, ok := m.servers[name]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	err := withRetry(state.fsmCfg.StopTimeout, func() error { return state.interposer.Release() })
	if err != nil {
		m.logger.Error("release_port failed", zap.String("server", name), zap.Error(err))
		m.recordFailure(name)
		return err
	}
	m.recordSuccess(name)
	return nil
}

const (
	retryInitial       = 100 * time.Millisecond
	retryStepMax       = 5 * time.Second
	retryFactor        = 2.0
	jitterFraction     = 0.2
	defaultRetryBudget = 120 * time.Second
)

// withRetry keeps calling fn, with jittered exponential backoff between
// attempts (each step capped at retryStepMax), until it succeeds or the
// total elapsed time reaches budget. A non-positive budget falls back to
// defaultRetryBudget (spec §6's stop_timeout default) so a misconfigured
// zero value never turns into an unbounded or zero-attempt retry.
func withRetry(budget time.Duration, fn func() error) error {
	if budget <= 0 {
		budget = defaultRetryBudget
	}

	start := time.Now()
	backoff := retryInitial
	var err error
	for {
		if err = fn(); err == nil {
			return nil
		}
		elapsed := time.Since(start)
		if elapsed >= budget {
			return err
		}
		sleep := jitter(backoff)
		if remaining := budget - elapsed; sleep > remaining {
			sleep = remaining
		}
		time.Sleep(sleep)
		backoff = time.Duration(float64(backoff) * retryFactor)
		if backoff > retryStepMax {
			backoff = retryStepMax
		}
	}
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}

// recordFailure increments the server's consecutive-failure counter and
// marks it degraded once it crosses degradedThreshold (spec §4.6).
func (m *Monitor) recordFailure(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.servers[name]
	if !ok {
		return
	}
	state.machine.FailureCount++
	if state.machine.FailureCount >= degradedThreshold {
		state.machine.Degraded = true
	}
}

func (m *Monitor) recordSuccess(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.servers[name]
	if !ok {
		return
	}
	state.machine.FailureCount = 0
	state.machine.Degraded = false
}
