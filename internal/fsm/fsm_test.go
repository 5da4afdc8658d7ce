package fsm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		IdleTimeout:   10 * time.Minute,
		StartTimeout:  2 * time.Minute,
		StopTimeout:   time.Minute,
		StopCooldown:  30 * time.Second,
		StartGrace:    time.Minute,
		FlapThreshold: 3,
		FlapWindow:    time.Hour,
	}
}

func intentKinds(intents []Intent) []IntentKind {
	kinds := make([]IntentKind, len(intents))
	for i, in := range intents {
		kinds[i] = in.Kind
	}
	return kinds
}

func TestUnknownToStoppedAcquiresPort(t *testing.T) {
	m := Machine{}
	now := time.Now()
	m, intents := Transition(m, testConfig(), Event{Kind: EventObserved, Running: false, Now: now})
	assert.Equal(t, Stopped, m.State)
	assert.True(t, m.PortHeldByInterposer)
	require.Len(t, intents, 1)
	assert.Equal(t, IntentAcquirePort, intents[0].Kind)
}

func TestUnknownToOnlineReleasesPort(t *testing.T) {
	m := Machine{}
	now := time.Now()
	m, intents := Transition(m, testConfig(), Event{Kind: EventObserved, Running: true, Now: now})
	assert.Equal(t, Online, m.State)
	assert.False(t, m.PortHeldByInterposer)
	require.Len(t, intents, 1)
	assert.Equal(t, IntentReleasePort, intents[0].Kind)
}

func TestOnlineIdleThenStop(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	m := Machine{State: Online, EnteredOnlineAt: now.Add(-2 * cfg.StartGrace)}

	m, intents := Transition(m, cfg, Event{Kind: EventObserved, Running: true, Players: 0, Now: now})
	assert.Equal(t, Online, m.State)
	assert.False(t, m.IdleSince.IsZero())
	assert.Empty(t, intents)

	later := m.IdleSince.Add(cfg.IdleTimeout + time.Second)
	m, intents = Transition(m, cfg, Event{Kind: EventObserved, Running: true, Players: 0, Now: later})
	assert.Equal(t, Stopping, m.State)
	require.Len(t, intents, 1)
	assert.Equal(t, IntentStop, intents[0].Kind)
}

func TestPlayersResetIdleTimer(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	m := Machine{State: Online, IdleSince: now.Add(-cfg.IdleTimeout), EnteredOnlineAt: now.Add(-time.Hour)}

	m, intents := Transition(m, cfg, Event{Kind: EventObserved, Running: true, Players: 3, Now: now})
	assert.Equal(t, Online, m.State)
	assert.True(t, m.IdleSince.IsZero())
	assert.Empty(t, intents)
}

func TestStartGraceSuppressesIdleStop(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	m := Machine{State: Online, EnteredOnlineAt: now, IdleSince: now.Add(-cfg.IdleTimeout - time.Second)}

	m, intents := Transition(m, cfg, Event{Kind: EventObserved, Running: true, Players: 0, Now: now})
	assert.Equal(t, Online, m.State)
	assert.Empty(t, intents)
}

func TestOnlineCrashTransitionsToCrashed(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	m := Machine{State: Online, EnteredOnlineAt: now.Add(-time.Hour)}

	m, intents := Transition(m, cfg, Event{Kind: EventObserved, Running: false, Now: now})
	assert.Equal(t, Crashed, m.State)
	assert.True(t, m.PortHeldByInterposer)
	assert.Equal(t, []IntentKind{IntentAcquirePort, IntentNotify}, intentKinds(intents))
	assert.Equal(t, NotifyCrash, intents[1].Reason)
}

func TestStoppingToStoppedOnObservedNotRunning(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	m := Machine{State: Stopping, StopRequestedAt: now.Add(-time.Second)}

	m, intents := Transition(m, cfg, Event{Kind: EventObserved, Running: false, Now: now})
	assert.Equal(t, Stopped, m.State)
	assert.Equal(t, []IntentKind{IntentAcquirePort, IntentNotify}, intentKinds(intents))
	assert.Equal(t, NotifyStop, intents[1].Reason)
}

func TestStopTimeoutForcesCrashed(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	m := Machine{State: Stopping, StopRequestedAt: now.Add(-cfg.StopTimeout - time.Second)}

	m, intents := Transition(m, cfg, Event{Kind: EventTick, Now: now})
	assert.Equal(t, Crashed, m.State)
	assert.Equal(t, []IntentKind{IntentAcquirePort, IntentNotify}, intentKinds(intents))
}

func TestStartTimeoutForcesCrashed(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	m := Machine{State: Starting, StartRequestedAt: now.Add(-cfg.StartTimeout - time.Second)}

	m, intents := Transition(m, cfg, Event{Kind: EventTick, Now: now})
	assert.Equal(t, Crashed, m.State)
	assert.Equal(t, []IntentKind{IntentAcquirePort, IntentNotify}, intentKinds(intents))
}

func TestWakeRequestedFromStoppedStartsServer(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	m := Machine{State: Stopped, PortHeldByInterposer: true}

	m, intents := Transition(m, cfg, Event{Kind: EventWakeRequested, Now: now})
	assert.Equal(t, Starting, m.State)
	assert.False(t, m.PortHeldByInterposer)
	assert.Equal(t, []IntentKind{IntentReleasePort, IntentStart, IntentNotify}, intentKinds(intents))
	assert.Equal(t, NotifyStart, intents[2].Reason)
}

func TestWakeRequestedDuringCooldownIsDropped(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	m := Machine{State: Stopped, StopRequestedAt: now.Add(-time.Second)}

	m, intents := Transition(m, cfg, Event{Kind: EventWakeRequested, Now: now})
	assert.Equal(t, Stopped, m.State)
	assert.Empty(t, intents)
}

func TestWakeRequestedFromOnlineIsIgnored(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	m := Machine{State: Online}

	m, intents := Transition(m, cfg, Event{Kind: EventWakeRequested, Now: now})
	assert.Equal(t, Online, m.State)
	assert.Empty(t, intents)
}

func TestStartingToOnlineOnObservedRunning(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	m := Machine{State: Starting, StartRequestedAt: now.Add(-time.Second)}

	m, intents := Transition(m, cfg, Event{Kind: EventObserved, Running: true, Now: now})
	assert.Equal(t, Online, m.State)
	assert.False(t, m.EnteredOnlineAt.IsZero())
	assert.Empty(t, intents)
}

func TestFlapGuardQuarantinesAfterThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.FlapThreshold = 3
	now := time.Now()

	m := Machine{State: Online, EnteredOnlineAt: now.Add(-time.Hour)}

	// Three prior ONLINE->STOPPING cycles already recorded within the window.
	m.CycleTimestamps = []time.Time{now.Add(-4 * time.Minute), now.Add(-3 * time.Minute), now.Add(-2 * time.Minute)}
	m.IdleSince = now.Add(-cfg.IdleTimeout - time.Second)

	m, intents := Transition(m, cfg, Event{Kind: EventObserved, Running: true, Players: 0, Now: now})
	// This is the fourth cycle: threshold is already met by the three prior
	// ones, so the stop itself is refused and the machine is marked
	// quarantined while staying ONLINE.
	assert.Equal(t, Online, m.State)
	assert.True(t, m.Quarantined)
	assert.Empty(t, intents)
}

func TestFlapGuardAllowsUpToThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.FlapThreshold = 3
	now := time.Now()

	m := Machine{State: Online, EnteredOnlineAt: now.Add(-time.Hour)}

	// Two prior cycles recorded: this third attempt must still be permitted.
	m.CycleTimestamps = []time.Time{now.Add(-4 * time.Minute), now.Add(-3 * time.Minute)}
	m.IdleSince = now.Add(-cfg.IdleTimeout - time.Second)

	m, intents := Transition(m, cfg, Event{Kind: EventObserved, Running: true, Players: 0, Now: now})
	assert.Equal(t, Stopping, m.State)
	assert.True(t, m.Quarantined)
	assert.Equal(t, []Intent{{Kind: IntentStop}}, intents)
}

func TestTransientFailuresDoNotChangeState(t *testing.T) {
	cfg := testConfig()
	m := Machine{State: Stopping, StopRequestedAt: time.Now()}

	m2, intents := Transition(m, cfg, Event{Kind: EventStopFailed, Now: time.Now()})
	assert.Equal(t, m.State, m2.State)
	assert.Empty(t, intents)

	m3, intents := Transition(m, cfg, Event{Kind: EventStartFailed, Now: time.Now()})
	assert.Equal(t, m.State, m3.State)
	assert.Empty(t, intents)
}

func TestConfigReloadedIsNoOp(t *testing.T) {
	cfg := testConfig()
	m := Machine{State: Online, IdleSince: time.Now()}
	m2, intents := Transition(m, cfg, Event{Kind: EventConfigReloaded})
	assert.Equal(t, m, m2)
	assert.Empty(t, intents)
}
