// Package fsm implements the per-server lifecycle state machine described
// by the monitor loop: a pure function mapping (Machine, Config, Event) to
// a new Machine and zero or more Intents. All side effects — talking to the
// controller, acquiring or releasing a port, logging — live outside this
// package, in the monitor. This keeps the hardest-to-get-right part of the
// system (timing guards, flap detection, tie-breaking) unit-testable as
// plain value transformations.
package fsm

import "time"

// State is one of the seven machine states.
type State int

const (
	Unknown State = iota
	Online
	Idle
	Starting
	Stopping
	Stopped
	Crashed
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "UNKNOWN"
	case Online:
		return "ONLINE"
	case Idle:
		return "IDLE"
	case Starting:
		return "STARTING"
	case Stopping:
		return "STOPPING"
	case Stopped:
		return "STOPPED"
	case Crashed:
		return "CRASHED"
	default:
		return "INVALID"
	}
}

// Config carries the per-server timing guards from the descriptor
// (spec §3, §6). All durations, never zero in practice — config loading
// fills in the documented defaults before a Machine is ever transitioned.
type Config struct {
	IdleTimeout   time.Duration
	StartTimeout  time.Duration
	StopTimeout   time.Duration
	StopCooldown  time.Duration
	StartGrace    time.Duration
	FlapThreshold int
	FlapWindow    time.Duration
}

// Machine is the full state of one server's lifecycle, including the
// bookkeeping fields spec §3 requires for timing guards and flap
// detection. The zero value is a valid UNKNOWN machine.
type Machine struct {
	State State

	IdleSince        time.Time // zero value means "not idle"
	StopRequestedAt  time.Time
	StartRequestedAt time.Time
	LastTransitionAt time.Time

	// CycleTimestamps holds ONLINE->STOPPING transition times within the
	// flap window, oldest first. Entries older than the window are evicted
	// on the transitions out of ONLINE and before each flap check.
	CycleTimestamps []time.Time

	// EnteredOnlineAt marks the latest entry into ONLINE, from any state,
	// used to compute the start-grace window during which idle shutdown is
	// suppressed.
	EnteredOnlineAt time.Time

	PortHeldByInterposer bool
	Quarantined          bool

	// Degraded and FailureCount are maintained by the monitor (not by
	// Transition) when controller calls for this server fail repeatedly;
	// included here so Machine is the single snapshot /status reads from.
	Degraded     bool
	FailureCount int
	LastError    string
}

// IntentKind enumerates the side effects Transition can ask the monitor to
// perform.
type IntentKind int

const (
	IntentStart IntentKind = iota
	IntentStop
	IntentAcquirePort
	IntentReleasePort
	IntentNotify
)

// NotifyReason qualifies an IntentNotify.
type NotifyReason int

const (
	NotifyStart NotifyReason = iota
	NotifyStop
	NotifyCrash
)

func (n NotifyReason) String() string {
	switch n {
	case NotifyStart:
		return "started"
	case NotifyStop:
		return "stopped"
	case NotifyCrash:
		return "crashed"
	default:
		return "unknown"
	}
}

// Intent is one action the monitor must carry out as a result of a
// transition. Reason is only meaningful when Kind == IntentNotify.
type Intent struct {
	Kind   IntentKind
	Reason NotifyReason
}

// EventKind enumerates the inputs Transition accepts.
type EventKind int

const (
	EventObserved EventKind = iota
	EventTick
	EventWakeRequested
	EventStartFailed
	EventStopFailed
	EventConfigReloaded
)

// Event is one input to Transition. Running and Players are only valid
// when Kind == EventObserved.
type Event struct {
	Kind    EventKind
	Running bool
	Players int
	Now     time.Time
}

// withTransition returns a copy of m set to next and stamped with now, with
// IdleSince cleared whenever next is neither ONLINE nor IDLE. Call this (not
// a bare field assignment) whenever the state actually changes. It does not
// touch the flap window: evictFlapWindow does that, and only the
// transitions out of ONLINE call it.
func withTransition(m Machine, next State, now time.Time) Machine {
	m.State = next
	m.LastTransitionAt = now
	if next != Online && next != Idle {
		m.IdleSince = time.Time{}
	}
	return m
}

// recordOnlineToStoppingCycle appends now to the flap window and evicts
// entries older than cfg.FlapWindow, per spec §4.5's flap guard.
func recordOnlineToStoppingCycle(m Machine, cfg Config, now time.Time) Machine {
	cutoff := now.Add(-cfg.FlapWindow)
	kept := m.CycleTimestamps[:0:0]
	for _, ts := range m.CycleTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	m.CycleTimestamps = append(kept, now)
	return m
}

// evictFlapWindow drops cycle timestamps older than the flap window without
// adding a new entry, and recomputes Quarantined from what remains. It runs
// before each flap check and on the transitions out of ONLINE; other
// transitions leave CycleTimestamps and Quarantined as they are.
func evictFlapWindow(m Machine, cfg Config, now time.Time) Machine {
	cutoff := now.Add(-cfg.FlapWindow)
	kept := m.CycleTimestamps[:0:0]
	for _, ts := range m.CycleTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	m.CycleTimestamps = kept
	m.Quarantined = len(kept) >= cfg.FlapThreshold
	return m
}

// inStartGrace reports whether now is still within start_grace of the
// latest entry into ONLINE.
func inStartGrace(m Machine, cfg Config, now time.Time) bool {
	if m.EnteredOnlineAt.IsZero() {
		return false
	}
	return now.Sub(m.EnteredOnlineAt) < cfg.StartGrace
}

// cooldownElapsed reports whether stop_cooldown has elapsed since the last
// stop was requested (StopRequestedAt, set on ONLINE->STOPPING). A machine
// that has never requested a stop counts as elapsed.
func cooldownElapsed(m Machine, cfg Config, now time.Time) bool {
	if m.StopRequestedAt.IsZero() {
		return true
	}
	return now.Sub(m.StopRequestedAt) >= cfg.StopCooldown
}

// Transition applies one event to m and returns the resulting machine and
// any intents the monitor must execute. It never blocks and never performs
// I/O — side effects belong entirely to the caller.
func Transition(m Machine, cfg Config, ev Event) (Machine, []Intent) {
	switch ev.Kind {
	case EventObserved:
		return onObserved(m, cfg, ev)
	case EventTick:
		return onTick(m, cfg, ev)
	case EventWakeRequested:
		return onWakeRequested(m, cfg, ev)
	case EventStartFailed, EventStopFailed:
		// A failed start or stop leaves the machine as it is. Neither this
		// package nor the monitor re-issues the failed call: the machine
		// stays in STARTING or STOPPING until an observation moves it on or
		// the start/stop timeout moves it to CRASHED.
		return m, nil
	case EventConfigReloaded:
		// State and timers are preserved verbatim; nothing to do here —
		// descriptor replacement happens in the monitor.
		return m, nil
	default:
		return m, nil
	}
}

func onObserved(m Machine, cfg Config, ev Event) (Machine, []Intent) {
	switch m.State {
	case Unknown:
		if ev.Running {
			m = withTransition(m, Online, ev.Now)
			m.EnteredOnlineAt = ev.Now
			m.PortHeldByInterposer = false
			return m, []Intent{{Kind: IntentReleasePort}}
		}
		m = withTransition(m, Stopped, ev.Now)
		m.PortHeldByInterposer = true
		return m, []Intent{{Kind: IntentAcquirePort}}

	case Online:
		if !ev.Running {
			m = withTransition(m, Crashed, ev.Now)
			m.PortHeldByInterposer = true
			m = evictFlapWindow(m, cfg, ev.Now)
			return m, []Intent{{Kind: IntentAcquirePort}, {Kind: IntentNotify, Reason: NotifyCrash}}
		}
		if ev.Players > 0 {
			m.IdleSince = time.Time{}
			return m, nil
		}
		if m.IdleSince.IsZero() {
			m.IdleSince = ev.Now
			return m, nil
		}
		idleLongEnough := ev.Now.Sub(m.IdleSince) >= cfg.IdleTimeout
		if !idleLongEnough {
			return m, nil
		}
		if inStartGrace(m, cfg, ev.Now) {
			return m, nil
		}
		if !cooldownElapsed(m, cfg, ev.Now) {
			return m, nil
		}
		m = evictFlapWindow(m, cfg, ev.Now)
		if len(m.CycleTimestamps) >= cfg.FlapThreshold {
			// Flap guard: cfg.FlapThreshold cycles already happened within
			// the window, evaluated on the pre-existing timestamps only (not
			// counting this attempt) -- refuse to stop, remain ONLINE. Spec
			// scenario: three idle shutdowns succeed, the fourth does not.
			// Observable via /status as quarantined=true.
			return m, nil
		}
		m = recordOnlineToStoppingCycle(m, cfg, ev.Now)
		m = evictFlapWindow(m, cfg, ev.Now)
		m = withTransition(m, Stopping, ev.Now)
		m.StopRequestedAt = ev.Now
		return m, []Intent{{Kind: IntentStop}}

	case Idle:
		// IDLE is reported only via /status bookkeeping in this
		// implementation — ONLINE already carries IdleSince, so the table's
		// "IDLE" rows are folded into the ONLINE handling above and this
		// branch exists for completeness / explicit state if a caller sets
		// it directly (e.g. a future richer status classification).
		if ev.Players > 0 {
			m = withTransition(m, Online, ev.Now)
			m.IdleSince = time.Time{}
			return m, nil
		}
		return m, nil

	case Stopping:
		if !ev.Running {
			m = withTransition(m, Stopped, ev.Now)
			m.PortHeldByInterposer = true
			return m, []Intent{{Kind: IntentAcquirePort}, {Kind: IntentNotify, Reason: NotifyStop}}
		}
		return m, nil

	case Stopped:
		if ev.Running {
			m = withTransition(m, Online, ev.Now)
			m.EnteredOnlineAt = ev.Now
			m.PortHeldByInterposer = false
			return m, []Intent{{Kind: IntentReleasePort}}
		}
		return m, nil

	case Starting:
		if ev.Running {
			m = withTransition(m, Online, ev.Now)
			m.EnteredOnlineAt = ev.Now
			return m, nil
		}
		return m, nil

	case Crashed:
		if ev.Running {
			m = withTransition(m, Online, ev.Now)
			m.EnteredOnlineAt = ev.Now
			m.PortHeldByInterposer = false
			return m, []Intent{{Kind: IntentReleasePort}}
		}
		return m, nil

	default:
		return m, nil
	}
}

func onTick(m Machine, cfg Config, ev Event) (Machine, []Intent) {
	switch m.State {
	case Starting:
		if !m.StartRequestedAt.IsZero() && ev.Now.Sub(m.StartRequestedAt) > cfg.StartTimeout {
			m = withTransition(m, Crashed, ev.Now)
			m.PortHeldByInterposer = true
			return m, []Intent{{Kind: IntentAcquirePort}, {Kind: IntentNotify, Reason: NotifyCrash}}
		}
	case Stopping:
		if !m.StopRequestedAt.IsZero() && ev.Now.Sub(m.StopRequestedAt) > cfg.StopTimeout {
			m = withTransition(m, Crashed, ev.Now)
			m.PortHeldByInterposer = true
			return m, []Intent{{Kind: IntentAcquirePort}, {Kind: IntentNotify, Reason: NotifyCrash}}
		}
	}
	return m, nil
}

func onWakeRequested(m Machine, cfg Config, ev Event) (Machine, []Intent) {
	switch m.State {
	case Stopped, Crashed:
		if !cooldownElapsed(m, cfg, ev.Now) {
			// Logged and dropped by the monitor; Transition just declines.
			return m, nil
		}
		m = withTransition(m, Starting, ev.Now)
		m.PortHeldByInterposer = false
		m.StartRequestedAt = ev.Now
		return m, []Intent{
			{Kind: IntentReleasePort},
			{Kind: IntentStart},
			{Kind: IntentNotify, Reason: NotifyStart},
		}
	default:
		return m, nil
	}
}
