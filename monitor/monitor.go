// Package monitor implements the client-side inactivity monitor. After a
// period without activity it shows a warning with a countdown, and logs the
// admin out when the countdown runs out unless they choose to stay.
package monitor

import (
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultInactivityTimeout = 15 * time.Minute
	DefaultWarningDuration   = 10 * time.Second
)

// State is the monitor's phase.
type State int

const (
	// Idle waits for the inactivity timer. It is also the state when no one
	// is authenticated.
	Idle State = iota
	// Counting shows the warning and ticks the countdown once per second.
	Counting
)

func (s State) String() string {
	if s == Counting {
		return "counting"
	}
	return "idle"
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInactivityTimeout sets how long the admin may be idle before the
// warning appears.
func WithInactivityTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.inactivity = d
		}
	}
}

// WithWarningDuration sets the countdown length. It is rounded down to whole
// seconds, with a minimum of one.
func WithWarningDuration(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.warning = d
		}
	}
}

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s Scheduler) Option {
	return func(m *Monitor) {
		m.sched = s
	}
}

// WithWarningHandler registers the warning display. show is called with the
// seconds remaining when the warning opens and on every tick; hide is called
// when it closes for any reason. Calls to show and hide never overlap and
// arrive in transition order, so they must not call back into the monitor.
func WithWarningHandler(show func(remaining int), hide func()) Option {
	return func(m *Monitor) {
		if show != nil {
			m.show = show
		}
		if hide != nil {
			m.hide = hide
		}
	}
}

// WithLogger sets the logger for state transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// Monitor watches activity for one authenticated admin. It is safe for
// concurrent use. Callbacks run without the monitor's lock held; the logout
// callback may call back into the monitor.
type Monitor struct {
	sched      Scheduler
	inactivity time.Duration
	warning    time.Duration
	logout     func()
	show       func(int)
	hide       func()
	logger     *slog.Logger

	// display serialises show and hide. It is taken before mu, never after.
	display sync.Mutex
	// beforeShow, if set, runs between releasing mu and delivering a show.
	beforeShow func()

	mu            sync.Mutex
	authenticated bool
	state         State
	countdown     int
	// gen increases on every transition. Timer callbacks carry the gen they
	// were armed under and do nothing once it has moved on.
	gen     uint64
	idle    Task
	ticking Task
}

// New creates a monitor that calls logout when the countdown expires.
func New(logout func(), opts ...Option) *Monitor {
	m := &Monitor{
		sched:      RealScheduler{},
		inactivity: DefaultInactivityTimeout,
		warning:    DefaultWarningDuration,
		logout:     logout,
		show:       func(int) {},
		hide:       func() {},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current phase and the seconds left on the countdown.
func (m *Monitor) State() (State, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.countdown
}

// SetAuthenticated starts watching when true. False cancels every timer and
// closes the warning at once, so nothing fires after a manual logout.
func (m *Monitor) SetAuthenticated(authenticated bool) {
	m.mu.Lock()
	if authenticated == m.authenticated {
		m.mu.Unlock()
		return
	}
	m.authenticated = authenticated
	wasCounting := m.reset()
	if authenticated {
		m.armIdle()
	}
	m.mu.Unlock()

	if wasCounting {
		m.hideWarning()
	}
}

// Activity records user interaction. It restarts the inactivity timer only
// while authenticated and Idle; once the warning is showing, only
// StayLoggedIn dismisses it.
func (m *Monitor) Activity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authenticated || m.state != Idle {
		return
	}
	m.reset()
	m.armIdle()
}

// StayLoggedIn dismisses the warning and restarts the inactivity timer.
func (m *Monitor) StayLoggedIn() {
	m.mu.Lock()
	if !m.authenticated {
		m.mu.Unlock()
		return
	}
	wasCounting := m.reset()
	m.armIdle()
	m.mu.Unlock()

	if wasCounting {
		m.logger.Debug("session extended")
		m.hideWarning()
	}
}

// Stop cancels everything. The monitor behaves as logged out afterwards.
func (m *Monitor) Stop() {
	m.SetAuthenticated(false)
}

// reset cancels both tasks and returns to Idle. It reports whether the
// warning was showing. Callers hold mu.
func (m *Monitor) reset() bool {
	m.gen++
	if m.idle != nil {
		m.idle.Cancel()
		m.idle = nil
	}
	if m.ticking != nil {
		m.ticking.Cancel()
		m.ticking = nil
	}
	wasCounting := m.state == Counting
	m.state = Idle
	m.countdown = 0
	return wasCounting
}

// armIdle starts the inactivity timer. Callers hold mu.
func (m *Monitor) armIdle() {
	gen := m.gen
	m.idle = m.sched.After(m.inactivity, func() { m.startWarning(gen) })
}

func (m *Monitor) startWarning(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.authenticated || m.state != Idle {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen = m.gen
	m.idle = nil
	m.state = Counting
	m.countdown = max(int(m.warning/time.Second), 1)
	remaining := m.countdown
	m.ticking = m.sched.Every(time.Second, func() { m.tick(gen) })
	m.mu.Unlock()

	m.logger.Debug("inactivity warning shown", "remaining", remaining)
	m.showWarning(gen, remaining)
}

func (m *Monitor) tick(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != Counting {
		m.mu.Unlock()
		return
	}
	m.countdown--
	remaining := m.countdown
	if remaining > 0 {
		m.mu.Unlock()
		m.showWarning(gen, remaining)
		return
	}
	m.reset()
	m.authenticated = false
	m.mu.Unlock()

	m.logger.Info("logging out after inactivity")
	m.hideWarning()
	m.logout()
}

// showWarning delivers show only if the countdown armed under gen is still
// running once the display lock is held. A transition that closed the
// warning in the meantime has already delivered its hide, or is waiting to.
func (m *Monitor) showWarning(gen uint64, remaining int) {
	if m.beforeShow != nil {
		m.beforeShow()
	}
	m.display.Lock()
	defer m.display.Unlock()
	m.mu.Lock()
	current := gen == m.gen && m.state == Counting
	m.mu.Unlock()
	if current {
		m.show(remaining)
	}
}

func (m *Monitor) hideWarning() {
	m.display.Lock()
	defer m.display.Unlock()
	m.hide()
}
