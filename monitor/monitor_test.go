package monitor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualScheduler runs tasks against a virtual clock moved by Advance.
type manualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	tasks []*manualTask
}

type manualTask struct {
	s         *manualScheduler
	at        time.Duration
	every     time.Duration
	fn        func()
	cancelled bool
}

func (t *manualTask) Cancel() {
	t.s.mu.Lock()
	t.cancelled = true
	t.s.mu.Unlock()
}

func (s *manualScheduler) After(d time.Duration, fn func()) Task {
	return s.add(d, 0, fn)
}

func (s *manualScheduler) Every(d time.Duration, fn func()) Task {
	return s.add(d, d, fn)
}

func (s *manualScheduler) add(d, every time.Duration, fn func()) *manualTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTask{s: s, at: s.now + d, every: every, fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

// Advance moves the clock forward by d, running due tasks in time order.
func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	for {
		var next *manualTask
		for _, t := range s.tasks {
			if t.cancelled || t.at > target {
				continue
			}
			if next == nil || t.at < next.at {
				next = t
			}
		}
		if next == nil {
			break
		}
		s.now = next.at
		if next.every > 0 {
			next.at += next.every
		} else {
			next.cancelled = true
		}
		s.mu.Unlock()
		next.fn()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

// live counts tasks that have not been cancelled or run.
func (s *manualScheduler) live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

type recorder struct {
	mu      sync.Mutex
	shows   []int
	hides   int
	visible bool
	logouts atomic.Int32
}

func (r *recorder) show(n int) {
	r.mu.Lock()
	r.shows = append(r.shows, n)
	r.visible = true
	r.mu.Unlock()
}

func (r *recorder) hide() {
	r.mu.Lock()
	r.hides++
	r.visible = false
	r.mu.Unlock()
}

func (r *recorder) warningVisible() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visible
}

func (r *recorder) snapshot() ([]int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.shows...), r.hides
}

func newTestMonitor(opts ...Option) (*Monitor, *manualScheduler, *recorder) {
	sched := &manualScheduler{}
	rec := &recorder{}
	opts = append([]Option{
		WithScheduler(sched),
		WithWarningHandler(rec.show, rec.hide),
	}, opts...)
	m := New(func() { rec.logouts.Add(1) }, opts...)
	return m, sched, rec
}

func TestInactivityLogout(t *testing.T) {
	m, sched, rec := newTestMonitor()
	m.SetAuthenticated(true)

	sched.Advance(DefaultInactivityTimeout - time.Second)
	state, _ := m.State()
	assert.Equal(t, Idle, state)

	sched.Advance(time.Second)
	state, countdown := m.State()
	assert.Equal(t, Counting, state)
	assert.Equal(t, 10, countdown)

	sched.Advance(9 * time.Second)
	assert.Zero(t, rec.logouts.Load())
	state, countdown = m.State()
	assert.Equal(t, Counting, state)
	assert.Equal(t, 1, countdown)

	sched.Advance(time.Second)
	assert.Equal(t, int32(1), rec.logouts.Load())
	shows, hides := rec.snapshot()
	assert.Equal(t, []int{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}, shows)
	assert.Equal(t, 1, hides)
	state, _ = m.State()
	assert.Equal(t, Idle, state)
	assert.Zero(t, sched.live())

	// Nothing else fires afterwards, and activity does not re-arm.
	m.Activity()
	sched.Advance(time.Hour)
	assert.Equal(t, int32(1), rec.logouts.Load())
}

func TestActivityResetsTimer(t *testing.T) {
	m, sched, rec := newTestMonitor(WithInactivityTimeout(time.Minute))
	m.SetAuthenticated(true)

	for range 5 {
		sched.Advance(50 * time.Second)
		m.Activity()
	}
	state, _ := m.State()
	assert.Equal(t, Idle, state)
	shows, _ := rec.snapshot()
	assert.Empty(t, shows)

	sched.Advance(time.Minute)
	state, _ = m.State()
	assert.Equal(t, Counting, state)
}

func TestActivityIgnoredWhileCounting(t *testing.T) {
	m, sched, rec := newTestMonitor(WithInactivityTimeout(time.Minute))
	m.SetAuthenticated(true)
	sched.Advance(time.Minute)

	m.Activity()
	state, _ := m.State()
	assert.Equal(t, Counting, state, "activity must not dismiss the warning")

	sched.Advance(10 * time.Second)
	assert.Equal(t, int32(1), rec.logouts.Load())
}

func TestStayLoggedIn(t *testing.T) {
	m, sched, rec := newTestMonitor(WithInactivityTimeout(time.Minute))
	m.SetAuthenticated(true)
	sched.Advance(time.Minute + 3*time.Second)

	m.StayLoggedIn()
	state, countdown := m.State()
	assert.Equal(t, Idle, state)
	assert.Zero(t, countdown)
	_, hides := rec.snapshot()
	assert.Equal(t, 1, hides)

	// The old countdown is gone and the full timeout applies again.
	sched.Advance(time.Minute - time.Second)
	assert.Zero(t, rec.logouts.Load())
	state, _ = m.State()
	assert.Equal(t, Idle, state)

	sched.Advance(time.Second + 10*time.Second)
	assert.Equal(t, int32(1), rec.logouts.Load())
}

func TestLogoutClearsTimers(t *testing.T) {
	t.Run("WhileIdle", func(t *testing.T) {
		m, sched, rec := newTestMonitor()
		m.SetAuthenticated(true)
		m.SetAuthenticated(false)
		assert.Zero(t, sched.live())
		sched.Advance(time.Hour)
		assert.Zero(t, rec.logouts.Load())
		shows, _ := rec.snapshot()
		assert.Empty(t, shows)
	})

	t.Run("WhileCounting", func(t *testing.T) {
		m, sched, rec := newTestMonitor()
		m.SetAuthenticated(true)
		sched.Advance(DefaultInactivityTimeout + 2*time.Second)

		m.SetAuthenticated(false)
		_, hides := rec.snapshot()
		assert.Equal(t, 1, hides, "warning closes immediately")
		assert.Zero(t, sched.live())

		sched.Advance(time.Hour)
		assert.Zero(t, rec.logouts.Load())
	})
}

func TestStaleCallbacksIgnored(t *testing.T) {
	m, sched, rec := newTestMonitor(WithInactivityTimeout(time.Minute))
	m.SetAuthenticated(true)

	sched.mu.Lock()
	idle := sched.tasks[0]
	sched.mu.Unlock()

	// A timer that fired concurrently with cancellation still runs its
	// callback; the monitor must ignore it.
	m.SetAuthenticated(false)
	idle.fn()
	state, _ := m.State()
	assert.Equal(t, Idle, state)
	shows, _ := rec.snapshot()
	assert.Empty(t, shows)

	m.SetAuthenticated(true)
	sched.Advance(time.Minute)
	sched.mu.Lock()
	tick := sched.tasks[len(sched.tasks)-1]
	sched.mu.Unlock()

	m.StayLoggedIn()
	for range 20 {
		tick.fn()
	}
	assert.Zero(t, rec.logouts.Load())
	state, _ = m.State()
	assert.Equal(t, Idle, state)
}

func TestWarningDurationRounding(t *testing.T) {
	m, sched, rec := newTestMonitor(
		WithInactivityTimeout(time.Second),
		WithWarningDuration(500*time.Millisecond),
	)
	m.SetAuthenticated(true)
	sched.Advance(time.Second)
	_, countdown := m.State()
	assert.Equal(t, 1, countdown)

	sched.Advance(time.Second)
	assert.Equal(t, int32(1), rec.logouts.Load())
}

func TestLogoutCallbackMayReenter(t *testing.T) {
	sched := &manualScheduler{}
	var m *Monitor
	var calls atomic.Int32
	m = New(func() {
		calls.Add(1)
		m.SetAuthenticated(false)
	}, WithScheduler(sched), WithInactivityTimeout(time.Second), WithWarningDuration(time.Second))

	m.SetAuthenticated(true)
	sched.Advance(2 * time.Second)
	assert.Equal(t, int32(1), calls.Load())

	// Logging in again starts a fresh cycle.
	m.SetAuthenticated(true)
	sched.Advance(2 * time.Second)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRealScheduler(t *testing.T) {
	var s RealScheduler

	t.Run("After", func(t *testing.T) {
		fired := make(chan struct{})
		s.After(10*time.Millisecond, func() { close(fired) })
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("After did not fire")
		}
	})

	t.Run("AfterCancelled", func(t *testing.T) {
		var fired atomic.Bool
		task := s.After(20*time.Millisecond, func() { fired.Store(true) })
		task.Cancel()
		time.Sleep(60 * time.Millisecond)
		assert.False(t, fired.Load())
	})

	t.Run("Every", func(t *testing.T) {
		var n atomic.Int32
		task := s.Every(5*time.Millisecond, func() { n.Add(1) })
		require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, 5*time.Millisecond)
		task.Cancel()
		task.Cancel()
	})
}

func TestWarningNotReopenedAfterClose(t *testing.T) {
	closers := map[string]func(m *Monitor){
		"StayLoggedIn":     func(m *Monitor) { m.StayLoggedIn() },
		"SetAuthenticated": func(m *Monitor) { m.SetAuthenticated(false) },
	}
	for name, closeWarning := range closers {
		t.Run(name, func(t *testing.T) {
			m, sched, rec := newTestMonitor(WithInactivityTimeout(time.Minute))
			m.SetAuthenticated(true)
			sched.Advance(time.Minute)
			require.True(t, rec.warningVisible())

			// Close the warning after a tick has computed its remaining
			// seconds but before that value reaches the display.
			var once sync.Once
			m.beforeShow = func() { once.Do(func() { closeWarning(m) }) }
			sched.Advance(time.Second)

			shows, hides := rec.snapshot()
			assert.Equal(t, []int{10}, shows, "stale tick must not reach the display")
			assert.Equal(t, 1, hides)
			assert.False(t, rec.warningVisible())
			state, _ := m.State()
			assert.Equal(t, Idle, state)
		})
	}
}
