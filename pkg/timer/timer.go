package timer

import (
	"sync"
	"time"

	"github.com/dkalashnik/openwrite/pkg/clock"
)

type timerState int

const (
	stateArmed timerState = iota
	stateFired
	stateCancelled
)

// Timer is a one-shot countdown against an absolute deadline.
// It fires onElapsed at most once, never before the deadline, and never after Cancel.
type Timer struct {
	sched     clock.Scheduler
	deadline  time.Time
	onElapsed func()

	mu     sync.Mutex
	state  timerState
	handle clock.Handle
}

// Start arms a timer that elapses duration after the scheduler's current time.
func Start(sched clock.Scheduler, duration time.Duration, onElapsed func()) *Timer {
	return StartAt(sched, sched.Now().Add(duration), onElapsed)
}

// StartAt arms a timer for an absolute deadline.
func StartAt(sched clock.Scheduler, deadline time.Time, onElapsed func()) *Timer {
	t := &Timer{
		sched:     sched,
		deadline:  deadline,
		onElapsed: onElapsed,
	}
	t.mu.Lock()
	t.handle = sched.ScheduleAt(deadline, t.scheduled)
	t.mu.Unlock()
	return t
}

func (t *Timer) Deadline() time.Time {
	return t.deadline
}

// Remaining is recomputed from the deadline on every call and clamped to zero.
func (t *Timer) Remaining() time.Duration {
	left := t.deadline.Sub(t.sched.Now())
	if left < 0 {
		return 0
	}
	return left
}

// Cancel disarms the timer. It reports false when the timer already fired or was cancelled.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateArmed {
		return false
	}
	t.state = stateCancelled
	if t.handle != nil {
		t.handle.Cancel()
	}
	return true
}

// Poll is the tick entry point: a host that was suspended or throttled calls it
// and the timer fires right away if the deadline has passed.
func (t *Timer) Poll() bool {
	if t.Remaining() > 0 {
		return false
	}
	return t.fire()
}

// Fired reports whether onElapsed has been invoked.
func (t *Timer) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateFired
}

// Active reports whether the timer is still armed.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateArmed
}

func (t *Timer) scheduled() {
	if t.Remaining() > 0 {
		// woke up ahead of the wall clock deadline; re-arm
		t.mu.Lock()
		if t.state == stateArmed {
			t.handle = t.sched.ScheduleAt(t.deadline, t.scheduled)
		}
		t.mu.Unlock()
		return
	}
	t.fire()
}

func (t *Timer) fire() bool {
	t.mu.Lock()
	if t.state != stateArmed {
		t.mu.Unlock()
		return false
	}
	t.state = stateFired
	if t.handle != nil {
		t.handle.Cancel()
	}
	t.mu.Unlock()

	if t.onElapsed != nil {
		t.onElapsed()
	}
	return true
}
