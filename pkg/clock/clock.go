package clock

import (
	"sync"
	"time"
)

// Scheduler abstracts wall-clock reads and deferred callbacks so session timing can be driven by a fake in tests.
type Scheduler interface {
	Now() time.Time
	ScheduleAt(at time.Time, fn func()) Handle
}

// Handle cancels a scheduled callback. Cancel reports whether the callback was still pending.
type Handle interface {
	Cancel() bool
}

// Day returns the UTC calendar day of t as YYYY-MM-DD.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// System is the production scheduler backed by time.AfterFunc.
type System struct{}

var _ Scheduler = System{}

func (System) Now() time.Time {
	return time.Now()
}

func (System) ScheduleAt(at time.Time, fn func()) Handle {
	return systemHandle{t: time.AfterFunc(time.Until(at), fn)}
}

type systemHandle struct {
	t *time.Timer
}

func (h systemHandle) Cancel() bool {
	return h.t.Stop()
}

// Fake is a manually advanced scheduler. Callbacks run synchronously inside Advance/Set,
// outside the internal lock, in deadline order.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     int64
	pending map[int64]*fakeEntry
}

type fakeEntry struct {
	id int64
	at time.Time
	fn func()
}

var _ Scheduler = (*Fake)(nil)

// NewFake creates a fake scheduler starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, pending: make(map[int64]*fakeEntry)}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) ScheduleAt(at time.Time, fn func()) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	e := &fakeEntry{id: f.seq, at: at, fn: fn}
	f.pending[e.id] = e
	return &fakeHandle{f: f, id: e.id}
}

// Advance moves the clock forward by d and runs every callback that became due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()
	f.Set(target)
}

// Set moves the clock to t (never backwards) and runs due callbacks.
// Callbacks scheduled by callbacks are run too when already due.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	if t.After(f.now) {
		f.now = t
	}
	f.mu.Unlock()

	for {
		e := f.popDue()
		if e == nil {
			return
		}
		e.fn()
	}
}

// Pending returns the number of scheduled, not yet fired or cancelled callbacks.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *Fake) popDue() *fakeEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var next *fakeEntry
	for _, e := range f.pending {
		if e.at.After(f.now) {
			continue
		}
		if next == nil || e.at.Before(next.at) || (e.at.Equal(next.at) && e.id < next.id) {
			next = e
		}
	}
	if next != nil {
		delete(f.pending, next.id)
	}
	return next
}

type fakeHandle struct {
	f  *Fake
	id int64
}

func (h *fakeHandle) Cancel() bool {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	if _, ok := h.f.pending[h.id]; !ok {
		return false
	}
	delete(h.f.pending, h.id)
	return true
}
