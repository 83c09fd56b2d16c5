package writing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkalashnik/openwrite/pkg/clock"
	wfsm "github.com/dkalashnik/openwrite/pkg/fsm"
	"github.com/dkalashnik/openwrite/pkg/state"
)

var t0 = time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

func (l *callLog) count(call string) int {
	n := 0
	for _, c := range l.snapshot() {
		if c == call {
			n++
		}
	}
	return n
}

type fakePrompts struct {
	mu     sync.Mutex
	prompt state.Prompt
	err    error
}

func (f *fakePrompts) Today(context.Context) (state.Prompt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompt, f.err
}

func (f *fakePrompts) set(p state.Prompt) {
	f.mu.Lock()
	f.prompt = p
	f.mu.Unlock()
}

type fakeStore struct {
	log     *callLog
	mu      sync.Mutex
	records map[state.RecordKey]state.PersistedRecord
	getErr  error
	setErr  error
}

func newFakeStore(log *callLog) *fakeStore {
	return &fakeStore{log: log, records: make(map[state.RecordKey]state.PersistedRecord)}
}

func (s *fakeStore) Get(_ context.Context, key state.RecordKey) (state.PersistedRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return state.PersistedRecord{}, false, s.getErr
	}
	rec, ok := s.records[key]
	return rec, ok, nil
}

func (s *fakeStore) Set(_ context.Context, key state.RecordKey, rec state.PersistedRecord) error {
	s.log.add("persist")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.records[key] = rec
	return nil
}

func (s *fakeStore) get(key state.RecordKey) (state.PersistedRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok
}

type fakeSink struct {
	log  *callLog
	mu   sync.Mutex
	subs []state.Submission
	err  error
}

func (f *fakeSink) Submit(_ context.Context, sub state.Submission) error {
	f.log.add("submit")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
	return f.err
}

func (f *fakeSink) submissions() []state.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]state.Submission, len(f.subs))
	copy(out, f.subs)
	return out
}

type fakeIdentity struct {
	id state.Identity
	ok bool
}

func (f fakeIdentity) Current(context.Context) (state.Identity, bool) {
	return f.id, f.ok
}

// silentClock never runs scheduled callbacks, like a host whose timers are throttled.
type silentClock struct {
	mu  sync.Mutex
	now time.Time
}

type noopHandle struct{}

func (noopHandle) Cancel() bool { return true }

func (c *silentClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *silentClock) ScheduleAt(time.Time, func()) clock.Handle { return noopHandle{} }

func (c *silentClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	clk       *clock.Fake
	log       *callLog
	prompts   *fakePrompts
	store     *fakeStore
	sink      *fakeSink
	ctrl      *Controller
	completed []wfsm.Snapshot
	mu        sync.Mutex
}

func newHarness(t *testing.T, signedIn bool, mutate func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		clk:     clock.NewFake(t0),
		log:     &callLog{},
		prompts: &fakePrompts{prompt: state.Prompt{ID: "7", Text: "Describe the taste of joy."}},
	}
	h.store = newFakeStore(h.log)
	h.sink = &fakeSink{log: h.log}
	deps := Deps{
		Prompts:     h.prompts,
		Records:     h.store,
		Submissions: h.sink,
		Identity:    fakeIdentity{id: state.Identity{UserID: "u-1", Token: "tok"}, ok: signedIn},
		Clock:       h.clk,
		Duration:    180 * time.Second,
		OnComplete: func(s wfsm.Snapshot) {
			h.mu.Lock()
			h.completed = append(h.completed, s)
			h.mu.Unlock()
		},
	}
	if mutate != nil {
		mutate(&deps)
	}
	ctrl, err := NewController("42", deps)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	h.ctrl = ctrl
	return h
}

func (h *harness) completions() []wfsm.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]wfsm.Snapshot, len(h.completed))
	copy(out, h.completed)
	return out
}

func (h *harness) startWriting(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.ctrl.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	snap, err := h.ctrl.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if snap.Mode != wfsm.ModeWriting {
		t.Fatalf("expected writing after start, got %s", snap.Mode)
	}
}

func TestTimerCompletesWithLatestDraft(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	h.startWriting(t)

	if _, err := h.ctrl.Append(ctx, "first"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	h.clk.Advance(100 * time.Second)
	if _, err := h.ctrl.Append(ctx, "second"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	h.clk.Advance(79*time.Second + 900*time.Millisecond)
	if got := h.ctrl.Snapshot().Mode; got != wfsm.ModeWriting {
		t.Fatalf("expected still writing at 179.9s, got %s", got)
	}
	if r := h.ctrl.Remaining(); r != 100*time.Millisecond {
		t.Fatalf("expected 100ms remaining, got %v", r)
	}

	h.clk.Advance(100 * time.Millisecond)
	h.ctrl.Wait()

	snap := h.ctrl.Snapshot()
	if snap.Mode != wfsm.ModeCompleted || snap.FinalText != "first\nsecond" {
		t.Fatalf("unexpected snapshot after deadline: %+v", snap)
	}
	rec, ok := h.store.get(state.RecordKey{Day: "2026-10-16", PromptID: "7"})
	if !ok || !rec.Completed || rec.FinalText != "first\nsecond" {
		t.Fatalf("unexpected local record %+v (found=%v)", rec, ok)
	}
	subs := h.sink.submissions()
	if len(subs) != 1 || subs[0].Text != "first\nsecond" || subs[0].Identity.Token != "tok" {
		t.Fatalf("unexpected submissions %+v", subs)
	}
	if !subs[0].FinishedAt.Equal(t0.Add(180 * time.Second)) {
		t.Fatalf("unexpected finish time %v", subs[0].FinishedAt)
	}
	if len(h.completions()) != 1 {
		t.Fatalf("expected one completion callback, got %d", len(h.completions()))
	}
	if h.ctrl.Remaining() != 0 {
		t.Fatalf("expected zero remaining after completion")
	}
}

func TestPersistRunsBeforeRemoteSubmit(t *testing.T) {
	h := newHarness(t, true, nil)
	h.startWriting(t)
	_, _ = h.ctrl.Edit(context.Background(), "draft")

	if _, applied, err := h.ctrl.Submit(context.Background()); err != nil || !applied {
		t.Fatalf("Submit applied=%v err=%v", applied, err)
	}
	h.ctrl.Wait()

	calls := h.log.snapshot()
	if len(calls) != 2 || calls[0] != "persist" || calls[1] != "submit" {
		t.Fatalf("expected persist then submit, got %v", calls)
	}
}

func TestManualSubmitDisarmsTimer(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	h.startWriting(t)

	h.clk.Advance(45 * time.Second)
	_, _ = h.ctrl.Edit(ctx, "early bird")
	if _, applied, err := h.ctrl.Submit(ctx); err != nil || !applied {
		t.Fatalf("Submit applied=%v err=%v", applied, err)
	}
	if h.clk.Pending() != 0 {
		t.Fatalf("expected no pending timer callbacks, got %d", h.clk.Pending())
	}

	h.clk.Advance(10 * time.Minute)
	h.ctrl.Tick()
	h.ctrl.Wait()

	if n := h.log.count("persist"); n != 1 {
		t.Fatalf("expected a single persist, got %d", n)
	}
	if n := len(h.sink.submissions()); n != 1 {
		t.Fatalf("expected a single submission, got %d", n)
	}
	if n := len(h.completions()); n != 1 {
		t.Fatalf("expected a single completion, got %d", n)
	}
}

func TestSubmitRacingElapseSubmitsOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t, true, nil)
		h.startWriting(t)
		_, _ = h.ctrl.Edit(context.Background(), "race")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.clk.Advance(180 * time.Second)
		}()
		go func() {
			defer wg.Done()
			_, _, _ = h.ctrl.Submit(context.Background())
		}()
		wg.Wait()
		h.ctrl.Wait()

		if n := len(h.sink.submissions()); n != 1 {
			t.Fatalf("iteration %d: expected exactly one submission, got %d", i, n)
		}
		if n := h.log.count("persist"); n != 1 {
			t.Fatalf("iteration %d: expected exactly one persist, got %d", i, n)
		}
	}
}

func TestSecondSubmitIsNoop(t *testing.T) {
	h := newHarness(t, true, nil)
	h.startWriting(t)
	ctx := context.Background()

	_, first, _ := h.ctrl.Submit(ctx)
	_, second, err := h.ctrl.Submit(ctx)
	h.ctrl.Wait()

	if !first || second || err != nil {
		t.Fatalf("first=%v second=%v err=%v", first, second, err)
	}
	if n := len(h.sink.submissions()); n != 1 {
		t.Fatalf("expected one submission, got %d", n)
	}
}

func TestGuestCompletesLocallyOnly(t *testing.T) {
	h := newHarness(t, false, nil)
	h.startWriting(t)
	_, _ = h.ctrl.Edit(context.Background(), "no account")

	h.clk.Advance(3 * time.Minute)
	h.ctrl.Wait()

	if got := h.ctrl.Snapshot().Mode; got != wfsm.ModeCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	if _, ok := h.store.get(state.RecordKey{Day: "2026-10-16", PromptID: "7"}); !ok {
		t.Fatalf("expected local record for guest")
	}
	if n := len(h.sink.submissions()); n != 0 {
		t.Fatalf("expected no remote submission for guest, got %d", n)
	}
}

func TestRemoteFailureKeepsCompletion(t *testing.T) {
	h := newHarness(t, true, nil)
	h.sink.err = errors.New("backend down")
	h.startWriting(t)
	_, _ = h.ctrl.Edit(context.Background(), "kept")

	if _, applied, err := h.ctrl.Submit(context.Background()); err != nil || !applied {
		t.Fatalf("Submit applied=%v err=%v", applied, err)
	}
	h.ctrl.Wait()

	snap := h.ctrl.Snapshot()
	if snap.Mode != wfsm.ModeCompleted || snap.FinalText != "kept" {
		t.Fatalf("remote failure must not revert completion: %+v", snap)
	}
	if _, ok := h.store.get(state.RecordKey{Day: "2026-10-16", PromptID: "7"}); !ok {
		t.Fatalf("expected local record despite remote failure")
	}
}

func TestEditRejectedOutsideWriting(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	if _, err := h.ctrl.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if _, err := h.ctrl.Edit(ctx, "too soon"); !errors.Is(err, ErrDraftFrozen) {
		t.Fatalf("expected ErrDraftFrozen in initial, got %v", err)
	}

	if _, err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, _ = h.ctrl.Edit(ctx, "final")
	_, _, _ = h.ctrl.Submit(ctx)

	snap, err := h.ctrl.Edit(ctx, "too late")
	if !errors.Is(err, ErrDraftFrozen) {
		t.Fatalf("expected ErrDraftFrozen in completed, got %v", err)
	}
	if snap.FinalText != "final" {
		t.Fatalf("final text changed to %q", snap.FinalText)
	}
	if _, err := h.ctrl.Start(ctx); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}
}

func TestSuspendedHostCompletesOnTick(t *testing.T) {
	clk := &silentClock{now: t0}
	h := newHarness(t, true, func(d *Deps) { d.Clock = clk })
	ctx := context.Background()
	h.startWriting(t)
	_, _ = h.ctrl.Edit(ctx, "written before sleep")

	clk.advance(10 * time.Minute)

	if _, err := h.ctrl.Edit(ctx, "written after wake"); !errors.Is(err, ErrDraftFrozen) {
		t.Fatalf("expected edit after deadline to be refused, got %v", err)
	}
	h.ctrl.Wait()

	snap := h.ctrl.Snapshot()
	if snap.Mode != wfsm.ModeCompleted || snap.FinalText != "written before sleep" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if n := len(h.completions()); n != 1 {
		t.Fatalf("expected one completion, got %d", n)
	}
}

func TestBootstrapRestoresCompletedRecord(t *testing.T) {
	h := newHarness(t, true, nil)
	key := state.RecordKey{Day: "2026-10-16", PromptID: "7"}
	h.store.records[key] = state.PersistedRecord{FinalText: "from yesterday's tab", Completed: true}

	snap, err := h.ctrl.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if snap.Mode != wfsm.ModeCompleted || snap.FinalText != "from yesterday's tab" || snap.Draft != "from yesterday's tab" {
		t.Fatalf("unexpected restored snapshot %+v", snap)
	}
	if len(h.completions()) != 0 || len(h.log.snapshot()) != 0 {
		t.Fatalf("restore must not persist, submit or notify")
	}
}

func TestBootstrapIgnoresOtherPromptRecord(t *testing.T) {
	h := newHarness(t, true, nil)
	h.store.records[state.RecordKey{Day: "2026-10-16", PromptID: "3"}] = state.PersistedRecord{FinalText: "other", Completed: true}

	snap, err := h.ctrl.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if snap.Mode != wfsm.ModeInitial || snap.Draft != "" {
		t.Fatalf("expected initial session, got %+v", snap)
	}
}

func TestBootstrapRollsOverToNewDay(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	h.startWriting(t)
	_, _ = h.ctrl.Edit(ctx, "day one")
	_, _, _ = h.ctrl.Submit(ctx)
	h.ctrl.Wait()

	if snap, _ := h.ctrl.Bootstrap(ctx); snap.Mode != wfsm.ModeCompleted {
		t.Fatalf("same day bootstrap should keep completed, got %s", snap.Mode)
	}

	h.clk.Advance(24 * time.Hour)
	h.prompts.set(state.Prompt{ID: "8", Text: "A conversation between the moon and the sea."})

	snap, err := h.ctrl.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if snap.Mode != wfsm.ModeInitial || snap.Day != "2026-10-17" || snap.PromptID != "8" || snap.Draft != "" {
		t.Fatalf("unexpected snapshot after rollover %+v", snap)
	}
}

func TestBootstrapKeepsSessionInProgress(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	h.startWriting(t)
	_, _ = h.ctrl.Edit(ctx, "keep me")

	snap, err := h.ctrl.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if snap.Mode != wfsm.ModeWriting || snap.Draft != "keep me" {
		t.Fatalf("bootstrap interrupted a running session: %+v", snap)
	}
}

func TestDegradedStoreKeepsSessionWorking(t *testing.T) {
	h := newHarness(t, true, nil)
	h.store.getErr = errors.New("disk gone")
	h.store.setErr = errors.New("disk gone")
	ctx := context.Background()

	snap, err := h.ctrl.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap must not fail on a broken store: %v", err)
	}
	if snap.Mode != wfsm.ModeInitial || !h.ctrl.Degraded() {
		t.Fatalf("expected degraded initial session, got %+v degraded=%v", snap, h.ctrl.Degraded())
	}

	if _, err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, _ = h.ctrl.Edit(ctx, "in memory")
	h.clk.Advance(3 * time.Minute)
	h.ctrl.Wait()

	if got := h.ctrl.Snapshot(); got.Mode != wfsm.ModeCompleted || got.FinalText != "in memory" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if n := len(h.sink.submissions()); n != 1 {
		t.Fatalf("expected submission despite degraded store, got %d", n)
	}
}

func TestRequireSignInGatesStart(t *testing.T) {
	h := newHarness(t, false, func(d *Deps) { d.RequireSignIn = true })
	ctx := context.Background()
	if _, err := h.ctrl.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	snap, err := h.ctrl.Start(ctx)
	if !errors.Is(err, ErrSignInRequired) {
		t.Fatalf("expected ErrSignInRequired, got %v", err)
	}
	if snap.Mode != wfsm.ModeInitial {
		t.Fatalf("expected initial, got %s", snap.Mode)
	}
}

func TestBootstrapPropagatesPromptError(t *testing.T) {
	h := newHarness(t, true, nil)
	sentinel := errors.New("no prompt today")
	h.prompts.err = sentinel

	if _, err := h.ctrl.Bootstrap(context.Background()); !errors.Is(err, sentinel) {
		t.Fatalf("expected prompt error, got %v", err)
	}
	if _, err := h.ctrl.Start(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestAnonymityCarriedIntoSubmission(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	h.startWriting(t)

	if _, ok := h.ctrl.SetAnonymous(true); !ok {
		t.Fatalf("expected anonymity toggle while writing")
	}
	_, _, _ = h.ctrl.Submit(ctx)
	h.ctrl.Wait()

	if _, ok := h.ctrl.SetAnonymous(false); ok {
		t.Fatalf("anonymity must be frozen after completion")
	}
	subs := h.sink.submissions()
	if len(subs) != 1 || !subs[0].IsAnonymous {
		t.Fatalf("expected anonymous submission, got %+v", subs)
	}
}

func TestStaleTimerCallbackDoesNotCompleteNextSession(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	h.startWriting(t)

	h.ctrl.mu.Lock()
	armed := h.ctrl.session
	h.ctrl.mu.Unlock()

	_, _, _ = h.ctrl.Submit(ctx)
	h.clk.Advance(24 * time.Hour)
	h.prompts.set(state.Prompt{ID: "8", Text: "The secret life of a forgotten toy."})
	h.startWriting(t)
	_, _ = h.ctrl.Edit(ctx, "new day")

	// A callback of the first session that was already running when it was submitted.
	h.ctrl.elapse(armed)
	h.ctrl.Wait()

	snap := h.ctrl.Snapshot()
	if snap.Mode != wfsm.ModeWriting || snap.PromptID != "8" || snap.Draft != "new day" {
		t.Fatalf("stale callback touched the new session: %+v", snap)
	}
	if n := len(h.completions()); n != 1 {
		t.Fatalf("expected only the first completion, got %d", n)
	}
}

func TestBootstrapClearsDegradedAfterRestore(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	h.store.getErr = errors.New("disk unavailable")

	if _, err := h.ctrl.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if !h.ctrl.Degraded() {
		t.Fatalf("expected degraded after store failure")
	}

	h.clk.Advance(24 * time.Hour)
	h.prompts.set(state.Prompt{ID: "8", Text: "The secret life of a forgotten toy."})
	h.store.mu.Lock()
	h.store.getErr = nil
	h.store.records[state.RecordKey{Day: "2026-10-17", PromptID: "8"}] = state.PersistedRecord{FinalText: "done", Completed: true}
	h.store.mu.Unlock()

	snap, err := h.ctrl.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if snap.Mode != wfsm.ModeCompleted {
		t.Fatalf("expected restored session, got %s", snap.Mode)
	}
	if h.ctrl.Degraded() {
		t.Fatalf("expected degraded to clear after a successful restore")
	}
}
