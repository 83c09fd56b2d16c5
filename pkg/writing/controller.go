package writing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dkalashnik/openwrite/pkg/clock"
	wfsm "github.com/dkalashnik/openwrite/pkg/fsm"
	"github.com/dkalashnik/openwrite/pkg/ports"
	"github.com/dkalashnik/openwrite/pkg/state"
	"github.com/dkalashnik/openwrite/pkg/timer"
)

var (
	ErrNoSession        = errors.New("session not bootstrapped")
	ErrSignInRequired   = errors.New("sign in required to start writing")
	ErrDraftFrozen      = errors.New("draft can only change while writing")
	ErrAlreadyCompleted = errors.New("today's prompt is already completed")
)

const DefaultSubmitTimeout = 15 * time.Second

// Deps wires a Controller to its collaborators. Submissions and Identity may be nil:
// without them every writer is treated as a guest and nothing is sent remotely.
type Deps struct {
	Prompts       ports.PromptSource
	Records       ports.RecordStore
	Submissions   ports.SubmissionSink
	Identity      ports.IdentityProvider
	Clock         clock.Scheduler
	Duration      time.Duration
	RequireSignIn bool
	SubmitTimeout time.Duration

	// OnComplete runs after every applied transition into completed, outside the
	// controller lock, with the snapshot taken at that transition.
	OnComplete func(wfsm.Snapshot)
}

// Controller hosts the writing session of one device. It serialises every event
// through one mutex, so the timer goroutine and user input cannot both leave writing.
type Controller struct {
	deviceID string
	deps     Deps

	mu       sync.Mutex
	session  *wfsm.Session
	timer    *timer.Timer
	degraded bool

	inflight sync.WaitGroup
}

func NewController(deviceID string, deps Deps) (*Controller, error) {
	if deps.Prompts == nil {
		return nil, fmt.Errorf("controller %s: prompt source is required", deviceID)
	}
	if deps.Records == nil {
		return nil, fmt.Errorf("controller %s: record store is required", deviceID)
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Duration <= 0 {
		return nil, fmt.Errorf("controller %s: duration must be positive", deviceID)
	}
	if deps.SubmitTimeout <= 0 {
		deps.SubmitTimeout = DefaultSubmitTimeout
	}
	return &Controller{deviceID: deviceID, deps: deps}, nil
}

func (c *Controller) DeviceID() string {
	return c.deviceID
}

// Bootstrap loads today's prompt and settles the session for it. A session that is
// still writing is kept untouched, and so is any session for the same day and prompt.
// Otherwise a fresh session starts in initial, or in completed when the local store
// already holds a finished record for today's prompt.
func (c *Controller) Bootstrap(ctx context.Context) (wfsm.Snapshot, error) {
	prompt, err := c.deps.Prompts.Today(ctx)
	if err != nil {
		return wfsm.Snapshot{}, fmt.Errorf("load today's prompt: %w", err)
	}
	day := clock.Day(c.deps.Clock.Now())

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur := c.session; cur != nil {
		if cur.Mode() == wfsm.ModeWriting || (cur.Day == day && cur.PromptID == prompt.ID) {
			return cur.Snapshot(), nil
		}
	}

	if c.timer != nil {
		c.timer.Cancel()
		c.timer = nil
	}

	s := wfsm.NewSession(prompt, day, c.deps.Duration)
	record, found, err := c.deps.Records.Get(ctx, s.Key())
	switch {
	case err != nil:
		c.degraded = true
		log.Printf("[Bootstrap] Device %s: local store unavailable, continuing without it: %v", c.deviceID, err)
	default:
		c.degraded = false
		if found && record.Completed {
			s.Restore(record)
			log.Printf("[Bootstrap] Device %s: restored completed session %s", c.deviceID, s.Key())
		}
	}
	c.session = s

	if pruner, ok := c.deps.Records.(ports.RecordPruner); ok && err == nil {
		if n, perr := pruner.Prune(ctx, day); perr != nil {
			log.Printf("[Bootstrap] Device %s: prune failed: %v", c.deviceID, perr)
		} else if n > 0 {
			log.Printf("[Bootstrap] Device %s: pruned %d records of other days", c.deviceID, n)
		}
	}

	return s.Snapshot(), nil
}

// Start moves initial into writing and arms the timer.
func (c *Controller) Start(ctx context.Context) (wfsm.Snapshot, error) {
	if c.deps.RequireSignIn && !c.signedIn(ctx) {
		return c.Snapshot(), ErrSignInRequired
	}

	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return wfsm.Snapshot{}, ErrNoSession
	}
	out, err := c.dispatchLocked(ctx, wfsm.Event{Name: wfsm.EventStart, At: c.deps.Clock.Now()})
	snap := c.session.Snapshot()
	c.mu.Unlock()

	if err != nil {
		return snap, err
	}
	if !out.Applied && out.From == wfsm.ModeCompleted {
		return snap, ErrAlreadyCompleted
	}
	return snap, nil
}

// Edit replaces the draft. It is refused outside writing and once the deadline passed.
func (c *Controller) Edit(ctx context.Context, text string) (wfsm.Snapshot, error) {
	return c.edit(ctx, func(string) string { return text })
}

// Append adds text to the draft as a new line.
func (c *Controller) Append(ctx context.Context, text string) (wfsm.Snapshot, error) {
	return c.edit(ctx, func(draft string) string {
		if draft == "" {
			return text
		}
		return draft + "\n" + text
	})
}

func (c *Controller) edit(ctx context.Context, next func(draft string) string) (wfsm.Snapshot, error) {
	c.Tick()

	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return wfsm.Snapshot{}, ErrNoSession
	}
	now := c.deps.Clock.Now()
	s := c.session
	if s.Mode() == wfsm.ModeWriting && !now.Before(s.Deadline) {
		snap := s.Snapshot()
		c.mu.Unlock()
		c.Tick()
		return snap, ErrDraftFrozen
	}

	out, err := c.dispatchLocked(ctx, wfsm.Event{Name: wfsm.EventEdit, At: now, Text: next(s.Draft)})
	snap := s.Snapshot()
	c.mu.Unlock()

	if err != nil {
		return snap, err
	}
	if !out.Applied {
		return snap, ErrDraftFrozen
	}
	return snap, nil
}

// SetAnonymous toggles the anonymity flag; refused once completed.
func (c *Controller) SetAnonymous(anonymous bool) (wfsm.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return wfsm.Snapshot{}, false
	}
	ok := c.session.SetAnonymous(anonymous)
	return c.session.Snapshot(), ok
}

// Submit ends writing early. A second exit from writing, manual or timed, is a no-op
// and reports applied=false.
func (c *Controller) Submit(ctx context.Context) (wfsm.Snapshot, bool, error) {
	return c.complete(ctx, wfsm.EventSubmit, nil)
}

// elapse is the timer callback of armed. A callback that lost the race with a
// rollover must not complete the session that replaced it.
func (c *Controller) elapse(armed *wfsm.Session) {
	if _, applied, err := c.complete(context.Background(), wfsm.EventElapse, armed); err != nil {
		log.Printf("[elapse] Device %s: %v", c.deviceID, err)
	} else if applied {
		log.Printf("[elapse] Device %s: time is up", c.deviceID)
	}
}

func (c *Controller) complete(ctx context.Context, event string, armed *wfsm.Session) (wfsm.Snapshot, bool, error) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return wfsm.Snapshot{}, false, ErrNoSession
	}
	if armed != nil && armed != c.session {
		snap := c.session.Snapshot()
		c.mu.Unlock()
		log.Printf("[elapse] Device %s: stale timer for session %s ignored", c.deviceID, armed.Key())
		return snap, false, nil
	}
	out, err := c.dispatchLocked(ctx, wfsm.Event{Name: event, At: c.deps.Clock.Now()})
	snap := c.session.Snapshot()
	c.mu.Unlock()

	if err != nil {
		return snap, false, err
	}
	if out.Completed() && c.deps.OnComplete != nil {
		c.deps.OnComplete(snap)
	}
	return snap, out.Completed(), nil
}

// Tick drives the timer from the host loop. A host that was suspended past the
// deadline completes the session here.
func (c *Controller) Tick() {
	c.mu.Lock()
	t := c.timer
	c.mu.Unlock()
	if t != nil {
		t.Poll()
	}
}

func (c *Controller) Snapshot() wfsm.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return wfsm.Snapshot{}
	}
	return c.session.Snapshot()
}

// Remaining is zero outside writing.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.Mode() != wfsm.ModeWriting || c.timer == nil {
		return 0
	}
	return c.timer.Remaining()
}

// Degraded reports that the last local store access failed.
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Wait blocks until every in-flight submission has returned.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// Close cancels the pending timer. The session stays readable.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Cancel()
		c.timer = nil
	}
}

func (c *Controller) dispatchLocked(ctx context.Context, ev wfsm.Event) (wfsm.Outcome, error) {
	s := c.session
	out, err := s.Dispatch(ctx, ev)
	if err != nil {
		return out, err
	}
	if !out.Applied {
		log.Printf("[dispatch] Device %s: event '%s' ignored in mode %s", c.deviceID, ev.Name, out.From)
		return out, nil
	}
	for _, eff := range out.Effects {
		c.applyLocked(ctx, s, eff)
	}
	return out, nil
}

func (c *Controller) applyLocked(ctx context.Context, s *wfsm.Session, eff wfsm.Effect) {
	switch eff.Kind {
	case wfsm.EffectCancelTimer:
		if c.timer != nil {
			c.timer.Cancel()
			c.timer = nil
		}
	case wfsm.EffectStartTimer:
		c.timer = timer.StartAt(c.deps.Clock, eff.Deadline, func() { c.elapse(s) })
	case wfsm.EffectPersist:
		if err := c.deps.Records.Set(ctx, eff.Key, eff.Record); err != nil {
			c.degraded = true
			log.Printf("[applyEffect] Device %s: failed to persist %s, keeping it in memory only: %v", c.deviceID, eff.Key, err)
			return
		}
		c.degraded = false
	case wfsm.EffectSubmit:
		c.submitAsync(ctx, eff.Submission)
	default:
		log.Printf("[applyEffect] Device %s: unknown effect '%s' from session %s", c.deviceID, eff.Kind, s.Key())
	}
}

func (c *Controller) submitAsync(ctx context.Context, sub state.Submission) {
	if c.deps.Submissions == nil || c.deps.Identity == nil {
		return
	}
	id, ok := c.deps.Identity.Current(ctx)
	if !ok || strings.TrimSpace(id.Token) == "" {
		log.Printf("[submit] Device %s: guest session, prompt %s kept locally only", c.deviceID, sub.PromptID)
		return
	}
	sub.Identity = id

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		sctx, cancel := context.WithTimeout(context.Background(), c.deps.SubmitTimeout)
		defer cancel()
		if err := c.deps.Submissions.Submit(sctx, sub); err != nil {
			log.Printf("[submit] Device %s: submission for prompt %s failed (code=%s): %v", c.deviceID, sub.PromptID, ports.CodeOf(err), err)
			return
		}
		log.Printf("[submit] Device %s: submission for prompt %s accepted", c.deviceID, sub.PromptID)
	}()
}

func (c *Controller) signedIn(ctx context.Context) bool {
	if c.deps.Identity == nil {
		return false
	}
	id, ok := c.deps.Identity.Current(ctx)
	return ok && strings.TrimSpace(id.Token) != ""
}
