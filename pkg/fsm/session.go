package fsm

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dkalashnik/openwrite/pkg/state"

	"github.com/looplab/fsm"
)

// Event is dispatched into a Session. At is the host's current time.
type Event struct {
	Name string
	At   time.Time
	Text string
}

// Effect is a side effect requested by a transition. Sessions never perform I/O themselves.
type Effect struct {
	Kind       EffectKind
	Deadline   time.Time
	Key        state.RecordKey
	Record     state.PersistedRecord
	Submission state.Submission
}

// Outcome describes the result of one Dispatch.
type Outcome struct {
	Event   string
	From    Mode
	To      Mode
	Applied bool
	Effects []Effect
}

// Completed reports whether this dispatch moved the session into ModeCompleted.
func (o Outcome) Completed() bool {
	return o.Applied && o.From != ModeCompleted && o.To == ModeCompleted
}

// Snapshot is a read-only copy of the session fields.
type Snapshot struct {
	Mode       Mode
	Day        string
	PromptID   string
	PromptText string
	Draft      string
	FinalText  string
	Anonymous  bool
	Deadline   time.Time
}

// Session is one writer's attempt at the prompt of one day.
type Session struct {
	Day        string
	PromptID   string
	PromptText string
	Draft      string
	FinalText  string
	Anonymous  bool
	Deadline   time.Time

	duration time.Duration
	machine  *fsm.FSM
	effects  []Effect
}

// NewSession creates a session in ModeInitial for prompt on day.
func NewSession(prompt state.Prompt, day string, duration time.Duration) *Session {
	s := &Session{
		Day:        day,
		PromptID:   prompt.ID,
		PromptText: prompt.Text,
		duration:   duration,
	}
	s.machine = NewWritingFSM(ModeInitial, fsm.Callbacks{
		"enter_" + string(ModeWriting):   s.enterWriting,
		"before_" + EventEdit:            s.beforeEdit,
		"enter_" + string(ModeCompleted): s.enterCompleted,
	})
	return s
}

func (s *Session) Mode() Mode {
	return Mode(s.machine.Current())
}

func (s *Session) Key() state.RecordKey {
	return state.RecordKey{Day: s.Day, PromptID: s.PromptID}
}

// Restore jumps straight into ModeCompleted from a local record, without effects.
func (s *Session) Restore(record state.PersistedRecord) {
	s.Draft = record.FinalText
	s.FinalText = record.FinalText
	s.machine.SetState(string(ModeCompleted))
}

// SetAnonymous updates the anonymity flag. It is read at submission time,
// so changing it after completion is refused.
func (s *Session) SetAnonymous(anonymous bool) bool {
	if s.Mode() == ModeCompleted {
		return false
	}
	s.Anonymous = anonymous
	return true
}

// Dispatch applies ev and returns the effects the host must run.
// Events the current mode does not accept return Applied=false and no error.
func (s *Session) Dispatch(ctx context.Context, ev Event) (Outcome, error) {
	from := s.Mode()
	s.effects = nil

	err := s.machine.Event(ctx, ev.Name, ev)

	out := Outcome{
		Event:   ev.Name,
		From:    from,
		To:      s.Mode(),
		Effects: s.effects,
	}
	s.effects = nil

	switch {
	case err == nil, isNoTransitionError(err):
		out.Applied = true
		return out, nil
	case isInvalidEventError(err):
		return out, nil
	default:
		return out, fmt.Errorf("dispatch %s from %s: %w", ev.Name, from, err)
	}
}

func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		Mode:       s.Mode(),
		Day:        s.Day,
		PromptID:   s.PromptID,
		PromptText: s.PromptText,
		Draft:      s.Draft,
		FinalText:  s.FinalText,
		Anonymous:  s.Anonymous,
		Deadline:   s.Deadline,
	}
}

func (s *Session) enterWriting(_ context.Context, e *fsm.Event) {
	ev, ok := eventArg(e)
	if !ok {
		return
	}
	s.Draft = ""
	s.FinalText = ""
	s.Deadline = ev.At.Add(s.duration)
	s.effects = append(s.effects,
		Effect{Kind: EffectCancelTimer},
		Effect{Kind: EffectStartTimer, Deadline: s.Deadline},
	)
	log.Printf("[enterWriting] Session %s started, deadline %s", s.Key(), s.Deadline.Format(time.RFC3339))
}

func (s *Session) beforeEdit(_ context.Context, e *fsm.Event) {
	ev, ok := eventArg(e)
	if !ok {
		e.Cancel(fmt.Errorf("edit without event payload"))
		return
	}
	s.Draft = ev.Text
}

func (s *Session) enterCompleted(_ context.Context, e *fsm.Event) {
	ev, ok := eventArg(e)
	if !ok {
		ev = Event{Name: e.Event}
	}
	s.FinalText = s.Draft
	key := s.Key()
	s.effects = append(s.effects,
		Effect{Kind: EffectCancelTimer},
		Effect{Kind: EffectPersist, Key: key, Record: state.PersistedRecord{FinalText: s.FinalText, Completed: true}},
		Effect{Kind: EffectSubmit, Key: key, Submission: state.Submission{
			PromptID:    s.PromptID,
			Text:        s.FinalText,
			IsAnonymous: s.Anonymous,
			FinishedAt:  ev.At,
		}},
	)
	log.Printf("[enterCompleted] Session %s completed via '%s' (%d chars)", key, e.Event, len(s.FinalText))
}

func eventArg(e *fsm.Event) (Event, bool) {
	if len(e.Args) < 1 {
		log.Printf("[eventArg] Error: no arguments for event %s", e.Event)
		return Event{}, false
	}
	ev, ok := e.Args[0].(Event)
	if !ok {
		log.Printf("[eventArg] Error: unexpected argument type %T for event %s", e.Args[0], e.Event)
	}
	return ev, ok
}
