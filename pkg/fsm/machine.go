package fsm

import (
	"github.com/looplab/fsm"
)

// NewWritingFSM builds the transition table of a writing session.
// The first event that leaves ModeWriting wins; later submit/elapse events
// are rejected by the table because ModeCompleted has no outgoing edges.
func NewWritingFSM(initialState Mode, callbacks fsm.Callbacks) *fsm.FSM {
	events := fsm.Events{
		{Name: EventStart, Src: []string{string(ModeInitial)}, Dst: string(ModeWriting)},
		{Name: EventEdit, Src: []string{string(ModeWriting)}, Dst: string(ModeWriting)},
		{Name: EventSubmit, Src: []string{string(ModeWriting)}, Dst: string(ModeCompleted)},
		{Name: EventElapse, Src: []string{string(ModeWriting)}, Dst: string(ModeCompleted)},
	}

	if callbacks == nil {
		callbacks = fsm.Callbacks{}
	}
	return fsm.NewFSM(string(initialState), events, callbacks)
}
