package fsm

// Mode is the view mode of a writing session.
type Mode string

const (
	ModeInitial   Mode = "initial"
	ModeWriting   Mode = "writing"
	ModeCompleted Mode = "completed"
)

const (
	EventStart  = "start"
	EventEdit   = "edit"
	EventSubmit = "submit"
	EventElapse = "elapse"
)

// EffectKind names a side effect the session asks its host to perform.
type EffectKind string

const (
	EffectCancelTimer EffectKind = "cancel_timer"
	EffectStartTimer  EffectKind = "start_timer"
	EffectPersist     EffectKind = "persist"
	EffectSubmit      EffectKind = "submit"
)
