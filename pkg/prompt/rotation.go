package prompt

import (
	"context"
	"strconv"

	"github.com/dkalashnik/openwrite/pkg/clock"
	"github.com/dkalashnik/openwrite/pkg/ports"
	"github.com/dkalashnik/openwrite/pkg/state"
)

// Rotation picks prompts[dayOfYear mod N] for the current UTC date, so every writer
// sees the same prompt on the same day and the list cycles every N days.
type Rotation struct {
	prompts []string
	clock   clock.Scheduler
}

var _ ports.PromptSource = (*Rotation)(nil)

func NewRotation(prompts []string, c clock.Scheduler) *Rotation {
	if c == nil {
		c = clock.System{}
	}
	cp := make([]string, len(prompts))
	copy(cp, prompts)
	return &Rotation{prompts: cp, clock: c}
}

func (r *Rotation) Today(_ context.Context) (state.Prompt, error) {
	if len(r.prompts) == 0 {
		return state.Prompt{ID: "0", Text: FallbackPrompt}, nil
	}
	dayOfYear := r.clock.Now().UTC().YearDay()
	idx := dayOfYear % len(r.prompts)
	return state.Prompt{
		ID:   strconv.Itoa(idx + 1),
		Text: r.prompts[idx],
	}, nil
}
