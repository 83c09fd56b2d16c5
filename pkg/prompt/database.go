package prompt

import (
	"context"
	"fmt"

	"github.com/dkalashnik/openwrite/pkg/clock"
	"github.com/dkalashnik/openwrite/pkg/ports"
	"github.com/dkalashnik/openwrite/pkg/state"
)

// DayLookup finds the prompt scheduled for a UTC calendar day ("2006-01-02").
type DayLookup interface {
	PromptForDay(ctx context.Context, day string) (state.Prompt, bool, error)
}

// Database serves the row whose scheduled date equals today.
type Database struct {
	lookup DayLookup
	clock  clock.Scheduler
}

var _ ports.PromptSource = (*Database)(nil)

func NewDatabase(lookup DayLookup, c clock.Scheduler) *Database {
	if c == nil {
		c = clock.System{}
	}
	return &Database{lookup: lookup, clock: c}
}

func (d *Database) Today(ctx context.Context) (state.Prompt, error) {
	day := clock.Day(d.clock.Now())
	p, ok, err := d.lookup.PromptForDay(ctx, day)
	if err != nil {
		return state.Prompt{}, fmt.Errorf("lookup prompt for %s: %w", day, err)
	}
	if !ok {
		return state.Prompt{}, ErrPromptUnavailable
	}
	return p, nil
}
