package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dkalashnik/openwrite/pkg/prompt"
	"github.com/dkalashnik/openwrite/pkg/state"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ prompt.DayLookup = (*Store)(nil)

// PromptForDay returns the prompt whose date_shown is day ("2006-01-02").
func (s *Store) PromptForDay(ctx context.Context, day string) (state.Prompt, bool, error) {
	var row Prompt
	err := s.db.WithContext(ctx).Where("date_shown = ?", day).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return state.Prompt{}, false, nil
	}
	if err != nil {
		return state.Prompt{}, false, fmt.Errorf("query prompt for %s: %w", day, err)
	}
	return state.Prompt{ID: strconv.FormatInt(row.ID, 10), Text: row.PromptText}, true, nil
}

// PromptSchedule lays texts out over days consecutive UTC dates starting at from,
// cycling through the list.
func PromptSchedule(from time.Time, days int, texts []string) []Prompt {
	if days <= 0 || len(texts) == 0 {
		return nil
	}
	from = from.UTC()
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	rows := make([]Prompt, 0, days)
	for i := 0; i < days; i++ {
		rows = append(rows, Prompt{
			DateShown:  start.AddDate(0, 0, i),
			PromptText: texts[i%len(texts)],
		})
	}
	return rows
}

// SeedPrompts upserts the schedule on date_shown and returns how many days it wrote.
func (s *Store) SeedPrompts(ctx context.Context, from time.Time, days int, texts []string) (int, error) {
	rows := PromptSchedule(from, days, texts)
	if len(rows) == 0 {
		return 0, nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date_shown"}},
		DoUpdates: clause.AssignmentColumns([]string{"prompt_text"}),
	}).Create(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("seed prompts: %w", err)
	}
	return len(rows), nil
}
