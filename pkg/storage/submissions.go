package storage

import (
	"context"
	"fmt"
)

func (s *Store) SaveSubmission(ctx context.Context, sub *Submission) error {
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("insert submission for prompt %d: %w", sub.PromptID, err)
	}
	return nil
}
