package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkalashnik/openwrite/pkg/ports"
)

var _ ports.Waitlist = (*Store)(nil)

// Subscribe adds email to the waitlist. An address that is already registered is
// not an error: created is false.
func (s *Store) Subscribe(ctx context.Context, email string) (bool, error) {
	row := RegisteredUser{Email: strings.ToLower(strings.TrimSpace(email))}
	err := s.db.WithContext(ctx).Create(&row).Error
	if isDuplicate(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("register %s: %w", row.Email, err)
	}
	return true, nil
}
