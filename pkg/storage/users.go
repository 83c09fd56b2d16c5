package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInvalidUsername = errors.New("username must be 3-20 characters of a-z, 0-9 or _")
	ErrUsernameTaken   = errors.New("username is already taken")
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,20}$`)

// ValidUsername reports whether name is an acceptable public username.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// NewAPIToken returns a random opaque token.
func NewAPIToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *Store) CreateUser(ctx context.Context, name string) (User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, errors.New("user name is empty")
	}
	u := User{ID: uuid.New(), Name: name, APIToken: NewAPIToken()}
	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		return User{}, fmt.Errorf("create user %q: %w", name, err)
	}
	return u, nil
}

// UserByToken resolves a bearer token. ErrNotFound means the token is unknown.
func (s *Store) UserByToken(ctx context.Context, token string) (User, error) {
	if token == "" {
		return User{}, ErrNotFound
	}
	var u User
	err := s.db.WithContext(ctx).Where("api_token = ?", token).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user by token: %w", err)
	}
	return u, nil
}

// UpdateUsername sets the public username of a user. Usernames are unique.
func (s *Store) UpdateUsername(ctx context.Context, userID uuid.UUID, username string) error {
	if !ValidUsername(username) {
		return ErrInvalidUsername
	}
	res := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("username", username)
	if isDuplicate(res.Error) {
		return ErrUsernameTaken
	}
	if res.Error != nil {
		return fmt.Errorf("update username of %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
