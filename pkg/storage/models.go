package storage

import (
	"time"

	"github.com/google/uuid"
)

// Prompt is the prompt scheduled for one UTC calendar day.
type Prompt struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	DateShown  time.Time `gorm:"type:date;uniqueIndex;not null" json:"date_shown"`
	PromptText string    `gorm:"type:text;not null" json:"prompt_text"`
}

func (Prompt) TableName() string { return "prompts" }

type Submission struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	UserID         uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	PromptID       int64     `gorm:"index;not null" json:"prompt_id"`
	SubmissionText string    `gorm:"type:text;not null" json:"submission_text"`
	IsAnonymous    bool      `gorm:"not null;default:false" json:"is_anonymous"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Submission) TableName() string { return "submissions" }

// RegisteredUser is a waitlist entry. Emails are stored lower-cased.
type RegisteredUser struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(320);uniqueIndex;not null" json:"email"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (RegisteredUser) TableName() string { return "registered_users" }

// User owns an API token that the bot presents as a bearer credential.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(120);not null" json:"name"`
	Username  *string   `gorm:"type:varchar(20);uniqueIndex" json:"username,omitempty"`
	APIToken  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string { return "users" }
