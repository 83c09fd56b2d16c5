package ports

import (
	"context"

	"github.com/dkalashnik/openwrite/pkg/state"
)

// ChatMessage captures transport-agnostic identifiers for a sent message.
type ChatMessage struct {
	ChatID    int64
	MessageID int
	Transport string
	Payload   string
	Meta      map[string]string
}

// ChatPort abstracts outbound chat operations (Telegram, fake, etc.).
type ChatPort interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup interface{}) (ChatMessage, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, markup interface{}) (ChatMessage, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// PromptSource supplies today's prompt.
type PromptSource interface {
	Today(ctx context.Context) (state.Prompt, error)
}

// RecordStore is the device-local persistence of finished sessions.
type RecordStore interface {
	Get(ctx context.Context, key state.RecordKey) (state.PersistedRecord, bool, error)
	Set(ctx context.Context, key state.RecordKey, record state.PersistedRecord) error
}

// RecordPruner is implemented by stores that can evict records of other days.
type RecordPruner interface {
	Prune(ctx context.Context, keepDay string) (int, error)
}

// SubmissionSink durably records a finished submission for a signed-in writer.
type SubmissionSink interface {
	Submit(ctx context.Context, submission state.Submission) error
}

// NotificationSink emails a copy of a submission and registers the address for updates.
type NotificationSink interface {
	Notify(ctx context.Context, notification state.Notification) error
}

// IdentityProvider reports the signed-in writer, if any, at the moment of the call.
type IdentityProvider interface {
	Current(ctx context.Context) (state.Identity, bool)
}

// Waitlist registers an email address for product updates. created is false when
// the address was already registered.
type Waitlist interface {
	Subscribe(ctx context.Context, email string) (created bool, err error)
}
