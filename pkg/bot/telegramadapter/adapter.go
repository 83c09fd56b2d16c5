package telegramadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/dkalashnik/openwrite/pkg/bot"
	"github.com/dkalashnik/openwrite/pkg/ports"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Package telegramadapter implements ports.ChatPort on top of the Telegram client.

// Logger defines the minimal logging interface used by the adapter.
type Logger interface {
	Printf(format string, args ...any)
}

type telegramClient interface {
	SendMessage(chatID int64, text string, markup interface{}) (tgbotapi.Message, error)
	EditMessageText(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error)
	AnswerCallback(callbackID string, text string) error
}

// Adapter wraps a Telegram client and satisfies ports.ChatPort.
type Adapter struct {
	client telegramClient
	logger Logger
}

var _ telegramClient = (*bot.Client)(nil)
var _ ports.ChatPort = (*Adapter)(nil)

const transportName = "telegram"

// New constructs a Telegram adapter with the provided bot client and logger.
func New(client telegramClient, logger Logger) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("telegramadapter: client is nil")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Adapter{
		client: client,
		logger: logger,
	}, nil
}

// SendMessage posts a new message into the chat.
func (a *Adapter) SendMessage(ctx context.Context, chatID int64, text string, markup interface{}) (ports.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return ports.ChatMessage{}, ports.WrapContextError("send_message", err)
	}
	msg, err := a.client.SendMessage(chatID, text, markup)
	if err != nil {
		return ports.ChatMessage{}, a.wrapAndLogError("send_message", chatID, 0, err)
	}
	cm := toChatMessage(msg, markup)
	a.log("send_message", map[string]any{"chat_id": cm.ChatID, "message_id": cm.MessageID})
	return cm, nil
}

// EditMessage rewrites a message in place, typically the countdown or the session view.
func (a *Adapter) EditMessage(ctx context.Context, chatID int64, messageID int, text string, markup interface{}) (ports.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return ports.ChatMessage{}, ports.WrapContextError("edit_message", err)
	}
	inlineMarkup, err := toInlineKeyboard(markup)
	if err != nil {
		return ports.ChatMessage{}, ports.NewPortError("edit_message", ports.CodeBadRequest, err)
	}
	msg, err := a.client.EditMessageText(chatID, messageID, text, inlineMarkup)
	if err != nil {
		return ports.ChatMessage{}, a.wrapAndLogError("edit_message", chatID, messageID, err)
	}
	cm := toChatMessage(msg, inlineMarkup)
	a.log("edit_message", map[string]any{"chat_id": cm.ChatID, "message_id": cm.MessageID})
	return cm, nil
}

// AnswerCallback acknowledges a button press.
func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return ports.WrapContextError("answer_callback", err)
	}
	if err := a.client.AnswerCallback(callbackID, text); err != nil {
		return a.wrapAndLogError("answer_callback", 0, 0, err)
	}
	a.log("answer_callback", map[string]any{"callback_id": callbackID})
	return nil
}

func (a *Adapter) wrapAndLogError(op string, chatID int64, messageID int, err error) error {
	wrapped := wrapTelegramError(op, err)
	a.log(op, map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"code":       ports.CodeOf(wrapped),
		"error":      err.Error(),
	})
	return wrapped
}

func (a *Adapter) log(op string, attrs map[string]any) {
	if a.logger == nil {
		return
	}
	a.logger.Printf("chatport op=%s attrs=%v", op, attrs)
}

func toInlineKeyboard(markup interface{}) (*tgbotapi.InlineKeyboardMarkup, error) {
	if markup == nil {
		return nil, nil
	}
	if keyboard, ok := extractInlineKeyboard(markup); ok {
		return keyboard, nil
	}
	return nil, fmt.Errorf("unsupported markup type %T", markup)
}

func toChatMessage(msg tgbotapi.Message, markup interface{}) ports.ChatMessage {
	payload := msg.Text
	if payload == "" {
		payload = msg.Caption
	}
	var chatID int64
	if msg.Chat != nil {
		chatID = msg.Chat.ID
	}
	return ports.ChatMessage{
		ChatID:    chatID,
		MessageID: msg.MessageID,
		Transport: transportName,
		Payload:   payload,
		Meta:      metaFromMarkup(markup),
	}
}

func metaFromMarkup(markup interface{}) map[string]string {
	if markup == nil {
		return nil
	}
	if keyboard, ok := markup.(*tgbotapi.InlineKeyboardMarkup); ok && keyboard == nil {
		return nil
	}
	meta := map[string]string{
		"markup_type": fmt.Sprintf("%T", markup),
	}
	if keyboard, ok := extractInlineKeyboard(markup); ok {
		meta["buttons"] = fmt.Sprintf("%d", countButtons(keyboard))
		if raw, err := json.Marshal(keyboard); err == nil {
			meta["raw_markup"] = string(raw)
		}
	}
	return meta
}

func countButtons(keyboard *tgbotapi.InlineKeyboardMarkup) int {
	n := 0
	for _, row := range keyboard.InlineKeyboard {
		n += len(row)
	}
	return n
}

func extractInlineKeyboard(markup interface{}) (*tgbotapi.InlineKeyboardMarkup, bool) {
	switch v := markup.(type) {
	case tgbotapi.InlineKeyboardMarkup:
		return &v, true
	case *tgbotapi.InlineKeyboardMarkup:
		return v, v != nil
	default:
		return nil, false
	}
}

func wrapTelegramError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ports.WrapContextError(op, err)
	}
	code, retry := classifyTelegramError(err)
	return &ports.PortError{
		Op:         op,
		Code:       code,
		RetryAfter: retry,
		Wrapped:    err,
	}
}

var retryAfterRegex = regexp.MustCompile(`(?i)retry after (\d+)`)

func classifyTelegramError(err error) (string, time.Duration) {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "message is not modified"):
		return ports.CodeMessageNotModified, 0
	case strings.Contains(msg, "too many requests"):
		return ports.CodeRateLimited, extractRetryAfter(msg)
	case strings.Contains(msg, "bad request"):
		return ports.CodeBadRequest, 0
	case strings.Contains(msg, "forbidden"), strings.Contains(msg, "unauthorized"):
		return ports.CodeUnauthorized, 0
	default:
		return ports.CodeTransport, 0
	}
}

func extractRetryAfter(msg string) time.Duration {
	matches := retryAfterRegex.FindStringSubmatch(msg)
	if len(matches) != 2 {
		return 0
	}
	seconds, err := time.ParseDuration(matches[1] + "s")
	if err != nil {
		return 0
	}
	return seconds
}
