package dialog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	wfsm "github.com/dkalashnik/openwrite/pkg/fsm"
	"github.com/dkalashnik/openwrite/pkg/ports"
	"github.com/dkalashnik/openwrite/pkg/prompt"
	"github.com/dkalashnik/openwrite/pkg/state"
	"github.com/dkalashnik/openwrite/pkg/writing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const completionSendTimeout = 10 * time.Second

func (h *Handler) showSession(ctx context.Context, chatState *state.ChatState, ctrl *writing.Controller) {
	snap, err := ctrl.Bootstrap(ctx)
	if err != nil {
		if errors.Is(err, prompt.ErrPromptUnavailable) {
			_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "No prompt is scheduled for today. Check back later.", nil)
			return
		}
		log.Printf("[showSession] Chat %d: failed to load prompt: %v", chatState.ChatID, err)
		_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "Could not load today's prompt. Send /start to try again.", nil)
		return
	}
	if ctrl.Degraded() {
		_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "⚠️ Local storage is unavailable. Your text will not survive a restart.", nil)
	}

	var text string
	var keyboard *tgbotapi.InlineKeyboardMarkup
	switch snap.Mode {
	case wfsm.ModeWriting:
		text, keyboard = writingView(snap, ctrl.Remaining())
	case wfsm.ModeCompleted:
		text, keyboard = completedView(snap, "You already wrote today.", chatState.Identity)
	default:
		text, keyboard = promptView(snap, h.opts.Duration)
	}

	msg, err := h.opts.Chat.SendMessage(ctx, chatState.ChatID, text, keyboard)
	if err != nil {
		log.Printf("[showSession] Error sending session view to chat %d: %v", chatState.ChatID, err)
		return
	}
	chatState.LastMessageID = msg.MessageID
}

func (h *Handler) start(ctx context.Context, chatState *state.ChatState, ctrl *writing.Controller, callbackID string) {
	snap, err := ctrl.Start(ctx)
	if err != nil {
		log.Printf("[start] Chat %d: %v", chatState.ChatID, err)
		h.answer(ctx, callbackID, friendlyError(err))
		if errors.Is(err, writing.ErrNoSession) {
			h.showSession(ctx, chatState, ctrl)
		}
		return
	}
	h.answer(ctx, callbackID, "Go!")
	h.refreshWritingView(ctx, chatState, snap, ctrl.Remaining())
}

func (h *Handler) appendText(ctx context.Context, chatState *state.ChatState, ctrl *writing.Controller, text string) {
	snap, err := ctrl.Append(ctx, text)
	if err != nil {
		if errors.Is(err, writing.ErrDraftFrozen) {
			_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "Time is up, that message was not added.", nil)
			return
		}
		log.Printf("[appendText] Chat %d: %v", chatState.ChatID, err)
		return
	}
	h.refreshWritingView(ctx, chatState, snap, ctrl.Remaining())
}

func (h *Handler) submit(ctx context.Context, chatState *state.ChatState, ctrl *writing.Controller, callbackID string) {
	_, applied, err := ctrl.Submit(ctx)
	if err != nil {
		log.Printf("[submit] Chat %d: %v", chatState.ChatID, err)
		h.answer(ctx, callbackID, friendlyError(err))
		return
	}
	if !applied {
		if callbackID != "" {
			h.answer(ctx, callbackID, "Nothing to submit right now.")
			return
		}
		_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "Nothing to submit right now.", nil)
		return
	}
	h.answer(ctx, callbackID, "Submitted")
}

func (h *Handler) toggleAnonymous(ctx context.Context, chatState *state.ChatState, ctrl *writing.Controller, messageID int, callbackID string) {
	current := ctrl.Snapshot()
	snap, ok := ctrl.SetAnonymous(!current.Anonymous)
	if !ok {
		if callbackID != "" {
			h.answer(ctx, callbackID, "Anonymity can't change after submission.")
			return
		}
		_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "Anonymity can't change after submission.", nil)
		return
	}

	status := "off"
	if snap.Anonymous {
		status = "on"
	}
	if callbackID == "" {
		_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "Anonymous submission: "+status, nil)
		return
	}
	h.answer(ctx, callbackID, "Anonymous: "+status)

	var text string
	var keyboard *tgbotapi.InlineKeyboardMarkup
	if snap.Mode == wfsm.ModeWriting {
		text, keyboard = writingView(snap, ctrl.Remaining())
	} else {
		text, keyboard = promptView(snap, h.opts.Duration)
	}
	h.editOrSend(ctx, chatState, messageID, text, keyboard)
}

func (h *Handler) reportTime(ctx context.Context, chatState *state.ChatState, ctrl *writing.Controller) {
	ctrl.Tick()
	snap := ctrl.Snapshot()
	if snap.Mode != wfsm.ModeWriting {
		_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "You are not writing right now.", nil)
		return
	}
	_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, formatRemaining(ctrl.Remaining())+" left", nil)
}

func (h *Handler) refreshWritingView(ctx context.Context, chatState *state.ChatState, snap wfsm.Snapshot, remaining time.Duration) {
	if snap.Mode != wfsm.ModeWriting {
		return
	}
	text, keyboard := writingView(snap, remaining)
	h.editOrSend(ctx, chatState, chatState.LastMessageID, text, keyboard)
}

func (h *Handler) editOrSend(ctx context.Context, chatState *state.ChatState, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	if messageID != 0 {
		msg, err := h.opts.Chat.EditMessage(ctx, chatState.ChatID, messageID, text, keyboard)
		if err == nil {
			chatState.LastMessageID = msg.MessageID
			return
		}
		if ports.IsCode(err, ports.CodeMessageNotModified) {
			return
		}
		log.Printf("[editOrSend] Error editing message %d in chat %d, sending new one: %v", messageID, chatState.ChatID, err)
	}
	msg, err := h.opts.Chat.SendMessage(ctx, chatState.ChatID, text, keyboard)
	if err != nil {
		log.Printf("[editOrSend] Error sending message to chat %d: %v", chatState.ChatID, err)
		return
	}
	chatState.LastMessageID = msg.MessageID
}

// sendCompletion runs from the controller hook, possibly on the timer goroutine.
// It must not take the chat lock: a manual submit already holds it.
func (h *Handler) sendCompletion(chatID int64, identity *state.TokenIdentity, snap wfsm.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), completionSendTimeout)
	defer cancel()

	headline := "⏰ Time's up!"
	if snap.Deadline.After(h.opts.Clock.Now()) {
		headline = "✅ Submitted."
	}
	text, keyboard := completedView(snap, headline, identity)
	if _, err := h.opts.Chat.SendMessage(ctx, chatID, text, keyboard); err != nil {
		log.Printf("[sendCompletion] Error sending completion view to chat %d: %v", chatID, err)
	}
}

func promptView(snap wfsm.Snapshot, duration time.Duration) (string, *tgbotapi.InlineKeyboardMarkup) {
	text := fmt.Sprintf("📝 Today's prompt (%s)\n\n%s\n\nYou have %s. Press start when you're ready, then send your text as messages.",
		snap.Day, snap.PromptText, humanDuration(duration))
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(ButtonStart, CallbackSessionPrefix+ActionStart),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(anonLabel(snap.Anonymous), CallbackSessionPrefix+ActionAnon),
		),
	)
	return text, &keyboard
}

func writingView(snap wfsm.Snapshot, remaining time.Duration) (string, *tgbotapi.InlineKeyboardMarkup) {
	text := fmt.Sprintf("%s\n\n✍️ Writing: %d words · %s left\nSend messages to add to your text, /done to finish early.",
		snap.PromptText, wordCount(snap.Draft), formatRemaining(remaining))
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(ButtonSubmit, CallbackSessionPrefix+ActionSubmit),
			tgbotapi.NewInlineKeyboardButtonData(anonLabel(snap.Anonymous), CallbackSessionPrefix+ActionAnon),
		),
	)
	return text, &keyboard
}

func completedView(snap wfsm.Snapshot, headline string, identity *state.TokenIdentity) (string, *tgbotapi.InlineKeyboardMarkup) {
	var b strings.Builder
	b.WriteString(headline)
	b.WriteString("\n\n")
	b.WriteString(snap.PromptText)
	b.WriteString("\n\n")
	if strings.TrimSpace(snap.FinalText) == "" {
		b.WriteString("(nothing written)")
	} else {
		b.WriteString(snap.FinalText)
	}
	fmt.Fprintf(&b, "\n\n%d words.", wordCount(snap.FinalText))
	if identity != nil {
		if _, ok := identity.Current(context.Background()); !ok {
			b.WriteString(" Saved on this device only: /login <token> to submit future sessions.")
		}
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(ButtonEmailCopy, CallbackCopyPrefix+ActionCopyEmail),
			tgbotapi.NewInlineKeyboardButtonData(ButtonSendToChat, CallbackCopyPrefix+ActionCopyChat),
		),
	)
	return b.String(), &keyboard
}

func anonLabel(anonymous bool) string {
	if anonymous {
		return ButtonAnonOn
	}
	return ButtonAnonOff
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func humanDuration(d time.Duration) string {
	if d%time.Minute == 0 {
		mins := int(d / time.Minute)
		if mins == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", mins)
	}
	return d.String()
}
