package dialog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/dkalashnik/openwrite/pkg/clock"
	wfsm "github.com/dkalashnik/openwrite/pkg/fsm"
	"github.com/dkalashnik/openwrite/pkg/ports"
	"github.com/dkalashnik/openwrite/pkg/state"
	"github.com/dkalashnik/openwrite/pkg/writing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// RecordStores opens the local record store of a device.
type RecordStores interface {
	ForDevice(deviceID string) (ports.RecordStore, error)
}

// Options wires a Handler. Submissions, Notifications and Waitlist may be nil.
type Options struct {
	Chat          ports.ChatPort
	Chats         *state.Store
	Prompts       ports.PromptSource
	Stores        RecordStores
	Submissions   ports.SubmissionSink
	Notifications ports.NotificationSink
	Waitlist      ports.Waitlist
	Clock         clock.Scheduler
	Duration      time.Duration
	RequireSignIn bool
}

// Handler turns Telegram updates into writing session operations for each chat.
type Handler struct {
	opts    Options
	devices *writing.Devices
	queues  *chatQueues
}

func New(opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Chats == nil {
		opts.Chats = state.NewStore()
	}
	h := &Handler{opts: opts}
	h.devices = writing.NewDevices(h.newController)
	h.queues = newChatQueues(h.HandleUpdate)
	return h
}

func (h *Handler) Devices() *writing.Devices {
	return h.devices
}

func (h *Handler) newController(chatID int64) (*writing.Controller, error) {
	deviceID := strconv.FormatInt(chatID, 10)
	store, err := h.opts.Stores.ForDevice(deviceID)
	if err != nil {
		return nil, fmt.Errorf("open record store for chat %d: %w", chatID, err)
	}
	chatState := h.opts.Chats.GetOrCreateChatState(chatID, "")
	return writing.NewController(deviceID, writing.Deps{
		Prompts:       h.opts.Prompts,
		Records:       store,
		Submissions:   h.opts.Submissions,
		Identity:      chatState.Identity,
		Clock:         h.opts.Clock,
		Duration:      h.opts.Duration,
		RequireSignIn: h.opts.RequireSignIn,
		OnComplete: func(snap wfsm.Snapshot) {
			h.sendCompletion(chatID, chatState.Identity, snap)
		},
	})
}

func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	var chatID int64
	var from *tgbotapi.User

	if update.Message != nil {
		if update.Message.From == nil || update.Message.Chat == nil {
			log.Printf("Warning: Received message with nil From or Chat field")
			return
		}
		from = update.Message.From
		chatID = update.Message.Chat.ID
	} else if update.CallbackQuery != nil {
		if update.CallbackQuery.From == nil {
			log.Printf("Warning: Received callback with nil From field")
			return
		}
		from = update.CallbackQuery.From
		if update.CallbackQuery.Message == nil || update.CallbackQuery.Message.Chat == nil {
			log.Printf("Warning: Received callback query with nil Message or Chat field")
			return
		}
		chatID = update.CallbackQuery.Message.Chat.ID
	} else {
		log.Printf("Ignoring update type: %v", update.UpdateID)
		return
	}

	userName := from.FirstName
	if from.LastName != "" {
		userName += " " + from.LastName
	}

	chatState := h.opts.Chats.GetOrCreateChatState(chatID, userName)
	ctrl, err := h.devices.GetOrCreate(chatID)
	if err != nil {
		log.Printf("Error: Failed to get or create controller for chat %d: %v", chatID, err)
		_, _ = h.opts.Chat.SendMessage(ctx, chatID, "Something went wrong on our side. Please try again later.", nil)
		return
	}

	chatState.Mu.Lock()
	defer chatState.Mu.Unlock()
	chatState.SetUserName(userName)

	if update.Message != nil {
		h.handleMessage(ctx, update.Message, chatState, ctrl)
	} else {
		h.handleCallbackQuery(ctx, update.CallbackQuery, chatState, ctrl)
	}
}

func (h *Handler) handleMessage(ctx context.Context, message *tgbotapi.Message, chatState *state.ChatState, ctrl *writing.Controller) {
	chatID := chatState.ChatID
	text := strings.TrimSpace(message.Text)

	if message.IsCommand() {
		chatState.AwaitingEmail = false
		args := strings.TrimSpace(message.CommandArguments())
		switch message.Command() {
		case CommandStart:
			h.showSession(ctx, chatState, ctrl)
		case CommandLogin:
			h.login(ctx, chatState, message.From, args)
		case CommandLogout:
			chatState.Identity.Clear()
			_, _ = h.opts.Chat.SendMessage(ctx, chatID, "Signed out. New sessions stay on this device only.", nil)
		case CommandTime:
			h.reportTime(ctx, chatState, ctrl)
		case CommandDone:
			h.submit(ctx, chatState, ctrl, "")
		case CommandAnon:
			h.toggleAnonymous(ctx, chatState, ctrl, 0, "")
		case CommandSubscribe:
			h.subscribe(ctx, chatState, args)
		case CommandCancel:
			_, _ = h.opts.Chat.SendMessage(ctx, chatID, "Okay.", nil)
		default:
			_, _ = h.opts.Chat.SendMessage(ctx, chatID, "Unknown command.", nil)
		}
		return
	}

	if text == "" {
		return
	}

	if chatState.AwaitingEmail {
		h.emailCopy(ctx, chatState, ctrl, text)
		return
	}

	snap := ctrl.Snapshot()
	if snap.Mode != wfsm.ModeWriting {
		// A session left over from an earlier day rolls over here.
		if fresh, err := ctrl.Bootstrap(ctx); err == nil {
			snap = fresh
		}
	}

	switch snap.Mode {
	case wfsm.ModeWriting:
		h.appendText(ctx, chatState, ctrl, text)
	case wfsm.ModeCompleted:
		_, _ = h.opts.Chat.SendMessage(ctx, chatID, "Today's session is finished. Come back tomorrow for a new prompt.", nil)
	default:
		h.showSession(ctx, chatState, ctrl)
	}
}

func (h *Handler) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery, chatState *state.ChatState, ctrl *writing.Controller) {
	messageID := query.Message.MessageID

	parts := strings.SplitN(query.Data, ":", 2)
	prefix := parts[0] + ":"
	value := ""
	if len(parts) > 1 {
		value = parts[1]
	}

	log.Printf("[handleCallbackQuery] Received callback: Prefix='%s', Value='%s', ChatID=%d, Mode=%s",
		prefix, value, chatState.ChatID, ctrl.Snapshot().Mode)

	switch prefix {
	case CallbackSessionPrefix:
		switch value {
		case ActionStart:
			chatState.LastMessageID = messageID
			h.start(ctx, chatState, ctrl, query.ID)
		case ActionSubmit:
			h.submit(ctx, chatState, ctrl, query.ID)
		case ActionAnon:
			h.toggleAnonymous(ctx, chatState, ctrl, messageID, query.ID)
		default:
			log.Printf("[handleCallbackQuery] Unknown session action '%s' from chat %d", value, chatState.ChatID)
			h.answer(ctx, query.ID, "")
		}
	case CallbackCopyPrefix:
		switch value {
		case ActionCopyEmail:
			h.answer(ctx, query.ID, "")
			h.requestEmail(ctx, chatState, ctrl)
		case ActionCopyChat:
			h.answer(ctx, query.ID, "")
			h.sendCopyToChat(ctx, chatState, ctrl)
		default:
			log.Printf("[handleCallbackQuery] Unknown copy action '%s' from chat %d", value, chatState.ChatID)
			h.answer(ctx, query.ID, "")
		}
	default:
		log.Printf("[handleCallbackQuery] Unknown callback prefix '%s' from chat %d", prefix, chatState.ChatID)
		h.answer(ctx, query.ID, "")
	}
}

func (h *Handler) answer(ctx context.Context, callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := h.opts.Chat.AnswerCallback(ctx, callbackID, text); err != nil {
		log.Printf("[answer] Error answering callback %s: %v", callbackID, err)
	}
}

func (h *Handler) login(ctx context.Context, chatState *state.ChatState, from *tgbotapi.User, token string) {
	if token == "" {
		_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "Usage: /login <token>", nil)
		return
	}
	userID := ""
	if from != nil {
		userID = strconv.FormatInt(from.ID, 10)
	}
	chatState.Identity.Set(state.Identity{UserID: userID, Token: token})
	log.Printf("[login] Chat %d signed in", chatState.ChatID)
	_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "Signed in. Finished sessions will be submitted to OpenWrite.", nil)
}

func (h *Handler) subscribe(ctx context.Context, chatState *state.ChatState, email string) {
	if h.opts.Waitlist == nil {
		_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "The waitlist is not available right now.", nil)
		return
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "Usage: /subscribe you@example.com", nil)
		return
	}
	created, err := h.opts.Waitlist.Subscribe(ctx, email)
	if err != nil {
		log.Printf("[subscribe] Chat %d: waitlist error (code=%s): %v", chatState.ChatID, ports.CodeOf(err), err)
		_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "Could not join the waitlist, please try again later.", nil)
		return
	}
	if !created {
		_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "This email is already registered.", nil)
		return
	}
	_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "You're on the list. We'll be in touch.", nil)
}

func friendlyError(err error) string {
	switch {
	case errors.Is(err, writing.ErrSignInRequired):
		return "Please sign in first: /login <token>"
	case errors.Is(err, writing.ErrAlreadyCompleted):
		return "You already finished today's prompt."
	case errors.Is(err, writing.ErrNoSession):
		return "Send /start to load today's prompt."
	default:
		return "Something went wrong. Please try again."
	}
}
