package dialog

import (
	"bytes"
	"context"
	"log"
	"strings"
	"text/template"

	wfsm "github.com/dkalashnik/openwrite/pkg/fsm"
	"github.com/dkalashnik/openwrite/pkg/ports"
	"github.com/dkalashnik/openwrite/pkg/state"
	"github.com/dkalashnik/openwrite/pkg/writing"
)

const anonymousAuthor = "Anonymous"

type copyPayload struct {
	Day        string
	PromptText string
	Text       string
	Author     string
	Words      int
}

var copyTpl = template.Must(template.New("copy").Parse(`OpenWrite · {{.Day}}
Prompt: {{.PromptText}}

{{.Text}}

({{.Words}} words, by {{.Author}})`))

func buildCopyPayload(snap wfsm.Snapshot, userName string) copyPayload {
	author := userName
	if snap.Anonymous || author == "" {
		author = anonymousAuthor
	}
	return copyPayload{
		Day:        snap.Day,
		PromptText: snap.PromptText,
		Text:       snap.FinalText,
		Author:     author,
		Words:      wordCount(snap.FinalText),
	}
}

func renderCopy(payload copyPayload) (string, error) {
	var buf bytes.Buffer
	if err := copyTpl.Execute(&buf, payload); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (h *Handler) sendCopyToChat(ctx context.Context, chatState *state.ChatState, ctrl *writing.Controller) {
	snap := ctrl.Snapshot()
	if snap.Mode != wfsm.ModeCompleted {
		_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "Finish today's session first.", nil)
		return
	}

	text, err := renderCopy(buildCopyPayload(snap, chatState.UserName))
	if err != nil {
		log.Printf("[sendCopyToChat] render error for chat %d: %v", chatState.ChatID, err)
		_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "Could not prepare the copy.", nil)
		return
	}
	if _, err := h.opts.Chat.SendMessage(ctx, chatState.ChatID, text, nil); err != nil {
		log.Printf("[sendCopyToChat] send error for chat %d: %v", chatState.ChatID, err)
	}
}

func (h *Handler) requestEmail(ctx context.Context, chatState *state.ChatState, ctrl *writing.Controller) {
	if ctrl.Snapshot().Mode != wfsm.ModeCompleted {
		_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "Finish today's session first.", nil)
		return
	}
	if h.opts.Notifications == nil {
		_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "Email copies are not available right now.", nil)
		return
	}
	chatState.AwaitingEmail = true
	_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "Reply with your email address, or /cancel.", nil)
}

func (h *Handler) emailCopy(ctx context.Context, chatState *state.ChatState, ctrl *writing.Controller, email string) {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "That doesn't look like an email address. Try again or /cancel.", nil)
		return
	}
	chatState.AwaitingEmail = false

	snap := ctrl.Snapshot()
	err := h.opts.Notifications.Notify(ctx, state.Notification{
		RecipientEmail: email,
		PromptText:     snap.PromptText,
		SubmissionText: snap.FinalText,
	})
	if err != nil {
		log.Printf("[emailCopy] Chat %d: notification failed (code=%s): %v", chatState.ChatID, ports.CodeOf(err), err)
		_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "Could not send the email. Your text is still saved here.", nil)
		return
	}
	_, _ = h.opts.Chat.SendMessage(ctx, chatState.ChatID, "Sent a copy to "+email+".", nil)
}
