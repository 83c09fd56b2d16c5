package fakeadapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkalashnik/openwrite/pkg/ports"
)

// FakeAdapter implements ports.ChatPort for headless tests.
type FakeAdapter struct {
	mu            sync.Mutex
	Calls         []Call
	NextMessageID int
	FailNext      map[string]error
}

// Call captures a chat operation invocation.
type Call struct {
	Op        string
	ChatID    int64
	MessageID int
	Text      string
	Markup    interface{}
	Callback  string
}

var _ ports.ChatPort = (*FakeAdapter)(nil)

// SendMessage records a send operation and returns a synthetic ChatMessage.
func (f *FakeAdapter) SendMessage(ctx context.Context, chatID int64, text string, markup interface{}) (ports.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return ports.ChatMessage{}, ports.WrapContextError("send_message", err)
	}
	if err := f.maybeFail("send_message"); err != nil {
		return ports.ChatMessage{}, err
	}
	msgID := f.nextMessageID()
	f.record(Call{Op: "send_message", ChatID: chatID, MessageID: msgID, Text: text, Markup: markup})
	return f.chatMessage(chatID, msgID, text), nil
}

// EditMessage records an edit operation and returns a synthetic ChatMessage.
func (f *FakeAdapter) EditMessage(ctx context.Context, chatID int64, messageID int, text string, markup interface{}) (ports.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return ports.ChatMessage{}, ports.WrapContextError("edit_message", err)
	}
	if err := f.maybeFail("edit_message"); err != nil {
		return ports.ChatMessage{}, err
	}
	if messageID == 0 {
		messageID = f.nextMessageID()
	}
	f.record(Call{Op: "edit_message", ChatID: chatID, MessageID: messageID, Text: text, Markup: markup})
	return f.chatMessage(chatID, messageID, text), nil
}

// AnswerCallback records a callback acknowledgement.
func (f *FakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return ports.WrapContextError("answer_callback", err)
	}
	if err := f.maybeFail("answer_callback"); err != nil {
		return err
	}
	f.record(Call{Op: "answer_callback", Callback: callbackID, Text: text})
	return nil
}

// Fail configures the next call for op to return err (wrapped as PortError if needed).
func (f *FakeAdapter) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailNext == nil {
		f.FailNext = make(map[string]error)
	}
	f.FailNext[op] = err
}

// LastCall returns the most recent call for the given op.
func (f *FakeAdapter) LastCall(op string) *Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Calls) - 1; i >= 0; i-- {
		if f.Calls[i].Op == op {
			c := f.Calls[i]
			return &c
		}
	}
	return nil
}

// Texts returns the text of every send and edit addressed to chatID, in order.
func (f *FakeAdapter) Texts(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.Calls {
		if c.ChatID == chatID && (c.Op == "send_message" || c.Op == "edit_message") {
			out = append(out, c.Text)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (f *FakeAdapter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = nil
}

func (f *FakeAdapter) chatMessage(chatID int64, messageID int, text string) ports.ChatMessage {
	return ports.ChatMessage{
		ChatID:    chatID,
		MessageID: messageID,
		Transport: "fake",
		Payload:   text,
		Meta:      map[string]string{"fake": "true"},
	}
}

func (f *FakeAdapter) nextMessageID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NextMessageID == 0 {
		f.NextMessageID = 1
	}
	id := f.NextMessageID
	f.NextMessageID++
	return id
}

func (f *FakeAdapter) record(call Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
}

func (f *FakeAdapter) maybeFail(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err, ok := f.FailNext[op]
	if !ok {
		return nil
	}
	delete(f.FailNext, op)
	var pe *ports.PortError
	if errors.As(err, &pe) {
		return err
	}
	return ports.NewPortError(op, "fake_error", err)
}

// Helpers to script common PortError cases in tests.
func MessageNotModified(op string) *ports.PortError {
	return &ports.PortError{Op: op, Code: ports.CodeMessageNotModified}
}

func RateLimited(op string, retry time.Duration) *ports.PortError {
	return &ports.PortError{Op: op, Code: ports.CodeRateLimited, RetryAfter: retry, Wrapped: fmt.Errorf("rate limited")}
}
