package dialog

import (
	"context"
	"log"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const chatQueueSize = 64

// chatQueues runs the updates of one chat in arrival order on a dedicated goroutine.
// Different chats are handled concurrently.
type chatQueues struct {
	handle func(ctx context.Context, update tgbotapi.Update)

	mu      sync.RWMutex
	queues  map[int64]chan tgbotapi.Update
	closed  bool
	workers sync.WaitGroup
}

func newChatQueues(handle func(ctx context.Context, update tgbotapi.Update)) *chatQueues {
	return &chatQueues{
		handle: handle,
		queues: make(map[int64]chan tgbotapi.Update),
	}
}

func (q *chatQueues) push(ctx context.Context, chatID int64, update tgbotapi.Update) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		log.Printf("[Dispatch] Dropping update %d for chat %d: handler is closed", update.UpdateID, chatID)
		return
	}
	ch, ok := q.queues[chatID]
	if !ok {
		ch = make(chan tgbotapi.Update, chatQueueSize)
		q.queues[chatID] = ch
		q.workers.Add(1)
		go q.run(ctx, ch)
	}
	q.mu.Unlock()

	// The read lock keeps close from racing the send.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		log.Printf("[Dispatch] Dropping update %d for chat %d: handler is closed", update.UpdateID, chatID)
		return
	}
	ch <- update
}

func (q *chatQueues) run(ctx context.Context, ch <-chan tgbotapi.Update) {
	defer q.workers.Done()
	for update := range ch {
		q.handle(ctx, update)
	}
}

// close stops accepting updates and waits until every queued one was handled.
func (q *chatQueues) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for _, ch := range q.queues {
			close(ch)
		}
	}
	q.mu.Unlock()
	q.workers.Wait()
}

// Dispatch queues update behind the earlier updates of the same chat. Messages of one
// chat are appended to the draft in the order they arrived.
func (h *Handler) Dispatch(ctx context.Context, update tgbotapi.Update) {
	chatID, ok := updateChatID(update)
	if !ok {
		h.HandleUpdate(ctx, update)
		return
	}
	h.queues.push(ctx, chatID, update)
}

// Close waits for queued updates to be handled. Later updates are dropped.
func (h *Handler) Close() {
	h.queues.close()
}

func updateChatID(update tgbotapi.Update) (int64, bool) {
	switch {
	case update.Message != nil && update.Message.Chat != nil:
		return update.Message.Chat.ID, true
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil && update.CallbackQuery.Message.Chat != nil:
		return update.CallbackQuery.Message.Chat.ID, true
	default:
		return 0, false
	}
}
