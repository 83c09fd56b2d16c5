package state

import (
	"log"
	"sync"
)

// ChatState is the chat-side UI state of one device. Mu serialises update handling.
type ChatState struct {
	ChatID        int64
	UserName      string
	Identity      *TokenIdentity
	AwaitingEmail bool
	LastMessageID int
	Mu            sync.Mutex
}

// SetUserName records the display name of the chat owner. The caller holds Mu.
func (c *ChatState) SetUserName(userName string) {
	if userName == "" || c.UserName == userName {
		return
	}
	log.Printf("Updating username for chat %d: '%s' -> '%s'", c.ChatID, c.UserName, userName)
	c.UserName = userName
}

type Store struct {
	chats map[int64]*ChatState
	mu    sync.Mutex
}

func NewStore() *Store {
	return &Store{
		chats: make(map[int64]*ChatState),
	}
}

// GetOrCreateChatState returns the state of chatID. userName only seeds a new state;
// later renames go through SetUserName under the chat lock.
func (s *Store) GetOrCreateChatState(chatID int64, userName string) *ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()

	chatState, exists := s.chats[chatID]
	if exists {
		return chatState
	}

	log.Printf("Creating new state for chat %d ('%s')", chatID, userName)
	chatState = &ChatState{
		ChatID:   chatID,
		UserName: userName,
		Identity: &TokenIdentity{},
	}
	s.chats[chatID] = chatState
	return chatState
}

// Get returns the state of a known chat.
func (s *Store) Get(chatID int64) (*ChatState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chatState, ok := s.chats[chatID]
	return chatState, ok
}
