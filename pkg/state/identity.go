package state

import (
	"context"
	"sync"
)

// TokenIdentity holds the bearer identity a chat signed in with.
// The zero value is a guest.
type TokenIdentity struct {
	mu       sync.RWMutex
	identity Identity
	signedIn bool
}

func (t *TokenIdentity) Set(identity Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.identity = identity
	t.signedIn = identity.Token != ""
}

func (t *TokenIdentity) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.identity = Identity{}
	t.signedIn = false
}

// Current is read at submission time, so signing out mid-session makes the
// finished session a guest one.
func (t *TokenIdentity) Current(context.Context) (Identity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.identity, t.signedIn
}
