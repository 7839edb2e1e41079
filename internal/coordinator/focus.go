package coordinator

import "sync"

// Focus tracks which conversation each identity is currently viewing. An
// identity views at most one conversation at a time; focusing a new one
// implicitly unfocuses the previous.
type Focus struct {
	mu      sync.RWMutex
	viewing map[string]string // identity id -> conversation id
}

// NewFocus creates an empty focus tracker.
func NewFocus() *Focus {
	return &Focus{viewing: make(map[string]string)}
}

// Set records that the identity is viewing the conversation.
func (f *Focus) Set(identityID, conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewing[identityID] = conversationID
}

// Clear removes the focus only if the identity is still viewing the given
// conversation. A leave for a conversation the identity has already moved
// away from must not clobber the newer focus.
func (f *Focus) Clear(identityID, conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.viewing[identityID] == conversationID {
		delete(f.viewing, identityID)
	}
}

// ClearAll drops the identity's focus unconditionally. Used on disconnect.
func (f *Focus) ClearAll(identityID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.viewing, identityID)
}

// IsFocused reports whether the identity is currently viewing the
// conversation.
func (f *Focus) IsFocused(identityID, conversationID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.viewing[identityID] == conversationID
}

// Viewing returns the conversation the identity is viewing, or "" if none.
func (f *Focus) Viewing(identityID string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.viewing[identityID]
}
