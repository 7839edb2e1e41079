package coordinator

import (
	"sync"
	"time"
)

// TypingEntry identifies one typer in one conversation. The sweep returns
// these so the caller can notify the affected conversations.
type TypingEntry struct {
	ConversationID string
	IdentityID     string
}

// Typing tracks who is typing in which conversation. Entries are refreshed
// on every typing signal and expire after a TTL; a periodic sweep clears
// entries from clients that stopped typing without saying so.
type Typing struct {
	mu     sync.Mutex
	typers map[string]map[string]time.Time // conversation id -> identity id -> last signal
}

// NewTyping creates an empty typing tracker.
func NewTyping() *Typing {
	return &Typing{typers: make(map[string]map[string]time.Time)}
}

// Set records or refreshes a typing entry. Returns whether the identity was
// already marked typing in the conversation, so the caller can skip
// re-broadcasting an unchanged state.
func (t *Typing) Set(conversationID, identityID string, now time.Time) (already bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conv := t.typers[conversationID]
	if conv == nil {
		conv = make(map[string]time.Time)
		t.typers[conversationID] = conv
	}
	_, already = conv[identityID]
	conv[identityID] = now
	return already
}

// Clear removes a typing entry. Returns whether it existed.
func (t *Typing) Clear(conversationID, identityID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	conv := t.typers[conversationID]
	if conv == nil {
		return false
	}
	_, ok := conv[identityID]
	if ok {
		delete(conv, identityID)
		if len(conv) == 0 {
			delete(t.typers, conversationID)
		}
	}
	return ok
}

// ActiveTypers returns the identities whose typing entry in the conversation
// is younger than ttl, sorted order not guaranteed.
func (t *Typing) ActiveTypers(conversationID string, now time.Time, ttl time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	conv := t.typers[conversationID]
	if len(conv) == 0 {
		return nil
	}
	out := make([]string, 0, len(conv))
	for id, last := range conv {
		if now.Sub(last) < ttl {
			out = append(out, id)
		}
	}
	return out
}

// Sweep removes every entry older than ttl and returns the removed entries.
func (t *Typing) Sweep(now time.Time, ttl time.Duration) []TypingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []TypingEntry
	for convID, conv := range t.typers {
		for id, last := range conv {
			if now.Sub(last) >= ttl {
				delete(conv, id)
				removed = append(removed, TypingEntry{ConversationID: convID, IdentityID: id})
			}
		}
		if len(conv) == 0 {
			delete(t.typers, convID)
		}
	}
	return removed
}

// RemoveIdentity drops the identity from every conversation it was typing in
// and returns the affected entries. Used on disconnect.
func (t *Typing) RemoveIdentity(identityID string) []TypingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []TypingEntry
	for convID, conv := range t.typers {
		if _, ok := conv[identityID]; ok {
			delete(conv, identityID)
			removed = append(removed, TypingEntry{ConversationID: convID, IdentityID: identityID})
			if len(conv) == 0 {
				delete(t.typers, convID)
			}
		}
	}
	return removed
}
