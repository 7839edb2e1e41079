package coordinator

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itsamit108/chat-app/internal/store"
)

// SendMessage persists a message and fans it out: confirmation to the
// sender, receive_message to every recipient with a live connection, and a
// per-participant chat_update with that participant's unread count. For a
// private conversation whose peer is currently viewing it, the message is
// marked read immediately and the sender told so.
//
// All mutations for the conversation happen under its lock, so concurrent
// sends and read sweeps interleave as whole operations and unread counts
// never drift.
func (c *Coordinator) SendMessage(req SendRequest) (*store.Message, error) {
	if req.ConversationID == "" || req.SenderID == "" || strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: conversationId, senderId and content are required", ErrInvalidInput)
	}

	// The conversation snapshot is taken under the lock, so concurrent
	// sends and read sweeps each see the previous one's committed unread
	// counts.
	unlock := c.lockConversation(req.ConversationID)
	defer unlock()

	conv, err := c.store.FindConversationByID(req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, req.ConversationID)
	}
	sender := conv.Participant(req.SenderID)
	if sender == nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotParticipant, req.SenderID, req.ConversationID)
	}

	nowMs := c.now().UnixMilli()
	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		Status:         store.StatusSent,
		CreatedAt:      nowMs,
	}
	if err := c.store.CreateMessage(msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	// Recipients viewing the conversation right now have read it by
	// definition; everyone else accrues one unread. The sender's own count
	// is untouched.
	for i := range conv.Participants {
		p := &conv.Participants[i]
		if p.IdentityID == req.SenderID {
			continue
		}
		if c.focus.IsFocused(p.IdentityID, req.ConversationID) {
			p.UnreadCount = 0
		} else {
			p.UnreadCount++
		}
	}
	if err := c.store.UpdateConversationParticipants(req.ConversationID, conv.Participants); err != nil {
		return nil, fmt.Errorf("update unread counts: %w", err)
	}

	// A private peer with the conversation on screen reads the message
	// immediately; the sender gets the receipt without waiting for a sweep.
	// A failed status flip leaves the message sent, which a later sweep
	// repairs, so it does not fail the send.
	readNow := false
	if conv.Kind == store.KindPrivate {
		if peer := privatePeer(conv, req.SenderID); peer != "" && c.focus.IsFocused(peer, req.ConversationID) {
			if err := c.store.UpdateMessageStatus(req.ConversationID, msg.ID, store.StatusRead); err != nil {
				c.log.Warn("mark message read", zap.String("conversation", req.ConversationID), zap.Error(err))
			} else {
				msg.Status = store.StatusRead
				readNow = true
			}
		}
	}

	lm := store.LastMessage{
		MessageID:  msg.ID,
		SenderID:   req.SenderID,
		SenderName: sender.DisplayName,
		Content:    msg.Content,
		Timestamp:  msg.CreatedAt,
	}
	if err := c.store.UpdateLastMessageSummary(req.ConversationID, lm); err != nil {
		return nil, fmt.Errorf("update conversation summary: %w", err)
	}

	// All durable state is committed. Nothing is emitted to any connection
	// before this point, so a failed send never confirms or fans out.
	if connID, ok := c.registry.ConnectionFor(req.SenderID); ok {
		c.transport.Send(connID, EventMessageConfirmation, ConfirmationPayload{
			MessageID: msg.ID,
			TempID:    req.TempID,
			Content:   msg.Content,
			Timestamp: msg.CreatedAt,
			Status:    msg.Status,
		})
		if readNow {
			c.transport.Send(connID, EventMessageStatusUpdate, StatusUpdatePayload{
				MessageID: msg.ID,
				Status:    store.StatusRead,
			})
		}
	}

	msgPayload := MessagePayload{
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		Timestamp: msg.CreatedAt,
		Status:    msg.Status,
	}
	for _, p := range conv.Participants {
		if p.IdentityID != req.SenderID {
			if connID, ok := c.registry.ConnectionFor(p.IdentityID); ok {
				c.transport.Send(connID, EventReceiveMessage, msgPayload)
			}
		}
		c.transport.SendToTopic(userTopic(p.IdentityID), EventChatUpdate, ChatUpdatePayload{
			ConversationID: req.ConversationID,
			LastMessage:    lastMessagePayload(lm),
			UnreadCount:    p.UnreadCount,
		}, "")
	}

	c.publish("message.sent", msgPayload)
	return msg, nil
}

// readSweep marks every message the identity has not read in the
// conversation as read, resets the identity's unread count, and for private
// conversations tells the peer its messages were seen. Running it twice in a
// row is a no-op the second time.
func (c *Coordinator) readSweep(conv *store.Conversation, identityID string) error {
	unlock := c.lockConversation(conv.ID)
	defer unlock()

	pending, err := c.store.FindUnreadMessages(conv.ID, identityID)
	if err != nil {
		return fmt.Errorf("find unread: %w", err)
	}

	for _, m := range pending {
		if err := c.store.UpdateMessageStatus(conv.ID, m.ID, store.StatusRead); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
	}

	// Read receipts are only propagated in private conversations. Group
	// senders would otherwise need per-reader receipt state.
	if conv.Kind == store.KindPrivate && len(pending) > 0 {
		if peer := privatePeer(conv, identityID); peer != "" {
			if connID, ok := c.registry.ConnectionFor(peer); ok {
				for _, m := range pending {
					c.transport.Send(connID, EventMessageStatusUpdate, StatusUpdatePayload{
						MessageID: m.ID,
						Status:    store.StatusRead,
					})
				}
			}
		}
	}

	if p := conv.Participant(identityID); p == nil || p.UnreadCount != 0 || len(pending) > 0 {
		if err := c.store.UpdateParticipantUnread(conv.ID, identityID, 0); err != nil {
			return fmt.Errorf("reset unread: %w", err)
		}
		c.transport.SendToTopic(userTopic(identityID), EventChatUpdate, ChatUpdatePayload{
			ConversationID: conv.ID,
			UnreadCount:    0,
		}, "")
	}

	if len(pending) > 0 {
		c.publish("message.read", ChatUpdatePayload{ConversationID: conv.ID})
	}
	return nil
}

// privatePeer returns the other participant of a 2-party conversation.
func privatePeer(conv *store.Conversation, identityID string) string {
	for _, p := range conv.Participants {
		if p.IdentityID != identityID {
			return p.IdentityID
		}
	}
	return ""
}
