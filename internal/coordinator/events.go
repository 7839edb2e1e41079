package coordinator

import "github.com/itsamit108/chat-app/internal/store"

// Events pushed to clients.
const (
	EventUserOnline          = "user-online"
	EventUserOffline         = "user-offline"
	EventOnlineUsers         = "online-users"
	EventReceiveMessage      = "receive_message"
	EventMessageConfirmation = "message_confirmation"
	EventMessageFailed       = "message_failed"
	EventChatUpdate          = "chat_update"
	EventMessageStatusUpdate = "message_status_update"
	EventUserTyping          = "user_typing"
	EventKeepaliveAck        = "keepalive_ack"
)

// Requests accepted from clients.
const (
	ReqJoinConversation  = "joinConversation"
	ReqLeaveConversation = "leaveConversation"
	ReqSendMessage       = "sendMessage"
	ReqMessageSeen       = "messageSeen"
	ReqSetTyping         = "setTyping"
	ReqKeepalive         = "keepalive"
	ReqSubscribeChatList = "subscribeChatList"
)

// PresencePayload accompanies user-online and user-offline broadcasts.
type PresencePayload struct {
	IdentityID string `json:"identityId"`
}

// OnlineUsersPayload delivers the current online set to a fresh connection.
type OnlineUsersPayload struct {
	IdentityIDs []string `json:"identityIds"`
}

// MessagePayload accompanies receive_message.
type MessagePayload struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Status    string `json:"status"`
}

// ConfirmationPayload accompanies message_confirmation, echoing the client's
// temporary id so it can reconcile its optimistic UI.
type ConfirmationPayload struct {
	MessageID string `json:"messageId"`
	TempID    string `json:"tempId,omitempty"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Status    string `json:"status"`
}

// FailurePayload accompanies message_failed.
type FailurePayload struct {
	Error  string `json:"error"`
	TempID string `json:"tempId,omitempty"`
}

// LastMessagePayload is the conversation-list preview inside chat_update.
type LastMessagePayload struct {
	MessageID  string `json:"messageId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
}

// ChatUpdatePayload accompanies chat_update. LastMessage is omitted when the
// update only resets the unread count.
type ChatUpdatePayload struct {
	ConversationID string              `json:"conversationId"`
	LastMessage    *LastMessagePayload `json:"lastMessage,omitempty"`
	UnreadCount    int                 `json:"unreadCount"`
}

// StatusUpdatePayload accompanies message_status_update.
type StatusUpdatePayload struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// TypingPayload accompanies user_typing.
type TypingPayload struct {
	IdentityID     string `json:"identityId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// ConversationRequest carries joinConversation, leaveConversation, and
// messageSeen payloads.
type ConversationRequest struct {
	IdentityID     string `json:"identityId"`
	ConversationID string `json:"conversationId"`
}

// SendRequest carries sendMessage payloads.
type SendRequest struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content"`
	TempID         string `json:"tempId,omitempty"`
}

// TypingRequest carries setTyping payloads.
type TypingRequest struct {
	IdentityID     string `json:"identityId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// KeepaliveRequest carries keepalive payloads. IdentityID is optional; the
// registry's current mapping is used when it is absent.
type KeepaliveRequest struct {
	IdentityID string `json:"identityId,omitempty"`
}

func lastMessagePayload(lm store.LastMessage) *LastMessagePayload {
	return &LastMessagePayload{
		MessageID:  lm.MessageID,
		SenderID:   lm.SenderID,
		SenderName: lm.SenderName,
		Content:    lm.Content,
		Timestamp:  lm.Timestamp,
	}
}
