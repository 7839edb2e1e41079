package coordinator

import "github.com/itsamit108/chat-app/internal/store"

// Transport is the connection layer the coordinator pushes events through.
// Implementations must preserve emission order per connection (FIFO) and
// must never block the caller on a slow consumer.
type Transport interface {
	// Send delivers an event to one connection. Unknown connection ids are
	// ignored.
	Send(connID, event string, payload any)
	// SendToTopic delivers an event to every connection joined to the topic,
	// except excludeConn when non-empty.
	SendToTopic(topic, event string, payload any, excludeConn string)
	// Broadcast delivers an event to every connection, except excludeConn
	// when non-empty.
	Broadcast(event string, payload any, excludeConn string)
	// Join adds a connection to a topic group.
	Join(connID, topic string)
	// Leave removes a connection from a topic group.
	Leave(connID, topic string)
	// Close forcibly closes a connection.
	Close(connID string)
}

// Store is the slice of the persistence layer the coordinator consumes. The
// coordinator never caches durable state beyond the request being processed.
type Store interface {
	UpdateLastSeen(identityID string, at int64) error
	FindConversationByID(id string) (*store.Conversation, error)
	FindConversationsByParticipant(identityID string) ([]store.Conversation, error)
	UpdateConversationParticipants(conversationID string, parts []store.Participant) error
	UpdateParticipantUnread(conversationID, identityID string, unread int) error
	UpdateLastMessageSummary(conversationID string, lm store.LastMessage) error
	CreateMessage(m *store.Message) error
	FindUnreadMessages(conversationID, excludeSender string) ([]store.Message, error)
	UpdateMessageStatus(conversationID, messageID, status string) error
}

// userTopic returns the per-identity topic used for direct delivery
// independent of conversation focus.
func userTopic(identityID string) string {
	return "user:" + identityID
}
