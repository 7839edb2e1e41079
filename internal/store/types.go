package store

// Conversation kinds.
const (
	KindPrivate = "private"
	KindGroup   = "group"
)

// Participant roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Message statuses. A message only ever moves sent -> read; it never
// regresses.
const (
	StatusSent   = "sent"
	StatusRead   = "read"
	StatusFailed = "failed"
)

// Identity represents a registered user.
type Identity struct {
	ID       string
	Name     string
	Email    string
	LastSeen int64
}

// Participant is an identity's membership record within one conversation.
type Participant struct {
	IdentityID  string
	DisplayName string
	Role        string
	UnreadCount int
}

// LastMessage is the denormalized preview stored on a conversation.
type LastMessage struct {
	MessageID  string
	SenderID   string
	SenderName string
	Content    string
	Timestamp  int64
}

// Conversation is a private (2-party) or group (named, N-party) thread.
type Conversation struct {
	ID           string
	Kind         string
	GroupName    string
	Participants []Participant
	LastMessage  *LastMessage
	UpdatedAt    int64
}

// Participant returns the membership record for the given identity, or nil.
func (c *Conversation) Participant(identityID string) *Participant {
	for i := range c.Participants {
		if c.Participants[i].IdentityID == identityID {
			return &c.Participants[i]
		}
	}
	return nil
}

// Message represents a persisted chat message.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Status         string
	Deleted        bool
	Edited         bool
	CreatedAt      int64
}
