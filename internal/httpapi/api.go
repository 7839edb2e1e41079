package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/itsamit108/chat-app/internal/coordinator"
	"github.com/itsamit108/chat-app/internal/status"
	"github.com/itsamit108/chat-app/internal/store"
)

// MessageSender is the slice of the coordinator the REST surface uses to
// send messages, so REST sends share the same unread and fan-out semantics
// as websocket sends.
type MessageSender interface {
	SendMessage(req coordinator.SendRequest) (*store.Message, error)
}

// OnlineSource reports the currently online identities.
type OnlineSource interface {
	OnlineIdentities() []string
}

// ConnectionCounter reports the number of live websocket connections.
type ConnectionCounter interface {
	ConnectionCount() int
}

// API is the REST surface of the relay: identity and conversation CRUD,
// message history, and a stats endpoint.
type API struct {
	log         *zap.Logger
	db          *store.DB
	sender      MessageSender
	online      OnlineSource
	stats       *status.Collector
	connections ConnectionCounter
}

// New assembles the REST API.
func New(log *zap.Logger, db *store.DB, sender MessageSender, online OnlineSource, stats *status.Collector, connections ConnectionCounter) *API {
	return &API{
		log:         log,
		db:          db,
		sender:      sender,
		online:      online,
		stats:       stats,
		connections: connections,
	}
}

// Register mounts the API routes on the router.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/api/users", a.createUser).Methods(http.MethodPost)
	r.HandleFunc("/api/users", a.listUsers).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{userId}", a.getUser).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{userId}/chats", a.listUserChats).Methods(http.MethodGet)
	r.HandleFunc("/api/chats", a.createChat).Methods(http.MethodPost)
	r.HandleFunc("/api/chats/{chatId}", a.getChat).Methods(http.MethodGet)
	r.HandleFunc("/api/chats/{chatId}/messages", a.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/chats/{chatId}/messages", a.postMessage).Methods(http.MethodPost)
	r.HandleFunc("/api/stats", a.getStats).Methods(http.MethodGet)
}

type identityJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	LastSeen int64  `json:"lastSeen"`
}

type participantJSON struct {
	IdentityID  string `json:"identityId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	UnreadCount int    `json:"unreadCount"`
}

type lastMessageJSON struct {
	MessageID  string `json:"messageId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
}

type conversationJSON struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	GroupName    string            `json:"groupName,omitempty"`
	Participants []participantJSON `json:"participants"`
	LastMessage  *lastMessageJSON  `json:"lastMessage,omitempty"`
	UpdatedAt    int64             `json:"updatedAt"`
}

type messageJSON struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Status    string `json:"status"`
	Deleted   bool   `json:"isDeleted,omitempty"`
	Edited    bool   `json:"isEdited,omitempty"`
}

func identityToJSON(i store.Identity) identityJSON {
	return identityJSON{ID: i.ID, Name: i.Name, Email: i.Email, LastSeen: i.LastSeen}
}

func conversationToJSON(c *store.Conversation) conversationJSON {
	out := conversationJSON{
		ID:        c.ID,
		Type:      c.Kind,
		GroupName: c.GroupName,
		UpdatedAt: c.UpdatedAt,
	}
	for _, p := range c.Participants {
		out.Participants = append(out.Participants, participantJSON{
			IdentityID:  p.IdentityID,
			DisplayName: p.DisplayName,
			Role:        p.Role,
			UnreadCount: p.UnreadCount,
		})
	}
	if c.LastMessage != nil {
		out.LastMessage = &lastMessageJSON{
			MessageID:  c.LastMessage.MessageID,
			SenderID:   c.LastMessage.SenderID,
			SenderName: c.LastMessage.SenderName,
			Content:    c.LastMessage.Content,
			Timestamp:  c.LastMessage.Timestamp,
		}
	}
	return out
}

func messageToJSON(m store.Message) messageJSON {
	return messageJSON{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Timestamp: m.CreatedAt,
		Status:    m.Status,
		Deleted:   m.Deleted,
		Edited:    m.Edited,
	}
}

func (a *API) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn("encode response", zap.Error(err))
	}
}

func (a *API) writeError(w http.ResponseWriter, code int, msg string) {
	a.writeJSON(w, code, map[string]string{"error": msg})
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Name == "" || req.Email == "" {
		a.writeError(w, http.StatusBadRequest, "name and email are required")
		return
	}

	// Registration is idempotent per email: posting an already-registered
	// email returns the existing identity instead of an error.
	if existing, err := a.db.FindIdentityByEmail(req.Email); err != nil {
		a.serverError(w, "find identity", err)
		return
	} else if existing != nil {
		a.writeJSON(w, http.StatusOK, identityToJSON(*existing))
		return
	}

	identity := &store.Identity{
		ID:       uuid.NewString(),
		Name:     req.Name,
		Email:    req.Email,
		LastSeen: time.Now().UnixMilli(),
	}
	if err := a.db.CreateIdentity(identity); err != nil {
		a.serverError(w, "create identity", err)
		return
	}
	a.writeJSON(w, http.StatusCreated, identityToJSON(*identity))
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	if email := strings.TrimSpace(strings.ToLower(r.URL.Query().Get("email"))); email != "" {
		identity, err := a.db.FindIdentityByEmail(email)
		if err != nil {
			a.serverError(w, "find identity", err)
			return
		}
		out := []identityJSON{}
		if identity != nil {
			out = append(out, identityToJSON(*identity))
		}
		a.writeJSON(w, http.StatusOK, out)
		return
	}

	identities, err := a.db.ListIdentities()
	if err != nil {
		a.serverError(w, "list identities", err)
		return
	}
	out := make([]identityJSON, 0, len(identities))
	for _, i := range identities {
		out = append(out, identityToJSON(i))
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	identity, err := a.db.FindIdentityByID(mux.Vars(r)["userId"])
	if err != nil {
		a.serverError(w, "find identity", err)
		return
	}
	if identity == nil {
		a.writeError(w, http.StatusNotFound, "user not found")
		return
	}
	a.writeJSON(w, http.StatusOK, identityToJSON(*identity))
}

func (a *API) createChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type           string   `json:"type"`
		GroupName      string   `json:"groupName"`
		ParticipantIDs []string `json:"participantIds"`
		CreatorID      string   `json:"creatorId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch req.Type {
	case store.KindPrivate:
		if len(req.ParticipantIDs) != 2 || req.ParticipantIDs[0] == req.ParticipantIDs[1] {
			a.writeError(w, http.StatusBadRequest, "private chats need exactly two distinct participants")
			return
		}
		// An existing private chat between the pair is returned instead of
		// creating a duplicate thread.
		existing, err := a.db.FindPrivateConversationByMembers(req.ParticipantIDs[0], req.ParticipantIDs[1])
		if err != nil {
			a.serverError(w, "find private conversation", err)
			return
		}
		if existing != nil {
			a.writeJSON(w, http.StatusOK, conversationToJSON(existing))
			return
		}
	case store.KindGroup:
		if strings.TrimSpace(req.GroupName) == "" {
			a.writeError(w, http.StatusBadRequest, "group chats need a groupName")
			return
		}
		if len(req.ParticipantIDs) < 2 {
			a.writeError(w, http.StatusBadRequest, "group chats need at least two participants")
			return
		}
	default:
		a.writeError(w, http.StatusBadRequest, "type must be private or group")
		return
	}

	identities, err := a.db.FindIdentitiesByIDs(req.ParticipantIDs)
	if err != nil {
		a.serverError(w, "resolve participants", err)
		return
	}
	if len(identities) != len(req.ParticipantIDs) {
		a.writeError(w, http.StatusBadRequest, "one or more participants do not exist")
		return
	}

	conv := &store.Conversation{
		ID:        uuid.NewString(),
		Kind:      req.Type,
		GroupName: strings.TrimSpace(req.GroupName),
		UpdatedAt: time.Now().UnixMilli(),
	}
	for _, identity := range identities {
		role := store.RoleMember
		if req.Type == store.KindGroup && identity.ID == req.CreatorID {
			role = store.RoleAdmin
		}
		conv.Participants = append(conv.Participants, store.Participant{
			IdentityID:  identity.ID,
			DisplayName: identity.Name,
			Role:        role,
		})
	}
	if err := a.db.CreateConversation(conv); err != nil {
		a.serverError(w, "create conversation", err)
		return
	}
	a.writeJSON(w, http.StatusCreated, conversationToJSON(conv))
}

func (a *API) getChat(w http.ResponseWriter, r *http.Request) {
	conv, err := a.db.FindConversationByID(mux.Vars(r)["chatId"])
	if err != nil {
		a.serverError(w, "find conversation", err)
		return
	}
	if conv == nil {
		a.writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	a.writeJSON(w, http.StatusOK, conversationToJSON(conv))
}

func (a *API) listUserChats(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	identity, err := a.db.FindIdentityByID(userID)
	if err != nil {
		a.serverError(w, "find identity", err)
		return
	}
	if identity == nil {
		a.writeError(w, http.StatusNotFound, "user not found")
		return
	}

	convs, err := a.db.FindConversationsByParticipant(userID)
	if err != nil {
		a.serverError(w, "list conversations", err)
		return
	}
	out := make([]conversationJSON, 0, len(convs))
	for i := range convs {
		out = append(out, conversationToJSON(&convs[i]))
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatId"]
	conv, err := a.db.FindConversationByID(chatID)
	if err != nil {
		a.serverError(w, "find conversation", err)
		return
	}
	if conv == nil {
		a.writeError(w, http.StatusNotFound, "chat not found")
		return
	}

	var before int64
	if v := r.URL.Query().Get("before"); v != "" {
		before, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "before must be a unix-millisecond timestamp")
			return
		}
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > 200 {
			a.writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
	}

	msgs, err := a.db.FindMessagesByConversation(chatID, before, limit)
	if err != nil {
		a.serverError(w, "list messages", err)
		return
	}

	// The store pages newest first; clients render oldest first.
	out := make([]messageJSON, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, messageToJSON(msgs[i]))
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *API) postMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SenderID string `json:"senderId"`
		Content  string `json:"content"`
		TempID   string `json:"tempId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := a.sender.SendMessage(coordinator.SendRequest{
		ConversationID: mux.Vars(r)["chatId"],
		SenderID:       req.SenderID,
		Content:        req.Content,
		TempID:         req.TempID,
	})
	switch {
	case err == nil:
		a.writeJSON(w, http.StatusCreated, messageToJSON(*msg))
	case errors.Is(err, coordinator.ErrInvalidInput):
		a.writeError(w, http.StatusBadRequest, "senderId and content are required")
	case errors.Is(err, coordinator.ErrNotFound):
		a.writeError(w, http.StatusNotFound, "chat not found")
	case errors.Is(err, coordinator.ErrNotParticipant):
		a.writeError(w, http.StatusForbidden, "sender is not a participant of this chat")
	default:
		a.serverError(w, "send message", err)
	}
}

func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	snap := a.stats.Snapshot()
	a.writeJSON(w, http.StatusOK, map[string]any{
		"startedAt":        snap.StartedAt,
		"uptimeSeconds":    snap.UptimeSeconds,
		"counters":         snap.Counters,
		"onlineIdentities": a.online.OnlineIdentities(),
		"connections":      a.connections.ConnectionCount(),
	})
}

func (a *API) serverError(w http.ResponseWriter, op string, err error) {
	a.log.Error(op, zap.Error(err))
	a.writeError(w, http.StatusInternalServerError, "internal error")
}
