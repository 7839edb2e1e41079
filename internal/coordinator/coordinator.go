package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/itsamit108/chat-app/internal/bus"
	"github.com/itsamit108/chat-app/internal/config"
)

// Coordinator owns the realtime state of the relay: which connection speaks
// for which identity, who is online, who is viewing what, and who is typing.
// Durable chat state lives in the store; everything here is rebuilt from
// connection events and can be discarded on restart.
type Coordinator struct {
	log       *zap.Logger
	bus       *bus.Bus
	store     Store
	transport Transport

	registry *Registry
	presence *Presence
	focus    *Focus
	typing   *Typing

	offlineGrace  time.Duration
	typingTTL     time.Duration
	sweepInterval time.Duration

	locksMu   sync.Mutex
	convLocks map[string]*sync.Mutex

	// now is swappable in tests.
	now func() time.Time

	stop chan struct{}
	done chan struct{}
}

// New creates a coordinator wired to the given transport and store. Call
// Start to begin the typing sweep loop.
func New(log *zap.Logger, b *bus.Bus, st Store, tr Transport, cfg *config.Config) *Coordinator {
	return &Coordinator{
		log:           log,
		bus:           b,
		store:         st,
		transport:     tr,
		registry:      NewRegistry(),
		presence:      NewPresence(),
		focus:         NewFocus(),
		typing:        NewTyping(),
		offlineGrace:  cfg.OfflineGrace.Duration,
		typingTTL:     cfg.TypingTTL.Duration,
		sweepInterval: cfg.TypingSweepInterval.Duration,
		convLocks:     make(map[string]*sync.Mutex),
		now:           time.Now,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the typing sweep loop.
func (c *Coordinator) Start() {
	go c.run()
}

// Stop terminates the sweep loop and cancels pending offline checks.
func (c *Coordinator) Stop() {
	close(c.stop)
	<-c.done
	c.presence.Stop()
}

func (c *Coordinator) run() {
	defer close(c.done)
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.sweepTyping(now)
		}
	}
}

// sweepTyping expires stale typing entries and notifies the affected
// conversations. Split out from the loop so tests can drive it directly.
func (c *Coordinator) sweepTyping(now time.Time) {
	for _, e := range c.typing.Sweep(now, c.typingTTL) {
		c.emitTyping(e.ConversationID, e.IdentityID, false)
		c.publish("typing.expired", TypingPayload{
			IdentityID:     e.IdentityID,
			ConversationID: e.ConversationID,
		})
	}
}

// Connect binds a new connection to its identity. A previous connection for
// the same identity is evicted and closed. The new connection receives the
// current online set; everyone else hears user-online only when the
// identity was actually offline before.
func (c *Coordinator) Connect(connID, identityID string) {
	if evicted := c.registry.Bind(connID, identityID); evicted != "" {
		c.transport.Close(evicted)
		c.log.Info("evicted stale connection",
			zap.String("identity", identityID),
			zap.String("conn", evicted))
	}
	c.transport.Join(connID, userTopic(identityID))

	fresh := c.presence.MarkOnline(identityID)
	if err := c.store.UpdateLastSeen(identityID, c.now().UnixMilli()); err != nil {
		c.log.Warn("update last seen", zap.String("identity", identityID), zap.Error(err))
	}

	if fresh {
		c.transport.Broadcast(EventUserOnline, PresencePayload{IdentityID: identityID}, "")
		c.publish("presence.online", PresencePayload{IdentityID: identityID})
	}
	c.transport.Send(connID, EventOnlineUsers, OnlineUsersPayload{IdentityIDs: c.presence.Online()})
	c.publish("connection.bound", PresencePayload{IdentityID: identityID})
}

// Disconnect handles a connection going away. If it was the identity's
// current binding, last-seen is persisted and the offline broadcast plus
// the focus/typing cleanup are deferred by the grace period; a reconnect
// within the window keeps the ephemeral state intact. A disconnect of an
// already-evicted connection is ignored.
func (c *Coordinator) Disconnect(connID string) {
	identityID, current := c.registry.Unbind(connID)
	if identityID == "" || !current {
		return
	}

	if err := c.store.UpdateLastSeen(identityID, c.now().UnixMilli()); err != nil {
		c.log.Warn("update last seen", zap.String("identity", identityID), zap.Error(err))
	}

	c.presence.ScheduleOfflineCheck(identityID, c.offlineGrace, c.confirmOffline)
}

// confirmOffline runs after the grace period. The registry is the source of
// truth: if the identity rebound while the timer was pending, nothing
// happens and focus and typing state survive the blip.
func (c *Coordinator) confirmOffline(identityID string) {
	if _, ok := c.registry.ConnectionFor(identityID); ok {
		return
	}

	c.focus.ClearAll(identityID)
	for _, e := range c.typing.RemoveIdentity(identityID) {
		c.emitTyping(e.ConversationID, e.IdentityID, false)
	}

	if !c.presence.MarkOffline(identityID) {
		return
	}
	if err := c.store.UpdateLastSeen(identityID, c.now().UnixMilli()); err != nil {
		c.log.Warn("update last seen", zap.String("identity", identityID), zap.Error(err))
	}
	c.transport.Broadcast(EventUserOffline, PresencePayload{IdentityID: identityID}, "")
	c.publish("presence.offline", PresencePayload{IdentityID: identityID})
}

// HandleRequest dispatches a decoded client request. Errors on sendMessage
// are reported back as message_failed; errors elsewhere are logged and the
// request dropped, matching what clients expect.
func (c *Coordinator) HandleRequest(connID, event string, data json.RawMessage) {
	var err error
	switch event {
	case ReqJoinConversation:
		err = c.handleJoin(connID, data)
	case ReqLeaveConversation:
		err = c.handleLeave(connID, data)
	case ReqSendMessage:
		err = c.handleSend(connID, data)
	case ReqMessageSeen:
		err = c.handleSeen(connID, data)
	case ReqSetTyping:
		err = c.handleTyping(connID, data)
	case ReqKeepalive:
		err = c.handleKeepalive(connID, data)
	case ReqSubscribeChatList:
		err = c.handleSubscribeChatList(connID, data)
	default:
		c.log.Debug("unknown request", zap.String("event", event), zap.String("conn", connID))
		return
	}
	if err != nil {
		c.log.Warn("request failed",
			zap.String("event", event),
			zap.String("conn", connID),
			zap.Error(err))
	}
}

// handleJoin focuses the identity on the conversation and marks its backlog
// read.
func (c *Coordinator) handleJoin(connID string, data json.RawMessage) error {
	var req ConversationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if req.IdentityID == "" || req.ConversationID == "" {
		return fmt.Errorf("%w: identityId and conversationId are required", ErrInvalidInput)
	}

	conv, err := c.store.FindConversationByID(req.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, req.ConversationID)
	}
	if conv.Participant(req.IdentityID) == nil {
		return fmt.Errorf("%w: %s in %s", ErrNotParticipant, req.IdentityID, req.ConversationID)
	}

	c.transport.Join(connID, req.ConversationID)
	c.focus.Set(req.IdentityID, req.ConversationID)

	// Anyone already typing is replayed to the joiner, who otherwise only
	// hears about changes from now on.
	for _, typer := range c.typing.ActiveTypers(req.ConversationID, c.now(), c.typingTTL) {
		if typer == req.IdentityID {
			continue
		}
		c.transport.Send(connID, EventUserTyping, TypingPayload{
			IdentityID:     typer,
			ConversationID: req.ConversationID,
			IsTyping:       true,
		})
	}

	return c.readSweep(conv, req.IdentityID)
}

// handleLeave drops focus for the conversation. A leave that races a newer
// join keeps the newer focus.
func (c *Coordinator) handleLeave(connID string, data json.RawMessage) error {
	var req ConversationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if req.IdentityID == "" || req.ConversationID == "" {
		return fmt.Errorf("%w: identityId and conversationId are required", ErrInvalidInput)
	}
	c.transport.Leave(connID, req.ConversationID)
	c.focus.Clear(req.IdentityID, req.ConversationID)
	if c.typing.Clear(req.ConversationID, req.IdentityID) {
		c.emitTyping(req.ConversationID, req.IdentityID, false)
	}
	return nil
}

func (c *Coordinator) handleSend(connID string, data json.RawMessage) error {
	var req SendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendFailure(connID, "", "invalid payload")
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if _, err := c.SendMessage(req); err != nil {
		c.sendFailure(connID, req.TempID, failureReason(err))
		return err
	}
	return nil
}

// handleSeen marks the conversation's backlog read for the identity without
// changing focus. Clients send it when a conversation is already on screen
// and a new message arrives.
func (c *Coordinator) handleSeen(connID string, data json.RawMessage) error {
	var req ConversationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if req.IdentityID == "" || req.ConversationID == "" {
		return fmt.Errorf("%w: identityId and conversationId are required", ErrInvalidInput)
	}

	conv, err := c.store.FindConversationByID(req.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, req.ConversationID)
	}
	if conv.Participant(req.IdentityID) == nil {
		return fmt.Errorf("%w: %s in %s", ErrNotParticipant, req.IdentityID, req.ConversationID)
	}
	return c.readSweep(conv, req.IdentityID)
}

func (c *Coordinator) handleTyping(connID string, data json.RawMessage) error {
	var req TypingRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if req.IdentityID == "" || req.ConversationID == "" {
		return fmt.Errorf("%w: identityId and conversationId are required", ErrInvalidInput)
	}

	if req.IsTyping {
		already := c.typing.Set(req.ConversationID, req.IdentityID, c.now())
		if !already {
			c.emitTyping(req.ConversationID, req.IdentityID, true)
			c.publish("typing.started", TypingPayload{
				IdentityID:     req.IdentityID,
				ConversationID: req.ConversationID,
				IsTyping:       true,
			})
		}
		return nil
	}
	if c.typing.Clear(req.ConversationID, req.IdentityID) {
		c.emitTyping(req.ConversationID, req.IdentityID, false)
		c.publish("typing.stopped", TypingPayload{
			IdentityID:     req.IdentityID,
			ConversationID: req.ConversationID,
		})
	}
	return nil
}

// handleKeepalive refreshes last-seen and repairs the binding when the
// client noticed the server forgot it (for example after a server restart).
func (c *Coordinator) handleKeepalive(connID string, data json.RawMessage) error {
	var req KeepaliveRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	identityID, bound := c.registry.IdentityFor(connID)
	if !bound {
		if req.IdentityID == "" {
			return fmt.Errorf("%w: unbound connection without identityId", ErrInvalidInput)
		}
		c.Connect(connID, req.IdentityID)
		identityID = req.IdentityID
	}

	if err := c.store.UpdateLastSeen(identityID, c.now().UnixMilli()); err != nil {
		c.log.Warn("update last seen", zap.String("identity", identityID), zap.Error(err))
	}
	c.transport.Send(connID, EventKeepaliveAck, PresencePayload{IdentityID: identityID})
	return nil
}

// handleSubscribeChatList re-joins the connection to its per-identity topic
// and replays the current typing state of the identity's conversations, so
// a freshly opened list view shows indicators that started before it
// subscribed.
func (c *Coordinator) handleSubscribeChatList(connID string, data json.RawMessage) error {
	var req KeepaliveRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	identityID := req.IdentityID
	if identityID == "" {
		var ok bool
		identityID, ok = c.registry.IdentityFor(connID)
		if !ok {
			return fmt.Errorf("%w: unbound connection without identityId", ErrInvalidInput)
		}
	}
	c.transport.Join(connID, userTopic(identityID))

	convs, err := c.store.FindConversationsByParticipant(identityID)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	now := c.now()
	for _, conv := range convs {
		for _, typer := range c.typing.ActiveTypers(conv.ID, now, c.typingTTL) {
			if typer == identityID {
				continue
			}
			c.transport.Send(connID, EventUserTyping, TypingPayload{
				IdentityID:     typer,
				ConversationID: conv.ID,
				IsTyping:       true,
			})
		}
	}
	return nil
}

// emitTyping delivers a typing state change to every other participant with
// a live connection. Delivery is direct per participant rather than via the
// conversation topic so backgrounded clients still see the indicator.
func (c *Coordinator) emitTyping(conversationID, typerID string, isTyping bool) {
	conv, err := c.store.FindConversationByID(conversationID)
	if err != nil || conv == nil {
		return
	}
	payload := TypingPayload{
		IdentityID:     typerID,
		ConversationID: conversationID,
		IsTyping:       isTyping,
	}
	for _, p := range conv.Participants {
		if p.IdentityID == typerID {
			continue
		}
		if connID, ok := c.registry.ConnectionFor(p.IdentityID); ok {
			c.transport.Send(connID, EventUserTyping, payload)
		}
	}
}

func (c *Coordinator) sendFailure(connID, tempID, reason string) {
	c.transport.Send(connID, EventMessageFailed, FailurePayload{Error: reason, TempID: tempID})
	c.publish("message.failed", FailurePayload{Error: reason, TempID: tempID})
}

// failureReason maps an internal error to the string surfaced to clients.
// Store errors are not leaked verbatim.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid message"
	case errors.Is(err, ErrNotParticipant):
		return "not a participant of this chat"
	case errors.Is(err, ErrNotFound):
		return "chat not found"
	default:
		return "failed to send message"
	}
}

// lockConversation serializes mutations of one conversation. Returns the
// unlock func.
func (c *Coordinator) lockConversation(conversationID string) func() {
	c.locksMu.Lock()
	l := c.convLocks[conversationID]
	if l == nil {
		l = &sync.Mutex{}
		c.convLocks[conversationID] = l
	}
	c.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

func (c *Coordinator) publish(kind string, payload any) {
	c.bus.Publish(bus.Event{Kind: kind, Timestamp: c.now(), Payload: payload})
}

// OnlineIdentities exposes the current online set, used by the HTTP stats
// endpoint.
func (c *Coordinator) OnlineIdentities() []string {
	return c.presence.Online()
}
