package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Handler receives connection lifecycle events and decoded client requests.
// The coordinator implements it; the indirection keeps the hub free of any
// chat semantics.
type Handler interface {
	Connect(connID, identityID string)
	Disconnect(connID string)
	HandleRequest(connID, event string, data json.RawMessage)
}

// Envelope is the wire frame in both directions: an event name plus its
// JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub owns every live websocket connection and the topic groups they have
// joined. All delivery methods are non-blocking: a client whose send queue
// is full loses the frame rather than stalling the caller.
type Hub struct {
	log       *zap.Logger
	queueSize int

	mu      sync.RWMutex
	clients map[string]*Client
	topics  map[string]map[string]*Client

	handler Handler
}

// New creates a hub. queueSize is the per-connection outbound buffer.
func New(log *zap.Logger, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Hub{
		log:       log,
		queueSize: queueSize,
		clients:   make(map[string]*Client),
		topics:    make(map[string]map[string]*Client),
	}
}

// RegisterHandler installs the request handler. Must be called before the
// hub accepts connections.
func (h *Hub) RegisterHandler(handler Handler) {
	h.handler = handler
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("connection opened",
		zap.String("conn", c.id),
		zap.String("identity", c.identityID),
		zap.Int("connections", n))
}

// unregister tears the client down exactly once; the read pump calls it on
// exit, Close reaches it indirectly by closing the socket.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	for topic, members := range h.topics {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()

	close(c.done)
	if h.handler != nil {
		h.handler.Disconnect(c.id)
	}
	h.log.Info("connection closed",
		zap.String("conn", c.id),
		zap.String("identity", c.identityID),
		zap.Int("connections", n))
}

// Send delivers one event to one connection.
func (h *Hub) Send(connID, event string, payload any) {
	frame, err := h.encode(event, payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c != nil {
		h.push(c, frame)
	}
}

// SendToTopic delivers an event to every member of a topic except
// excludeConn when non-empty.
func (h *Hub) SendToTopic(topic, event string, payload any, excludeConn string) {
	frame, err := h.encode(event, payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	members := make([]*Client, 0, len(h.topics[topic]))
	for id, c := range h.topics[topic] {
		if id != excludeConn {
			members = append(members, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range members {
		h.push(c, frame)
	}
}

// Broadcast delivers an event to every connection except excludeConn when
// non-empty.
func (h *Hub) Broadcast(event string, payload any, excludeConn string) {
	frame, err := h.encode(event, payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		if id != excludeConn {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.push(c, frame)
	}
}

// Join adds the connection to a topic group.
func (h *Hub) Join(connID, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.clients[connID]
	if c == nil {
		return
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]*Client)
	}
	h.topics[topic][connID] = c
}

// Leave removes the connection from a topic group.
func (h *Hub) Leave(connID, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.topics[topic]
	delete(members, connID)
	if len(members) == 0 {
		delete(h.topics, topic)
	}
}

// Close forcibly closes a connection. Teardown happens through the read
// pump noticing the closed socket.
func (h *Hub) Close(connID string) {
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c != nil {
		c.conn.Close()
	}
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.conn.Close()
	}
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Warn("encode payload", zap.String("event", event), zap.Error(err))
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// push enqueues a frame without ever blocking. Slow consumers lose frames;
// the socket-level ping cycle will eventually reap a dead one. A frame for
// a client already torn down is dropped silently: the lookup and the
// unregister race, and send stays open so the late enqueue is harmless.
func (h *Hub) push(c *Client, frame []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- frame:
	default:
		h.log.Warn("send queue full, dropping frame",
			zap.String("conn", c.id),
			zap.String("identity", c.identityID))
	}
}
