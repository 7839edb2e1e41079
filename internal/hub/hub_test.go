package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type recordedRequest struct {
	ConnID string
	Event  string
	Data   json.RawMessage
}

// recordingHandler captures lifecycle and request callbacks on channels so
// tests can wait for them.
type recordingHandler struct {
	mu          sync.Mutex
	conns       map[string]string // conn id -> identity
	connected   chan string
	disconnects chan string
	requests    chan recordedRequest
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		conns:       make(map[string]string),
		connected:   make(chan string, 8),
		disconnects: make(chan string, 8),
		requests:    make(chan recordedRequest, 8),
	}
}

func (r *recordingHandler) Connect(connID, identityID string) {
	r.mu.Lock()
	r.conns[connID] = identityID
	r.mu.Unlock()
	r.connected <- connID
}

func (r *recordingHandler) Disconnect(connID string) {
	r.disconnects <- connID
}

func (r *recordingHandler) HandleRequest(connID, event string, data json.RawMessage) {
	r.requests <- recordedRequest{ConnID: connID, Event: event, Data: data}
}

func testHub(t *testing.T) (*Hub, *recordingHandler, *httptest.Server) {
	t.Helper()
	h := New(zap.NewNop(), 16)
	handler := newRecordingHandler()
	h.RegisterHandler(handler)

	srv := httptest.NewServer(h.ServeWS(1024, 1024))
	t.Cleanup(func() {
		h.Shutdown()
		srv.Close()
	})
	return h, handler, srv
}

func wsURL(srv *httptest.Server, identityID string) string {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if identityID != "" {
		url += "?userId=" + identityID
	}
	return url
}

func dial(t *testing.T, srv *httptest.Server, identityID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, identityID), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitConn(t *testing.T, handler *recordingHandler) string {
	t.Helper()
	select {
	case id := <-handler.connected:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connect callback")
		return ""
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestServeWSRequiresUserID(t *testing.T) {
	_, _, srv := testHub(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	if err == nil {
		t.Fatal("handshake without userId should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 before upgrade, got %+v", resp)
	}
}

func TestConnectAndDisconnectCallbacks(t *testing.T) {
	h, handler, srv := testHub(t)

	conn := dial(t, srv, "alice")
	connID := waitConn(t, handler)

	handler.mu.Lock()
	identity := handler.conns[connID]
	handler.mu.Unlock()
	if identity != "alice" {
		t.Fatalf("identity = %q, want alice", identity)
	}
	if h.ConnectionCount() != 1 {
		t.Fatalf("ConnectionCount = %d, want 1", h.ConnectionCount())
	}

	conn.Close()
	select {
	case id := <-handler.disconnects:
		if id != connID {
			t.Fatalf("disconnect for %q, want %q", id, connID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect callback")
	}
}

func TestRequestDispatch(t *testing.T) {
	_, handler, srv := testHub(t)
	conn := dial(t, srv, "alice")
	connID := waitConn(t, handler)

	frame, _ := json.Marshal(Envelope{
		Event: "sendMessage",
		Data:  json.RawMessage(`{"conversationId":"c1","senderId":"alice","content":"hi"}`),
	})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case req := <-handler.requests:
		if req.ConnID != connID || req.Event != "sendMessage" {
			t.Fatalf("got request %+v", req)
		}
		var payload struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(req.Data, &payload); err != nil || payload.Content != "hi" {
			t.Fatalf("payload not forwarded verbatim: %s", req.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request")
	}
}

func TestMalformedFrameSkipped(t *testing.T) {
	_, handler, srv := testHub(t)
	conn := dial(t, srv, "alice")
	waitConn(t, handler)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame, _ := json.Marshal(Envelope{Event: "keepalive"})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The bad frame is dropped, the next one still arrives.
	select {
	case req := <-handler.requests:
		if req.Event != "keepalive" {
			t.Fatalf("event = %q, want keepalive", req.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request after malformed frame")
	}
}

func TestSendAndTopics(t *testing.T) {
	h, handler, srv := testHub(t)

	connA := dial(t, srv, "alice")
	idA := waitConn(t, handler)
	connB := dial(t, srv, "bob")
	idB := waitConn(t, handler)

	h.Send(idA, "direct", map[string]string{"to": "alice"})
	if env := readEnvelope(t, connA); env.Event != "direct" {
		t.Fatalf("event = %q, want direct", env.Event)
	}

	h.Join(idA, "room-1")
	h.Join(idB, "room-1")
	h.SendToTopic("room-1", "topic-msg", map[string]int{"n": 1}, idA)
	if env := readEnvelope(t, connB); env.Event != "topic-msg" {
		t.Fatalf("event = %q, want topic-msg", env.Event)
	}

	// alice was excluded above; the next frame she sees is the broadcast.
	h.Broadcast("announce", nil, "")
	if env := readEnvelope(t, connA); env.Event != "announce" {
		t.Fatalf("event = %q, want announce", env.Event)
	}
	if env := readEnvelope(t, connB); env.Event != "announce" {
		t.Fatalf("event = %q, want announce", env.Event)
	}

	h.Leave(idB, "room-1")
	h.SendToTopic("room-1", "after-leave", nil, "")
	if env := readEnvelope(t, connA); env.Event != "after-leave" {
		t.Fatalf("event = %q, want after-leave", env.Event)
	}
}

// TestDeliveryAfterTeardownIsDropped pins down the race between a delivery
// and the read pump's unregister: the sender snapshots the client under the
// read lock, the client is torn down, then the enqueue happens. The late
// frame must be dropped, never panic the sender.
func TestDeliveryAfterTeardownIsDropped(t *testing.T) {
	h := New(zap.NewNop(), 4)
	c := &Client{
		hub:        h,
		id:         "conn-1",
		identityID: "alice",
		send:       make(chan []byte, 4),
		done:       make(chan struct{}),
	}
	h.register(c)

	// Snapshot the client the way Send does before pushing.
	h.mu.RLock()
	snapshot := h.clients["conn-1"]
	h.mu.RUnlock()

	h.unregister(c)

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("push after unregister panicked: %v", r)
		}
	}()
	h.push(snapshot, []byte(`{"event":"late"}`))

	select {
	case frame := <-c.send:
		t.Fatalf("frame enqueued for a dead client: %s", frame)
	default:
	}
}

func TestCloseTerminatesConnection(t *testing.T) {
	h, handler, srv := testHub(t)
	conn := dial(t, srv, "alice")
	connID := waitConn(t, handler)

	h.Close(connID)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected read to fail after server-side close")
	}
	select {
	case <-handler.disconnects:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect after Close")
	}
}
