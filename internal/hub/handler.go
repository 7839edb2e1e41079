package hub

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ServeWS returns the websocket entry point. Clients identify themselves
// with a userId query parameter; a request without one is rejected before
// the upgrade.
func (h *Hub) ServeWS(readBufferSize, writeBufferSize int) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  readBufferSize,
		WriteBufferSize: writeBufferSize,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		identityID := r.URL.Query().Get("userId")
		if identityID == "" {
			http.Error(w, "userId query parameter is required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("upgrade failed", zap.Error(err))
			return
		}

		c := &Client{
			hub:        h,
			conn:       conn,
			id:         uuid.NewString(),
			identityID: identityID,
			send:       make(chan []byte, h.queueSize),
			done:       make(chan struct{}),
		}
		h.register(c)

		go c.writePump()
		go c.readPump()

		if h.handler != nil {
			h.handler.Connect(c.id, identityID)
		}
	}
}
