package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/itsamit108/chat-app/internal/config"
	"github.com/itsamit108/chat-app/internal/httpapi"
	"github.com/itsamit108/chat-app/internal/hub"
)

// Server manages the HTTP server carrying both the websocket endpoint and
// the REST API.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer mounts the websocket endpoint at /ws and the REST routes under
// /api.
func NewServer(cfg *config.Config, logger *zap.Logger, h *hub.Hub, api *httpapi.API) *Server {
	r := mux.NewRouter()
	r.HandleFunc("/ws", h.ServeWS(cfg.ReadBufferSize, cfg.WriteBufferSize))
	api.Register(r)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown", zap.Error(err))
	}
}
