package ws

import (
	"log/slog"
	"net/http"
	"strings"

	"arenachat/internal/auth"
	"arenachat/internal/config"
	"arenachat/internal/hub"

	"github.com/gorilla/websocket"
)

// Server upgrades authenticated HTTP requests and hands each resulting
// connection to a Session for its whole lifetime.
type Server struct {
	auth     *auth.Service
	hub      *hub.Hub
	cfg      SessionConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(authSvc *auth.Service, h *hub.Hub, cfg *config.Config, logger *slog.Logger) *Server {
	return &Server{
		auth: authSvc,
		hub:  h,
		cfg: SessionConfig{
			EventsPerSec:    cfg.EventsPerSec,
			EventBurst:      cfg.EventBurst,
			OutboundQueue:   cfg.OutboundQueue,
			MaxMessageBytes: cfg.MaxMessageBytes,
			Logger:          logger,
		},
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates before upgrading: a bad token costs a plain
// 401, never a WebSocket handshake.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := s.auth.Verify(bearerToken(r))
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	session := NewSession(s.hub, conn, identity, s.cfg)
	s.logger.Info("connection opened",
		"connection_id", session.ConnectionID(),
		"identity_id", identity.ID)

	if err := session.Run(r.Context()); err != nil && !websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		s.logger.Warn("connection closed", "connection_id", session.ConnectionID(), "error", err)
		return
	}
	s.logger.Info("connection closed", "connection_id", session.ConnectionID())
}

// bearerToken accepts the Authorization header, a token header or a
// token query parameter. Browser WebSocket clients cannot set custom
// headers, so the query form stays supported.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if h := r.Header.Get("token"); h != "" {
		return h
	}
	return r.URL.Query().Get("token")
}
