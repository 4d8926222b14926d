package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const maxFrameSize = 64 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The control plane carries no credentials, so origin checks are
	// left to the reverse proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the request and pumps inbound frames into
// the message handler until the peer goes away. The client id comes
// from the path, then the query string, then a fresh UUID.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	if clientID == "" {
		clientID = r.URL.Query().Get("client_id")
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed",
			"client_id", clientID,
			"error", err)
		return
	}
	sock.SetReadLimit(maxFrameSize)

	gen, err := s.reg.Connect(sock, clientID, r.UserAgent(), clientIP(r))
	if err != nil {
		slog.Warn("websocket handshake failed",
			"client_id", clientID,
			"error", err)
		_ = sock.Close()
		return
	}
	// Tear down only this registration. When the peer reconnected under
	// the same id, the replacement owns the entry now.
	defer s.reg.DisconnectConn(clientID, gen)

	for {
		kind, frame, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read error",
					"client_id", clientID,
					"error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		s.handler.HandleFrame(clientID, frame)
	}
}
