package realtime

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Authenticator resolves the user behind an upgrade request.
type Authenticator func(r *http.Request) (string, error)

// Handler upgrades authenticated requests and registers them with the hub.
type Handler struct {
	hub          *Hub
	authenticate Authenticator
	upgrader     websocket.Upgrader
}

func NewHandler(hub *Hub, authenticate Authenticator) *Handler {
	return &Handler{
		hub:          hub,
		authenticate: authenticate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authenticate(r)
	if err != nil || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := Client{UserID: userID, Conn: conn}
	select {
	case h.hub.Register <- client:
	case <-h.hub.done:
		_ = conn.Close()
		return
	}

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	select {
	case h.hub.Unregister <- client:
	case <-h.hub.done:
	}
}
