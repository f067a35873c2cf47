package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"heimdall/internal/api/middleware"
	"heimdall/internal/wsregistry"
)

// PortalHandler serves the parent-portal WebSocket: first frame is a JWT,
// subsequent server frames are invalidate/notification pushes.
type PortalHandler struct {
	issuer   *middleware.TokenIssuer
	registry *wsregistry.Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewPortalHandler creates a new portal WebSocket handler.
func NewPortalHandler(issuer *middleware.TokenIssuer, registry *wsregistry.Registry, logger *slog.Logger) *PortalHandler {
	return &PortalHandler{
		issuer:   issuer,
		registry: registry,
		logger:   logger.With("component", "portal-ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// WebSocket handles GET /portal/ws.
func (h *PortalHandler) WebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	_, tokenBytes, err := conn.ReadMessage()
	if err != nil {
		return
	}

	claims, err := h.issuer.Parse(string(tokenBytes))
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(4001, "auth failed"), time.Now().Add(time.Second))
		return
	}

	if err := conn.WriteJSON(wsregistry.NewMessage("auth_ok", map[string]any{
		"user_id":   claims.UserID,
		"family_id": claims.FamilyID,
	})); err != nil {
		return
	}

	h.registry.ConnectParent(claims.FamilyID, conn)
	defer h.registry.DisconnectParent(claims.FamilyID, conn)

	// The portal never sends anything meaningful on this socket beyond
	// keeping it open; read until the client disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
