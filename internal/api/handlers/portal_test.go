package handlers

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heimdall/internal/api/middleware"
	"heimdall/internal/wsregistry"
)

func TestPortalHandler_WebSocket_AuthSuccessConnectsParent(t *testing.T) {
	issuer := middleware.NewTokenIssuer([]byte("secret"), time.Minute)
	registry := wsregistry.New()
	h := NewPortalHandler(issuer, registry, testAgentLogger())

	r := gin.New()
	r.GET("/portal/ws", h.WebSocket)
	server := httptest.NewServer(r)
	defer server.Close()

	token, err := issuer.Issue("user1", "fam1", "parent")
	require.NoError(t, err)

	wsURL := "ws" + server.URL[len("http"):] + "/portal/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(token)))

	var authMsg map[string]any
	require.NoError(t, conn.ReadJSON(&authMsg))
	assert.Equal(t, "auth_ok", authMsg["type"])

	assert.Eventually(t, func() bool {
		return registry.NotifyParents("fam1", wsregistry.NewMessage("ping", nil)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPortalHandler_WebSocket_InvalidTokenClosesConnection(t *testing.T) {
	issuer := middleware.NewTokenIssuer([]byte("secret"), time.Minute)
	registry := wsregistry.New()
	h := NewPortalHandler(issuer, registry, testAgentLogger())

	r := gin.New()
	r.GET("/portal/ws", h.WebSocket)
	server := httptest.NewServer(r)
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):] + "/portal/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not-a-jwt")))

	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
