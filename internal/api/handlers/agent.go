package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"heimdall/internal/api/middleware"
	"heimdall/internal/core"
	"heimdall/internal/idgen"
	"heimdall/internal/policy"
	"heimdall/internal/storage"
	"heimdall/internal/wsregistry"
)

// AgentHandler serves the device-facing REST and WebSocket surface:
// heartbeats, usage events, rule lookups, tamper alerts, and the
// persistent push connection.
type AgentHandler struct {
	store    storage.Storage
	resolver *policy.Resolver
	registry *wsregistry.Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler(store storage.Storage, resolver *policy.Resolver, registry *wsregistry.Registry, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{
		store:    store,
		resolver: resolver,
		registry: registry,
		logger:   logger.With("component", "agent-api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type heartbeatRequest struct {
	Timestamp time.Time `json:"timestamp"`
	ActiveApp string    `json:"active_app"`
	SafeMode  bool       `json:"safe_mode"`
}

// Heartbeat handles POST /agent/heartbeat.
func (h *AgentHandler) Heartbeat(c *gin.Context) {
	device := middleware.DeviceFromContext(c)
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": "VALIDATION_ERROR"})
		return
	}

	now := time.Now().UTC()
	if err := h.store.TouchDeviceLastSeen(c.Request.Context(), device.ID, now); err != nil {
		h.logger.Error("failed to touch device last_seen", "device_id", device.ID, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "server_time": now.Format(time.RFC3339)})
}

type usageEventRequest struct {
	AppPackage      string  `json:"app_package"`
	AppGroupID      string  `json:"app_group_id"`
	EventType       string  `json:"event_type"`
	StartedAt       *time.Time `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at"`
	DurationSeconds *int    `json:"duration_seconds"`
}

// UsageEvent handles POST /agent/usage-event.
func (h *AgentHandler) UsageEvent(c *gin.Context) {
	device := middleware.DeviceFromContext(c)
	var req usageEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": "VALIDATION_ERROR"})
		return
	}

	event := &core.UsageEvent{
		ID:              idgen.NewUsageEvent(),
		DeviceID:        device.ID,
		ChildID:         device.ChildID,
		AppPackage:      req.AppPackage,
		AppGroupID:      req.AppGroupID,
		EventType:       core.UsageEventType(req.EventType),
		StartedAt:       req.StartedAt,
		EndedAt:         req.EndedAt,
		DurationSeconds: req.DurationSeconds,
		CreatedAt:       time.Now().UTC(),
	}
	if err := h.store.CreateUsageEvent(c.Request.Context(), event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_ERROR"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": event.ID, "status": "recorded"})
}

// CurrentRules handles GET /agent/rules/current.
func (h *AgentHandler) CurrentRules(c *gin.Context) {
	device := middleware.DeviceFromContext(c)
	rules, err := h.resolver.Resolve(c.Request.Context(), device.ID, false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve rules", "code": "INTERNAL_ERROR"})
		return
	}
	c.JSON(http.StatusOK, rules)
}

type tamperAlertRequest struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// TamperAlert handles POST /agent/tamper-alert.
func (h *AgentHandler) TamperAlert(c *gin.Context) {
	device := middleware.DeviceFromContext(c)
	var req tamperAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": "VALIDATION_ERROR"})
		return
	}

	h.logger.Warn("tamper alert received",
		"device_id", device.ID,
		"child_id", device.ChildID,
		"reason", req.Reason,
		"timestamp", req.Timestamp,
	)

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

// WebSocket handles GET /agent/ws. The first text frame after upgrade must
// be the raw device token; the server replies auth_ok or closes 4001.
func (h *AgentHandler) WebSocket(c *gin.Context) {
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

	device, err := h.store.GetDeviceByTokenHash(c.Request.Context(), middleware.HashDeviceToken(string(tokenBytes)))
	if err != nil || device == nil || device.Status != core.DeviceActive {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(4001, "auth failed"), time.Now().Add(time.Second))
		return
	}

	if err := conn.WriteJSON(wsregistry.NewMessage("auth_ok", map[string]any{"device_id": device.ID})); err != nil {
		return
	}

	h.registry.Connect(device.ID, device.ChildID, conn)
	defer h.registry.Disconnect(device.ID, device.ChildID)

	h.messageLoop(c, conn, device)
}

func (h *AgentHandler) messageLoop(c *gin.Context, conn *websocket.Conn, device *core.Device) {
	ctx := c.Request.Context()
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		msgType, _ := msg["type"].(string)
		switch msgType {
		case "ping":
			conn.WriteJSON(wsregistry.NewMessage("pong", map[string]any{"server_time": time.Now().UTC()}))

		case "heartbeat":
			if err := h.store.TouchDeviceLastSeen(ctx, device.ID, time.Now().UTC()); err != nil {
				h.logger.Error("failed to touch device last_seen", "device_id", device.ID, "error", err)
			}
			conn.WriteJSON(wsregistry.NewMessage("heartbeat_ack", nil))

		case "usage_update":
			h.handleUsageUpdate(ctx, conn, device, msg)

		default:
			conn.WriteJSON(wsregistry.NewMessage("ack", map[string]any{"received_type": msgType}))
		}
	}
}

func (h *AgentHandler) handleUsageUpdate(ctx context.Context, conn *websocket.Conn, device *core.Device, msg map[string]any) {
	appPackage, _ := msg["app_package"].(string)
	appGroupID, _ := msg["app_group_id"].(string)
	durationSeconds := 0
	if d, ok := msg["duration_seconds"].(float64); ok {
		durationSeconds = int(d)
	}

	event := &core.UsageEvent{
		ID:              idgen.NewUsageEvent(),
		DeviceID:        device.ID,
		ChildID:         device.ChildID,
		AppPackage:      appPackage,
		AppGroupID:      appGroupID,
		EventType:       core.UsageUpdate,
		DurationSeconds: &durationSeconds,
		CreatedAt:       time.Now().UTC(),
	}
	if err := h.store.CreateUsageEvent(ctx, event); err != nil {
		h.logger.Error("failed to persist usage update", "device_id", device.ID, "error", err)
		return
	}
	conn.WriteJSON(wsregistry.NewMessage("ack", nil))
}
