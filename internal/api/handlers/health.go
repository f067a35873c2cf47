package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"heimdall/internal/storage"
)

// HealthHandler reports service and storage health.
type HealthHandler struct {
	store storage.Storage
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store storage.Storage) *HealthHandler {
	return &HealthHandler{store: store}
}

// GetHealth returns the health status of the service. A dead DB surfaces
// as "degraded" rather than a 5xx so uptime monitors can distinguish it
// from a crashed process.
// GET /health
func (h *HealthHandler) GetHealth(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "degraded", "service": "heimdall"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP", "service": "heimdall"})
}
