package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"

	"heimdall/internal/core"
	"heimdall/internal/storage"
)

// DeviceKey is the context key the authenticated Device is stored under.
const DeviceKey = "device"

// HashDeviceToken returns the hex-encoded SHA-256 of a raw device token,
// the form persisted in Device.device_token_hash.
func HashDeviceToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// DeviceAuth validates the X-Device-Token header against the hashed
// token on file for an active device.
func DeviceAuth(store storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-Device-Token")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "X-Device-Token header required",
				"code":  "AUTH_REQUIRED",
			})
			return
		}

		device, err := store.GetDeviceByTokenHash(c.Request.Context(), HashDeviceToken(token))
		if err != nil || device == nil || device.Status != core.DeviceActive {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or revoked device token",
				"code":  "INVALID_TOKEN",
			})
			return
		}

		c.Set(DeviceKey, device)
		c.Next()
	}
}

// DeviceFromContext retrieves the Device set by DeviceAuth.
func DeviceFromContext(c *gin.Context) *core.Device {
	v, ok := c.Get(DeviceKey)
	if !ok {
		return nil
	}
	return v.(*core.Device)
}
