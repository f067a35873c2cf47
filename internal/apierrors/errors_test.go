package apierrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heimdall/internal/core"
	"heimdall/internal/storage"
	"heimdall/internal/tan"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", storage.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"conflict", storage.ErrConflict, http.StatusConflict, "CONFLICT"},
		{"tan blackout window", tan.ErrBlackoutWindow, http.StatusConflict, "TAN_BLACKOUT_WINDOW"},
		{"tan daily cap", tan.ErrDailyCapReached, http.StatusConflict, "TAN_DAILY_CAP_REACHED"},
		{"validation error", core.ErrMissingCode, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unmapped error", errors.New("some db failure"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := Lookup(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestLookup_WrappedErrorStillMatches(t *testing.T) {
	wrapped := fmt.Errorf("redeem failed: %w", tan.ErrBlackoutWindow)
	status, code := Lookup(wrapped)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "TAN_BLACKOUT_WINDOW", code)
}

func TestRespond(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Respond(c, tan.ErrBlackoutWindow)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.True(t, c.IsAborted())

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "TAN_BLACKOUT_WINDOW", body.Code)
	assert.Contains(t, body.Error, "blackout")
}
