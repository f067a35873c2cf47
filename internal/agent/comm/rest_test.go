package comm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRESTClient_HeartbeatSendsDeviceToken(t *testing.T) {
	var gotToken string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Device-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, "", "tok-123")
	err := client.Heartbeat(context.Background(), "chrome.exe", true)
	require.NoError(t, err)

	assert.Equal(t, "tok-123", gotToken)
	assert.Equal(t, "chrome.exe", gotBody["active_app"])
	assert.Equal(t, true, gotBody["safe_mode"])
}

func TestRESTClient_UnauthorizedReturnsSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, "", "bad-token")
	err := client.UsageEvent(context.Background(), map[string]any{"type": "start"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRESTClient_CurrentRulesDecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agent/rules/current", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"daily_limit_minutes": 90}`))
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, "", "tok")
	var out struct {
		DailyLimitMinutes int `json:"daily_limit_minutes"`
	}
	require.NoError(t, client.CurrentRules(context.Background(), &out))
	assert.Equal(t, 90, out.DailyLimitMinutes)
}

func TestRESTClient_ErrorStatusSurfacesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, "", "tok")
	err := client.UsageEvent(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestRESTClient_SetDeviceTokenUpdatesSubsequentRequests(t *testing.T) {
	var gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Device-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, "", "old-token")
	client.SetDeviceToken("new-token")
	require.NoError(t, client.UsageEvent(context.Background(), map[string]any{}))
	assert.Equal(t, "new-token", gotToken)
}

func TestRESTClient_APIPrefixIsPrepended(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, "/v1", "tok")
	require.NoError(t, client.UsageEvent(context.Background(), map[string]any{}))
	assert.Equal(t, "/v1/agent/usage-event", gotPath)
}
