// Package comm implements the device agent's two communication
// sub-clients: a pooled REST client for request/response endpoints and a
// persistent WebSocket client for server push.
package comm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

var ErrUnauthorized = errors.New("comm: device token rejected by server")

// RESTClient is a pooled HTTP client for the agent's request/response
// endpoints. Every request carries X-Device-Token.
type RESTClient struct {
	baseURL     string
	apiPrefix   string
	deviceToken string
	httpClient  *http.Client
}

// NewRESTClient creates a REST sub-client with a 30s request timeout and
// a 10s connect timeout.
func NewRESTClient(baseURL, apiPrefix, deviceToken string) *RESTClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
	}
	return &RESTClient{
		baseURL:     baseURL,
		apiPrefix:   apiPrefix,
		deviceToken: deviceToken,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// SetDeviceToken updates the token used for subsequent requests, e.g.
// after registration.
func (c *RESTClient) SetDeviceToken(token string) {
	c.deviceToken = token
}

func (c *RESTClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("comm: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+c.apiPrefix+path, reader)
	if err != nil {
		return fmt.Errorf("comm: build request: %w", err)
	}
	req.Header.Set("X-Device-Token", c.deviceToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("comm: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("comm: read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("comm: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("comm: decode response: %w", err)
		}
	}
	return nil
}

// Heartbeat posts POST /agent/heartbeat.
func (c *RESTClient) Heartbeat(ctx context.Context, activeApp string, safeMode bool) error {
	body := map[string]any{
		"timestamp":  time.Now().UTC(),
		"active_app": activeApp,
		"safe_mode":  safeMode,
	}
	return c.do(ctx, http.MethodPost, "/agent/heartbeat", body, nil)
}

// UsageEvent posts POST /agent/usage-event.
func (c *RESTClient) UsageEvent(ctx context.Context, payload any) error {
	return c.do(ctx, http.MethodPost, "/agent/usage-event", payload, nil)
}

// CurrentRules performs GET /agent/rules/current and decodes the response
// into out (typically *policy.ResolvedRules, kept as `any` here to avoid
// comm depending on the server-side policy package).
func (c *RESTClient) CurrentRules(ctx context.Context, out any) error {
	return c.do(ctx, http.MethodGet, "/agent/rules/current", nil, out)
}
