package comm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrAuthFailed = errors.New("comm: websocket auth rejected")

const (
	minBackoff = 1 * time.Second
	maxBackoff = 60 * time.Second
)

// WSMessageFunc dispatches one decoded inbound message to the orchestrator.
type WSMessageFunc func(msg map[string]any)

// WSClient maintains one persistent authenticated WebSocket connection to
// the server's device-agent endpoint, reconnecting with exponential
// backoff on failure.
type WSClient struct {
	url               string
	deviceToken       string
	heartbeatInterval time.Duration
	onMessage         WSMessageFunc
	logger            *slog.Logger

	mu      sync.Mutex
	outbox  chan map[string]any
	connected bool
}

// NewWSClient creates a WebSocket sub-client. serverURL is the base HTTP(S)
// URL; it is rewritten to ws(s):// and /agent/ws appended.
func NewWSClient(serverURL, deviceToken string, heartbeatInterval time.Duration, onMessage WSMessageFunc, logger *slog.Logger) (*WSClient, error) {
	wsURL, err := toWebSocketURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &WSClient{
		url:               wsURL,
		deviceToken:       deviceToken,
		heartbeatInterval: heartbeatInterval,
		onMessage:         onMessage,
		logger:            logger.With("component", "ws-client"),
		outbox:            make(chan map[string]any, 32),
	}, nil
}

// SetOnMessage installs the inbound-message callback, for callers that
// need to wire a WSClient and its consumer to each other after
// construction. Must be called before Run.
func (c *WSClient) SetOnMessage(fn WSMessageFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

func toWebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/agent/ws"
	return u.String(), nil
}

// Enqueue queues an outgoing message for the writer sub-task.
func (c *WSClient) Enqueue(msg map[string]any) {
	select {
	case c.outbox <- msg:
	default:
		c.logger.Warn("outgoing queue full, dropping message", "type", msg["type"])
	}
}

// IsConnected reports whether the socket is currently authenticated.
func (c *WSClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Run blocks, maintaining the connection with reconnect/backoff until ctx
// is cancelled.
func (c *WSClient) Run(ctx context.Context) {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.runOnce(ctx); err != nil {
			c.logger.Warn("websocket session ended", "error", err)
		}
		c.setConnected(false)

		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *WSClient) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *WSClient) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(c.deviceToken)); err != nil {
		return err
	}

	var ack map[string]any
	if err := conn.ReadJSON(&ack); err != nil {
		return err
	}
	if ack["type"] != "auth_ok" {
		return ErrAuthFailed
	}
	c.setConnected(true)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errOnce := make(chan error, 3)

	wg.Add(3)
	go func() { defer wg.Done(); errOnce <- c.reader(sessionCtx, conn) }()
	go func() { defer wg.Done(); errOnce <- c.writer(sessionCtx, conn) }()
	go func() { defer wg.Done(); errOnce <- c.heartbeatProducer(sessionCtx) }()

	err = <-errOnce
	cancel()
	wg.Wait()
	return err
}

func (c *WSClient) reader(ctx context.Context, conn *websocket.Conn) error {
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		c.mu.Lock()
		onMessage := c.onMessage
		c.mu.Unlock()
		if onMessage != nil {
			onMessage(msg)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *WSClient) writer(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.outbox:
			data, err := json.Marshal(msg)
			if err != nil {
				c.logger.Warn("failed to encode outgoing message", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		}
	}
}

func (c *WSClient) heartbeatProducer(ctx context.Context) error {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Enqueue(map[string]any{"type": "heartbeat"})
		}
	}
}
