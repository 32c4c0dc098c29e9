package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/voice-waiter/pkg/protocol"
)

const (
	DefaultMinBackoff   = 500 * time.Millisecond
	DefaultMaxBackoff   = 30 * time.Second
	DefaultPingInterval = 30 * time.Second
	handshakeTimeout    = 10 * time.Second
	writeTimeout        = 10 * time.Second
)

// PushClient keeps a socket open to the push relay for one session and
// hands every message to a Bridge.
type PushClient struct {
	endpoint string
	bridge   *Bridge
	logger   *slog.Logger
	dialer   *websocket.Dialer

	minBackoff   time.Duration
	maxBackoff   time.Duration
	pingInterval time.Duration

	connected atomic.Bool
	attempts  atomic.Int64

	wsMu sync.Mutex
}

// Option configures a PushClient.
type Option func(*PushClient)

// WithBackoff bounds the reconnect delay.
func WithBackoff(min, max time.Duration) Option {
	return func(c *PushClient) {
		if min > 0 {
			c.minBackoff = min
		}
		if max >= c.minBackoff {
			c.maxBackoff = max
		}
	}
}

// WithPingInterval sets the keepalive period.
func WithPingInterval(d time.Duration) Option {
	return func(c *PushClient) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// NewPushClient creates a client for the session's push channel. base is the
// relay origin, e.g. ws://localhost:8090.
func NewPushClient(base, restaurantID, sessionID string, bridge *Bridge, logger *slog.Logger, opts ...Option) (*PushClient, error) {
	endpoint, err := Endpoint(base, restaurantID, sessionID)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &PushClient{
		endpoint:     endpoint,
		bridge:       bridge,
		logger:       logger.With("component", "push", "session_id", sessionID),
		dialer:       &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		minBackoff:   DefaultMinBackoff,
		maxBackoff:   DefaultMaxBackoff,
		pingInterval: DefaultPingInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint builds the socket URL for a session.
func Endpoint(base, restaurantID, sessionID string) (string, error) {
	if restaurantID == "" || sessionID == "" {
		return "", errors.New("bridge: restaurant and session are required")
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("bridge: invalid push url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("bridge: unsupported push url scheme %q", u.Scheme)
	}
	u.Path += "/ws/push/" + url.PathEscape(restaurantID) + "/" + url.PathEscape(sessionID)
	return u.String(), nil
}

// URL returns the socket URL.
func (c *PushClient) URL() string { return c.endpoint }

// Connected reports whether a socket is currently open.
func (c *PushClient) Connected() bool { return c.connected.Load() }

// Attempts returns the number of dial attempts so far.
func (c *PushClient) Attempts() int64 { return c.attempts.Load() }

// Run connects and reconnects until ctx is done. Messages missed while
// disconnected are not recovered.
func (c *PushClient) Run(ctx context.Context) error {
	backoff := c.minBackoff
	for {
		c.attempts.Add(1)
		ws, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
		if err == nil {
			c.logger.Info("push channel connected", "url", c.endpoint)
			backoff = c.minBackoff
			err = c.serve(ctx, ws)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("push channel lost", "error", err, "retry_in", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

func (c *PushClient) serve(ctx context.Context, ws *websocket.Conn) error {
	c.connected.Store(true)
	defer c.connected.Store(false)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		ws.Close()
	}()
	go c.keepAlive(ws, done)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Debug("push parse error", "error", err)
			continue
		}
		switch msg.Type {
		case protocol.TypeChefAnswer:
			c.bridge.Deliver(ctx, msg)
		case protocol.TypePing:
			c.pong(ws, msg)
		case protocol.TypePong:
			if p, err := msg.GetPongData(); err == nil {
				c.logger.Debug("push pong", "latency_ms", time.Now().UnixMilli()-p.PingTS)
			}
		}
	}
}

func (c *PushClient) keepAlive(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			msg, err := protocol.NewPingMessage(fmt.Sprintf("%d", c.attempts.Load()))
			if err != nil {
				continue
			}
			if err := c.write(ws, msg); err != nil {
				return
			}
		}
	}
}

func (c *PushClient) pong(ws *websocket.Conn, ping *protocol.Message) {
	id := ""
	ts := ping.Timestamp
	if p, err := ping.GetPingData(); err == nil {
		id = p.ID
		if p.Timestamp != 0 {
			ts = p.Timestamp
		}
	}
	msg, err := protocol.NewPongMessage(id, ts, time.Now().UnixMilli())
	if err != nil {
		return
	}
	c.write(ws, msg)
}

func (c *PushClient) write(ws *websocket.Conn, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteMessage(websocket.TextMessage, data)
}
