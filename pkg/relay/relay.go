// Package relay forwards staff answers to connected kiosk sessions.
//
// Kiosks hold one WebSocket per session on /ws/push/:restaurant/:session.
// Staff tools POST answers to /api/chef-answer. Delivery is at-most-once:
// an answer for a session with no open socket is dropped.
package relay

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/voice-waiter/pkg/protocol"
)

// ErrNotConnected is returned when the addressed session has no socket.
var ErrNotConnected = errors.New("relay: session not connected")

// Session is one connected kiosk.
type Session struct {
	Address   protocol.Address
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	mu sync.Mutex
}

// Send writes a message to the kiosk.
func (s *Session) Send(msg *protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return s.Conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.LastSeen = time.Now()
	s.mu.Unlock()
}

// Hub tracks kiosk sessions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger

	messagesReceived atomic.Uint64
	answersSent      atomic.Uint64
	answersDropped   atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions: make(map[string]*Session),
		logger:   logger.With("component", "relay"),
	}
}

// RegisterRoutes registers the kiosk socket route.
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/push/:restaurant/:session", websocket.New(h.handleSession))
}

// RegisterAPIRoutes registers the staff API.
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	api.Post("/chef-answer", func(c *fiber.Ctx) error {
		var req protocol.ChefAnswerRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		if !req.Address.Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "restaurantId and sessionId are required"})
		}

		err := h.Deliver(req.Address, req.Answer, req.QuestionID)
		switch {
		case errors.Is(err, protocol.ErrEmptyAnswer):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, ErrNotConnected):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		case err != nil:
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "sent"})
	})

	sessions := api.Group("/sessions")
	sessions.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sessions": h.SessionInfos(),
			"count":    h.SessionCount(),
		})
	})
	sessions.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.Stats())
	})
}

func (h *Hub) handleSession(c *websocket.Conn) {
	addr := protocol.Address{
		RestaurantID: strings.Clone(c.Params("restaurant")),
		SessionID:    strings.Clone(c.Params("session")),
	}
	now := time.Now()
	sess := &Session{Address: addr, Conn: c, Connected: now, LastSeen: now}
	key := addr.Key()

	h.mu.Lock()
	prev := h.sessions[key]
	h.sessions[key] = sess
	count := len(h.sessions)
	h.mu.Unlock()

	if prev != nil {
		// A reconnect replaced the old socket.
		prev.Conn.Close()
	}
	h.logger.Info("session connected", "restaurant_id", addr.RestaurantID, "session_id", addr.SessionID, "sessions", count)

	defer func() {
		h.mu.Lock()
		if h.sessions[key] == sess {
			delete(h.sessions, key)
		}
		count := len(h.sessions)
		h.mu.Unlock()
		h.logger.Info("session disconnected", "restaurant_id", addr.RestaurantID, "session_id", addr.SessionID, "sessions", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("session read ended", "session_id", addr.SessionID, "error", err)
			return
		}
		sess.touch()
		h.messagesReceived.Add(1)
		h.handleMessage(sess, data)
	}
}

func (h *Hub) handleMessage(sess *Session, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.logger.Debug("parse error", "session_id", sess.Address.SessionID, "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		ping, _ := msg.GetPingData()
		id, ts := "", msg.Timestamp
		if ping != nil {
			id = ping.ID
			if ping.Timestamp != 0 {
				ts = ping.Timestamp
			}
		}
		pong, err := protocol.NewPongMessage(id, ts, time.Now().UnixMilli())
		if err != nil {
			return
		}
		if err := sess.Send(pong); err != nil {
			h.logger.Debug("pong failed", "session_id", sess.Address.SessionID, "error", err)
		}
	}
}

// Deliver sends a chef answer to the addressed session.
func (h *Hub) Deliver(addr protocol.Address, answer, questionID string) error {
	msg, err := protocol.NewChefAnswerMessage(answer, questionID)
	if err != nil {
		return err
	}

	h.mu.RLock()
	sess, ok := h.sessions[addr.Key()]
	h.mu.RUnlock()
	if !ok {
		h.answersDropped.Add(1)
		h.logger.Warn("answer dropped", "restaurant_id", addr.RestaurantID, "session_id", addr.SessionID)
		return ErrNotConnected
	}

	if err := sess.Send(msg); err != nil {
		h.answersDropped.Add(1)
		return err
	}
	h.answersSent.Add(1)
	return nil
}

// Session returns the connection for addr, or nil.
func (h *Hub) Session(addr protocol.Address) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[addr.Key()]
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Stats contains hub statistics.
type Stats struct {
	SessionCount     int    `json:"session_count"`
	MessagesReceived uint64 `json:"messages_received"`
	AnswersSent      uint64 `json:"answers_sent"`
	AnswersDropped   uint64 `json:"answers_dropped"`
}

// Stats returns hub statistics.
func (h *Hub) Stats() Stats {
	return Stats{
		SessionCount:     h.SessionCount(),
		MessagesReceived: h.messagesReceived.Load(),
		AnswersSent:      h.answersSent.Load(),
		AnswersDropped:   h.answersDropped.Load(),
	}
}

// SessionInfo describes a connected session.
type SessionInfo struct {
	RestaurantID string    `json:"restaurant_id"`
	SessionID    string    `json:"session_id"`
	Connected    time.Time `json:"connected"`
	LastSeen     time.Time `json:"last_seen"`
}

// SessionInfos lists connected sessions.
func (h *Hub) SessionInfos() []SessionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		s.mu.Lock()
		infos = append(infos, SessionInfo{
			RestaurantID: s.Address.RestaurantID,
			SessionID:    s.Address.SessionID,
			Connected:    s.Connected,
			LastSeen:     s.LastSeen,
		})
		s.mu.Unlock()
	}
	return infos
}
