package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/voice-waiter/pkg/hub"
	"github.com/teslashibe/voice-waiter/pkg/protocol"
)

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.statusData())
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	turns := s.conv.History()
	return c.JSON(fiber.Map{
		"session_id": s.conv.SessionID(),
		"turns":      turns,
		"count":      len(turns),
	})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	m := s.conv.Metrics()
	last, ok := m.Last()
	avg := m.Average()
	resp := fiber.Map{
		"turns":   m.Turns(),
		"average": avg,
		"summary": avg.FormatLatency(),
	}
	if ok {
		resp["last"] = last
	}
	return c.JSON(resp)
}

// handleTap behaves like the on-screen mic button: it starts a turn from
// idle and stops whatever is running otherwise.
func (s *Server) handleTap(c *fiber.Ctx) error {
	started := s.conv.Tap()
	return c.JSON(fiber.Map{
		"started": started,
		"status":  s.conv.Status().String(),
	})
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	s.conv.Stop()
	return c.JSON(fiber.Map{"status": s.conv.Status().String()})
}

// WakeWordRequest is the body of POST /api/wakeword.
type WakeWordRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleWakeWord(c *fiber.Ctx) error {
	if s.wake == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "wake word not configured"})
	}
	var req WakeWordRequest
	if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "enabled is required"})
	}
	if err := s.wake.SetEnabled(*req.Enabled); err != nil {
		// The toggle applies even when it could not be saved.
		s.logger.Warn("wake word toggle not persisted", "error", err)
	}
	return c.JSON(s.statusData())
}

// handleStatusWS sends the current status, then streams updates.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	if msg, err := protocol.NewStatusMessage(s.statusData()); err == nil {
		if data, err := msg.Bytes(); err == nil {
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
	hub.NewClient(s.statusHub, c).Run()
}
