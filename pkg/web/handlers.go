package web

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-concierge/pkg/hub"
)

const defaultEventLimit = 50

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status())
}

func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return c.JSON(s.logs)
}

// handleGetEvents returns recent journal events; ?limit=N caps the count.
func (s *Server) handleGetEvents(c *fiber.Ctx) error {
	if s.events == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "journal disabled",
		})
	}
	limit := c.QueryInt("limit", defaultEventLimit)
	if limit <= 0 || limit > 1000 {
		limit = defaultEventLimit
	}
	events, err := s.events.Recent(c.UserContext(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(events)
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	if s.metrics == nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString("metrics disabled\n")
	}
	return adaptor.HTTPHandler(s.metrics)(c)
}

// handleStop asks the controller to stop at the next frame boundary.
func (s *Server) handleStop(c *fiber.Ctx) error {
	if s.OnStop == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "stop not configured",
		})
	}
	s.UpdateStatus(func(st *Status) { st.Stopping = true })
	s.AddLog("warn", "stop requested from dashboard")
	s.OnStop()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"stopping": true})
}

func (s *Server) handleStatusWS(conn *websocket.Conn) {
	data, _ := json.Marshal(s.Status())
	hub.NewClient(s.statusHub, conn, hub.NewJSONMessage(data)).Run()
}

// handleLogsWS replays the buffered lines before streaming new ones.
func (s *Server) handleLogsWS(conn *websocket.Conn) {
	s.logsMu.RLock()
	backlog := make([]hub.Message, 0, len(s.logs))
	for _, entry := range s.logs {
		data, _ := json.Marshal(entry)
		backlog = append(backlog, hub.NewJSONMessage(data))
	}
	s.logsMu.RUnlock()

	hub.NewClient(s.logHub, conn, backlog...).Run()
}

func (s *Server) handleCameraWS(conn *websocket.Conn) {
	hub.NewClient(s.cameraHub, conn).Run()
}
