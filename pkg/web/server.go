// Package web serves the operator dashboard: live status, logs, the
// annotated camera feed, the interaction journal, metrics and a stop
// button.
package web

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-concierge/pkg/hub"
	"github.com/teslashibe/go-concierge/pkg/journal"
)

//go:embed static
var staticFS embed.FS

// Phase is what the controller is doing right now.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSampling  Phase = "sampling"
	PhaseResolving Phase = "resolving"
	PhaseGreeting  Phase = "greeting"
	PhaseDialogue  Phase = "dialogue"
)

// Status is the dashboard's view of the controller.
type Status struct {
	Phase        Phase     `json:"phase"`
	Frames       int64     `json:"frames"`
	Interactions int       `json:"interactions"`
	LastIdentity string    `json:"last_identity,omitempty"`
	LastKind     string    `json:"last_kind,omitempty"`
	LastOutcome  string    `json:"last_outcome,omitempty"`
	LastKeyword  string    `json:"last_keyword,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	Stopping     bool      `json:"stopping"`
}

// LogEntry is one dashboard log line.
type LogEntry struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// EventSource lists journal events, newest first.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]journal.Event, error)
}

const maxLogs = 500

// Server is the dashboard HTTP server.
type Server struct {
	app    *fiber.App
	port   int
	logger *slog.Logger

	status   Status
	statusMu sync.RWMutex

	logs   []LogEntry
	logsMu sync.RWMutex

	statusHub *hub.Hub
	logHub    *hub.Hub
	cameraHub *hub.Hub

	events  EventSource
	metrics http.Handler

	// OnStop is called by POST /api/stop.
	OnStop func()
}

// Option configures a Server.
type Option func(*Server)

// WithEvents serves the journal at /api/events.
func WithEvents(src EventSource) Option {
	return func(s *Server) { s.events = src }
}

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the server's own logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates the dashboard on port.
func NewServer(port int, opts ...Option) *Server {
	s := &Server{
		port:   port,
		logger: slog.Default(),
		status: Status{Phase: PhaseIdle, StartedAt: time.Now()},
		logs:   make([]LogEntry, 0, maxLogs),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web")
	s.statusHub = hub.New("status", s.logger)
	s.logHub = hub.New("logs", s.logger)
	s.cameraHub = hub.New("camera", s.logger)

	app := fiber.New(fiber.Config{
		AppName:               "Concierge Dashboard",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/logs", s.handleGetLogs)
	api.Get("/events", s.handleGetEvents)
	api.Post("/stop", s.handleStop)

	app.Get("/metrics", s.handleMetrics)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))

	app.Use("/", filesystem.New(filesystem.Config{
		Root:       http.FS(staticFS),
		PathPrefix: "static",
		Index:      "index.html",
	}))

	s.app = app
	return s
}

// App exposes the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go s.statusHub.Run(ctx)
	go s.logHub.Run(ctx)
	go s.cameraHub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("🌐 Web dashboard: http://localhost:%d\n", s.port)
		errCh <- s.app.Listen(fmt.Sprintf(":%d", s.port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.app.ShutdownWithTimeout(5 * time.Second)
	}
}

// UpdateStatus applies update and broadcasts the result.
func (s *Server) UpdateStatus(update func(*Status)) {
	s.statusMu.Lock()
	update(&s.status)
	snapshot := s.status
	s.statusMu.Unlock()

	s.statusHub.BroadcastJSON(snapshot)
}

// SetPhase is a shorthand for UpdateStatus on the phase alone.
func (s *Server) SetPhase(p Phase) {
	s.UpdateStatus(func(st *Status) { st.Phase = p })
}

// SetEvents serves src at /api/events. Call before Run.
func (s *Server) SetEvents(src EventSource) {
	s.events = src
}

// SetMetrics serves h at /metrics. Call before Run.
func (s *Server) SetMetrics(h http.Handler) {
	s.metrics = h
}

// Status returns a copy of the current status.
func (s *Server) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// AddLog records a log line and broadcasts it.
func (s *Server) AddLog(level, message string) {
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05"),
		Level:   level,
		Message: message,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	s.logHub.BroadcastJSON(entry)
}

// SendCameraFrame broadcasts an annotated JPEG frame.
func (s *Server) SendCameraFrame(jpeg []byte) {
	s.cameraHub.BroadcastBinary(jpeg)
}
