// Package web serves the kiosk dashboard: live conversation status plus
// tap, stop and wake word controls.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/voice-waiter/pkg/backend"
	"github.com/teslashibe/voice-waiter/pkg/conversation"
	"github.com/teslashibe/voice-waiter/pkg/hub"
	"github.com/teslashibe/voice-waiter/pkg/protocol"
)

// Conversation is the machine the dashboard observes and drives.
type Conversation interface {
	SessionID() string
	Status() conversation.Status
	History() []backend.Turn
	Metrics() *conversation.MetricsCollector
	Tap() bool
	Stop()
	Subscribe(fn func(conversation.Status)) func()
	OnNotice(fn func(conversation.Notice)) func()
}

// WakeWord is the optional wake word toggle.
type WakeWord interface {
	Enabled() bool
	Listening() bool
	SetEnabled(bool) error
}

// Config configures a Server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// StaticDir is served at / when set.
	StaticDir string
	Logger    *slog.Logger
}

// Server is the dashboard HTTP server.
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger

	conv Conversation
	wake WakeWord

	statusHub *hub.Hub
}

// NewServer creates a dashboard for conv. wake may be nil.
func NewServer(conv Conversation, wake WakeWord, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "web"),
		conv:      conv,
		wake:      wake,
		statusHub: hub.New("status", cfg.Logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Voice Waiter",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())
	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/history", s.handleHistory)
	api.Get("/metrics", s.handleMetrics)
	api.Post("/tap", s.handleTap)
	api.Post("/stop", s.handleStop)
	api.Post("/wakeword", s.handleWakeWord)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// StatusHub returns the hub that carries status, notice and metrics frames.
func (s *Server) StatusHub() *hub.Hub { return s.statusHub }

// Run serves on cfg.Addr until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.statusHub.Run(hubCtx)

	unsubscribe := s.watch()
	defer unsubscribe()

	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listener(ln) }()
	s.logger.Info("dashboard listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// watch forwards conversation events to the status hub.
func (s *Server) watch() func() {
	publish := func(msg *protocol.Message, err error) {
		if err != nil {
			s.logger.Debug("encode dashboard frame", "error", err)
			return
		}
		s.statusHub.Publish(msg)
	}

	unStatus := s.conv.Subscribe(func(conversation.Status) {
		publish(protocol.NewStatusMessage(s.statusData()))
	})
	unNotice := s.conv.OnNotice(func(n conversation.Notice) {
		publish(protocol.NewNoticeMessage(protocol.NoticeData{
			SessionID: n.SessionID,
			Kind:      string(n.Kind),
			Error:     n.Error,
		}))
	})
	metrics := s.conv.Metrics()
	metrics.OnUpdate(func(m conversation.Metrics) {
		if m.DoneTime.IsZero() {
			return
		}
		publish(protocol.NewMetricsMessage(protocol.MetricsData{
			Turns:   metrics.Turns(),
			Latency: m.FormatLatency(),
			Outcome: m.Outcome,
		}))
	})

	return func() {
		unStatus()
		unNotice()
		metrics.OnUpdate(nil)
	}
}

func (s *Server) statusData() protocol.StatusData {
	data := protocol.StatusData{
		SessionID: s.conv.SessionID(),
		Status:    s.conv.Status().String(),
	}
	if s.wake != nil {
		data.WakeEnabled = s.wake.Enabled()
		data.Listening = s.wake.Listening()
	}
	return data
}
