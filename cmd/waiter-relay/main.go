// waiter-relay: development push relay for staff answers.
// Kiosks hold a socket per session; staff tools POST answers to it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/voice-waiter/internal/log"
	"github.com/teslashibe/voice-waiter/pkg/relay"
)

var (
	version = "1.0.0"
	port    = flag.Int("port", 8090, "HTTP server port")
	debug   = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	// Override from environment
	if envPort := os.Getenv("PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", port)
	}

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level)
	l := log.Component("waiter-relay")

	app := fiber.New(fiber.Config{
		AppName:               "waiter-relay",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if *debug {
		app.Use(logger.New())
	}

	hub := relay.NewHub(log.L())
	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"version":  version,
			"sessions": hub.SessionCount(),
		})
	})

	app.Get("/metrics", func(c *fiber.Ctx) error {
		stats := hub.Stats()
		return c.SendString(fmt.Sprintf(`# HELP waiter_relay_sessions Connected kiosk sessions
# TYPE waiter_relay_sessions gauge
waiter_relay_sessions %d

# HELP waiter_relay_messages_received Total messages received from kiosks
# TYPE waiter_relay_messages_received counter
waiter_relay_messages_received %d

# HELP waiter_relay_answers_sent Total answers delivered
# TYPE waiter_relay_answers_sent counter
waiter_relay_answers_sent %d

# HELP waiter_relay_answers_dropped Total answers dropped
# TYPE waiter_relay_answers_dropped counter
waiter_relay_answers_dropped %d
`, stats.SessionCount, stats.MessagesReceived, stats.AnswersSent, stats.AnswersDropped))
	})

	go func() {
		addr := fmt.Sprintf(":%d", *port)
		l.Info("starting relay", "version", version, "addr", addr,
			"socket", fmt.Sprintf("ws://localhost:%d/ws/push/:restaurant/:session", *port),
			"answers", fmt.Sprintf("http://localhost:%d/api/chef-answer", *port))
		if err := app.Listen(addr); err != nil {
			l.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		l.Error("shutdown error", "error", err)
	}
}
