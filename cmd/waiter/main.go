// waiter: voice ordering kiosk.
//
// Press Enter to tap the microphone button, type "stop" to cancel and
// "q" to quit. The dashboard offers the same controls over HTTP.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/teslashibe/voice-waiter/internal/config"
	"github.com/teslashibe/voice-waiter/internal/log"
	"github.com/teslashibe/voice-waiter/pkg/audioio"
	"github.com/teslashibe/voice-waiter/pkg/backend"
	"github.com/teslashibe/voice-waiter/pkg/conversation"
	"github.com/teslashibe/voice-waiter/pkg/prefs"
	"github.com/teslashibe/voice-waiter/pkg/speech"
	"github.com/teslashibe/voice-waiter/pkg/tts"
	"github.com/teslashibe/voice-waiter/pkg/voice"
)

var (
	configPath = flag.String("config", "", "YAML config file")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	port       = flag.Int("port", 8080, "Dashboard port (0 disables it)")
	mock       = flag.Bool("mock", false, "Use a scripted mic and canned AI replies")
	restaurant = flag.String("restaurant", "", "Restaurant id (overrides config)")
	lang       = flag.String("lang", "", "Language code (overrides config)")
)

func main() {
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level)
	l := log.Component("waiter")

	if err := run(l); err != nil {
		if errors.Is(err, voice.ErrDisabled) {
			l.Info("AI voice feature is disabled for this restaurant")
			return
		}
		l.Error("waiter failed", "error", err)
		os.Exit(1)
	}
}

func run(l *slog.Logger) error {
	cfg := voice.DefaultConfig()
	if err := config.LoadFile(*configPath, &cfg); err != nil {
		return err
	}
	cfg = cfg.FromEnv().WithDebug(*debug)
	if *restaurant != "" {
		cfg = cfg.WithRestaurant(*restaurant)
	}
	if *lang != "" {
		cfg = cfg.WithLanguage(*lang)
	}
	if *port > 0 && cfg.DashboardAddr == "" {
		cfg = cfg.WithDashboard(fmt.Sprintf(":%d", *port))
	}
	if cfg.PrefsPath == "" {
		if p, err := prefs.DefaultPath(); err == nil {
			cfg.PrefsPath = p
		}
	}

	opts := []voice.Option{voice.WithLogger(log.L())}
	if *mock {
		if cfg.RestaurantID == "" {
			cfg.RestaurantID = "demo"
		}
		if cfg.BackendURL == "" {
			cfg.BackendURL = "http://localhost:3000"
		}
		opts = append(opts, mockOptions()...)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := voice.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	a.Machine.Subscribe(func(s conversation.Status) {
		fmt.Printf("● %s\n", s)
	})
	a.Machine.OnNotice(func(n conversation.Notice) {
		l.Warn("notice", "kind", n.Kind, "error", n.Error)
	})

	go readCommands(ctx, a, l, stop)

	l.Info("ready: press Enter to talk", "session_id", a.Machine.SessionID(), "restaurant_id", cfg.RestaurantID)
	return a.Run(ctx)
}

func readCommands(ctx context.Context, a *voice.Assistant, l *slog.Logger, quit context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		cmd := strings.ToLower(strings.TrimSpace(scanner.Text()))
		switch cmd {
		case "":
			a.Machine.Tap()
		case "stop":
			a.Machine.Stop()
		case "wake on", "wake off":
			if err := a.WakeWord.SetEnabled(cmd == "wake on"); err != nil {
				l.Warn("wake word toggle not saved", "error", err)
			}
		case "q", "quit", "exit":
			quit()
			return
		}
	}
}

// mockOptions wires a scripted microphone and canned services so the
// kiosk runs without hardware or a backend.
func mockOptions() []voice.Option {
	capture := audioio.DefaultConfig()
	capture.Backend = audioio.BackendMock
	device := audioio.DeviceFunc(func(context.Context) (audioio.Source, error) {
		return audioio.NewMockSource(capture, nil, audioio.WithScript(
			audioio.Speech(2*time.Second), audioio.Silence(time.Hour),
		)), nil
	})

	api := backend.NewMock("I'd like a burger", "Great choice! Adding a burger to your order.",
		backend.CartAction{ItemID: "burger", Name: "Burger", Quantity: 1})
	return []voice.Option{
		voice.WithDevice(device),
		voice.WithServices(api, api, tts.NewMock()),
		voice.WithElements(speech.NewMockElement(false), speech.NewMockElement(false)),
	}
}
