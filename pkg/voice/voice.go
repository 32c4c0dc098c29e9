package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/voice-waiter/pkg/audioio"
	"github.com/teslashibe/voice-waiter/pkg/backend"
	"github.com/teslashibe/voice-waiter/pkg/bridge"
	"github.com/teslashibe/voice-waiter/pkg/conversation"
	"github.com/teslashibe/voice-waiter/pkg/prefs"
	"github.com/teslashibe/voice-waiter/pkg/recorder"
	"github.com/teslashibe/voice-waiter/pkg/speech"
	"github.com/teslashibe/voice-waiter/pkg/tts"
	"github.com/teslashibe/voice-waiter/pkg/wakeword"
	"github.com/teslashibe/voice-waiter/pkg/web"
)

// ErrDisabled is returned by New when the AI feature is turned off.
var ErrDisabled = errors.New("voice: AI feature disabled")

// Option replaces one collaborator of the Assistant.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	device      audioio.Device
	element     speech.Element
	instant     speech.Element
	transcriber backend.Transcriber
	chatter     backend.Chatter
	synth       tts.Provider
	cart        conversation.Cart
	store       *prefs.Store
}

// WithLogger sets the root logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithDevice sets the capture device.
func WithDevice(d audioio.Device) Option { return func(o *options) { o.device = d } }

// WithElements sets the authoritative and instant playback elements.
// instant may be nil to disable instant feedback.
func WithElements(authoritative, instant speech.Element) Option {
	return func(o *options) {
		o.element = authoritative
		o.instant = instant
	}
}

// WithServices sets the AI services. A nil argument keeps the HTTP default.
func WithServices(t backend.Transcriber, c backend.Chatter, s tts.Provider) Option {
	return func(o *options) {
		o.transcriber = t
		o.chatter = c
		o.synth = s
	}
}

// WithCart sets the cart collaborator.
func WithCart(c conversation.Cart) Option { return func(o *options) { o.cart = c } }

// WithPrefs sets the preference store.
func WithPrefs(s *prefs.Store) Option { return func(o *options) { o.store = s } }

// Assistant is a fully wired voice waiter.
type Assistant struct {
	cfg    Config
	logger *slog.Logger

	Mic      *audioio.Mic
	Machine  *conversation.Machine
	Player   *speech.Player
	Phrases  *speech.PhraseCache
	WakeWord *wakeword.Listener
	Prefs    *prefs.Store
	Bridge   *bridge.Bridge
	Cart     conversation.Cart

	// Push is nil when no push relay is configured.
	Push *bridge.PushClient
	// Dashboard is nil when no dashboard address is configured.
	Dashboard *web.Server

	closers []func() error
}

// New wires every component. It returns ErrDisabled when cfg.Enabled is
// false, and nothing is started.
func New(ctx context.Context, cfg Config, opts ...Option) (*Assistant, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Assistant{cfg: cfg, logger: logger.With("component", "voice")}
	if err := a.wireServices(ctx, &o); err != nil {
		a.Close()
		return nil, err
	}

	// Preferences
	a.Prefs = o.store
	if a.Prefs == nil {
		var err error
		a.Prefs, err = prefs.Open(cfg.PrefsPath, cfg.WakeWordDefault)
		if err != nil {
			a.logger.Warn("prefs unreadable, using defaults", "path", cfg.PrefsPath, "error", err)
			a.Prefs = prefs.Memory(cfg.WakeWordDefault)
		}
	}

	// Microphone
	device := o.device
	if device == nil {
		device = audioio.NewDevice(a.captureConfig(), logger)
	}
	a.Mic = audioio.NewMic(device, logger, audioio.WithGrants(a.Prefs))

	// Speech
	phrases := cfg.Phrases
	if len(phrases) == 0 {
		phrases = speech.PhrasesFor(cfg.Language)
	}
	a.Phrases = speech.NewPhraseCache(phrases, o.synth, logger)
	if cfg.PhraseDir != "" {
		n, err := a.Phrases.LoadDir(cfg.PhraseDir)
		if err != nil {
			a.logger.Warn("phrase audio not loaded", "dir", cfg.PhraseDir, "error", err)
		} else {
			a.logger.Debug("phrase audio loaded", "count", n)
		}
	}
	element, instant := o.element, o.instant
	if element == nil {
		element = speech.NewExecElement(cfg.PlayerCommand, logger)
		instant = speech.NewExecElement(cfg.PlayerCommand, logger)
	}
	a.Player = speech.NewPlayer(o.synth, element, speech.PlayerConfig{
		Instant:          instant,
		Cache:            a.Phrases,
		RequireUnlock:    cfg.RequireUnlock,
		SynthesisTimeout: cfg.SynthesisTimeout,
		Logger:           logger,
	})

	// Conversation
	recCfg := cfg.recorderConfig()
	recCfg.Cue = a.Player.PlayCue
	a.Cart = o.cart
	if a.Cart == nil {
		a.Cart = NewMemoryCart(logger)
	}
	reminder := cfg.Reminder
	if reminder == "" {
		reminder = conversation.ReminderFor(cfg.Language)
	}
	machine, err := conversation.New(conversation.Deps{
		Recorder:    recorder.New(a.Mic, recCfg, logger),
		Transcriber: o.transcriber,
		Chatter:     o.chatter,
		Speaker:     a.Player,
		Cart:        a.Cart,
	}, conversation.Config{
		RestaurantID:      cfg.RestaurantID,
		Language:          cfg.Language,
		Reminder:          reminder,
		ReminderCount:     cfg.ReminderCount,
		StillWorkingDelay: cfg.StillWorkingDelay,
		UnlockOnTap:       true,
		Logger:            logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Machine = machine
	a.closers = append(a.closers, machine.Close)

	// Wake word
	var grammar map[string][]string
	if len(cfg.WakePhrases) > 0 {
		grammar = map[string][]string{cfg.Language: cfg.WakePhrases}
	}
	a.WakeWord = wakeword.New(machine, a.Mic, wakeword.NewRecognizer(o.transcriber, grammar), a.Prefs, wakeword.Config{
		Window:     cfg.WakeWindow,
		Threshold:  cfg.SilenceThreshold,
		SampleRate: cfg.SampleRate,
		Logger:     logger,
	})

	// Push bridge
	a.Bridge = bridge.New(machine, logger)
	if cfg.PushURL != "" {
		a.Push, err = bridge.NewPushClient(cfg.PushURL, cfg.RestaurantID, machine.SessionID(), a.Bridge, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	// Dashboard
	if cfg.DashboardAddr != "" {
		a.Dashboard = web.NewServer(machine, a.WakeWord, web.Config{
			Addr:      cfg.DashboardAddr,
			StaticDir: cfg.StaticDir,
			Logger:    logger,
		})
	}

	a.logger.Info("voice assistant ready",
		"session_id", machine.SessionID(),
		"language", cfg.Language,
		"wake_word", a.WakeWord.Enabled(),
		"push", a.Push != nil,
		"dashboard", cfg.DashboardAddr)
	return a, nil
}

func (a *Assistant) wireServices(ctx context.Context, o *options) error {
	cfg := a.cfg
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	if o.transcriber == nil || o.chatter == nil {
		client, err := backend.NewClient(
			backend.WithBaseURL(cfg.BackendURL),
			backend.WithTimeout(cfg.BackendTimeout),
			backend.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("voice: backend client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		if o.transcriber == nil {
			o.transcriber = client
		}
		if o.chatter == nil {
			o.chatter = client
		}
	}

	if o.synth == nil {
		primary, err := tts.NewBackend(
			tts.WithBaseURL(cfg.BackendURL),
			tts.WithLanguage(cfg.Language),
			tts.WithTimeout(cfg.SynthesisTimeout),
			tts.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("voice: tts backend: %w", err)
		}
		providers := []tts.Provider{primary}
		if cfg.GoogleTTS {
			gopts := []tts.Option{tts.WithLanguage(cfg.Language), tts.WithLogger(logger)}
			if cfg.GoogleTTSKey != "" {
				gopts = append(gopts, tts.WithAPIKey(cfg.GoogleTTSKey))
			}
			if cfg.GoogleTTSVoice != "" {
				gopts = append(gopts, tts.WithVoice(cfg.GoogleTTSVoice))
			}
			google, err := tts.NewGoogle(ctx, gopts...)
			if err != nil {
				a.logger.Warn("google tts fallback unavailable", "error", err)
			} else {
				providers = append(providers, google)
			}
		}
		chain, err := tts.NewChainWithLogger(logger, providers...)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, chain.Close)
		o.synth = chain
	}
	return nil
}

func (a *Assistant) captureConfig() audioio.Config {
	c := audioio.DefaultConfig()
	switch strings.ToLower(a.cfg.CaptureBackend) {
	case "mock":
		c.Backend = audioio.BackendMock
	case "", "auto":
		c.Backend = audioio.BackendAuto
	default:
		c.Backend = audioio.BackendExec
	}
	if a.cfg.SampleRate > 0 {
		c.SampleRate = a.cfg.SampleRate
	}
	c.Device = a.cfg.CaptureDevice
	c.Command = a.cfg.CaptureCommand
	return c
}

// Config returns the assistant configuration.
func (a *Assistant) Config() Config { return a.cfg }

// Run starts the wake word listener, the push client and the dashboard and
// blocks until ctx is done or one of them fails.
func (a *Assistant) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCancel(a.WakeWord.Run(ctx)) })
	if a.Push != nil {
		g.Go(func() error { return ignoreCancel(a.Push.Run(ctx)) })
	}
	if a.Dashboard != nil {
		g.Go(func() error { return a.Dashboard.Run(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		a.Machine.Stop()
		return nil
	})
	return g.Wait()
}

// Close stops the conversation and releases every service client.
func (a *Assistant) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
