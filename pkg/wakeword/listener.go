// Package wakeword starts a conversation turn when a trigger phrase is heard.
//
// The Listener only holds the microphone while it is enabled, the
// microphone has been granted and the conversation is idle. It lets go the
// moment the status leaves idle, so it never competes with the recorder.
package wakeword

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/voice-waiter/pkg/audioio"
	"github.com/teslashibe/voice-waiter/pkg/conversation"
	"github.com/teslashibe/voice-waiter/pkg/vad"
)

// MicOwner is the holder name the listener acquires the mic under.
const MicOwner = "wakeword"

const (
	DefaultWindow        = 2 * time.Second
	DefaultPollInterval  = 50 * time.Millisecond
	DefaultRetryDelay    = time.Second
	DefaultDetectTimeout = 3 * time.Second
)

// Machine is the part of the conversation the listener drives.
type Machine interface {
	Status() conversation.Status
	Subscribe(fn func(conversation.Status)) func()
	Begin() bool
	Language() string
}

// Detector spots trigger phrases in a window of audio.
type Detector interface {
	Detect(ctx context.Context, blob audioio.Blob, lang string) (string, bool, error)
}

// Store persists the enabled toggle.
type Store interface {
	WakeEnabled() bool
	SetWakeEnabled(bool) error
}

// Config tunes a Listener.
type Config struct {
	// Window is how much audio is checked per detection.
	Window time.Duration `yaml:"window" json:"window"`
	// PollInterval is how often the energy gate is sampled.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// Threshold is the energy that counts as someone talking.
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// RetryDelay is the pause after the mic could not be taken.
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// DetectTimeout bounds one transcription.
	DetectTimeout time.Duration `yaml:"detect_timeout" json:"detect_timeout"`
	SampleRate    int           `yaml:"sample_rate" json:"sample_rate"`

	Logger *slog.Logger `yaml:"-" json:"-"`
}

// DefaultConfig returns the standard listening cadence.
func DefaultConfig() Config {
	return Config{
		Window:        DefaultWindow,
		PollInterval:  DefaultPollInterval,
		Threshold:     vad.DefaultThreshold,
		RetryDelay:    DefaultRetryDelay,
		DetectTimeout: DefaultDetectTimeout,
		SampleRate:    16000,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.Threshold <= 0 {
		c.Threshold = def.Threshold
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.DetectTimeout <= 0 {
		c.DetectTimeout = def.DetectTimeout
	}
	if c.SampleRate <= 0 {
		c.SampleRate = def.SampleRate
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Listener is the wake word loop.
type Listener struct {
	machine  Machine
	mic      *audioio.Mic
	detector Detector
	store    Store
	cfg      Config
	logger   *slog.Logger

	enabled    atomic.Bool
	signal     chan struct{}
	detections atomic.Int64
	listening  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a Listener. The enabled state is read from store.
func New(machine Machine, mic *audioio.Mic, detector Detector, store Store, cfg Config) *Listener {
	cfg.applyDefaults()
	l := &Listener{
		machine:  machine,
		mic:      mic,
		detector: detector,
		store:    store,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "wakeword"),
		signal:   make(chan struct{}, 1),
	}
	if store != nil {
		l.enabled.Store(store.WakeEnabled())
	}
	return l
}

// Enabled reports the toggle.
func (l *Listener) Enabled() bool { return l.enabled.Load() }

// Listening reports whether the listener currently holds the mic.
func (l *Listener) Listening() bool { return l.listening.Load() }

// Detections returns how many trigger phrases started a turn.
func (l *Listener) Detections() int64 { return l.detections.Load() }

// SetEnabled flips the toggle, persists it and wakes the loop.
func (l *Listener) SetEnabled(enabled bool) error {
	l.enabled.Store(enabled)
	if !enabled {
		l.interrupt()
	}
	l.poke()
	if l.store != nil {
		return l.store.SetWakeEnabled(enabled)
	}
	return nil
}

// Run listens until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	unsubscribe := l.machine.Subscribe(func(s conversation.Status) {
		if s != conversation.StatusIdle {
			l.interrupt()
		}
		l.poke()
	})
	defer unsubscribe()

	l.logger.Info("wake word listener started", "enabled", l.Enabled())
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !l.ready() {
			if err := l.wait(ctx, 0); err != nil {
				return err
			}
			continue
		}
		if retry := l.session(ctx); retry {
			if err := l.wait(ctx, l.cfg.RetryDelay); err != nil {
				return err
			}
		}
	}
}

// ready is the acquisition gate.
func (l *Listener) ready() bool {
	return l.enabled.Load() && l.mic.Granted() && l.machine.Status() == conversation.StatusIdle
}

// wait blocks until poked, ctx is done or d elapses (d <= 0 waits for a poke).
func (l *Listener) wait(ctx context.Context, d time.Duration) error {
	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.signal:
	case <-timeout:
	}
	return nil
}

func (l *Listener) poke() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *Listener) interrupt() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
}

// session holds the mic for one listening stretch. It reports whether the
// caller should back off before trying again.
func (l *Listener) session(ctx context.Context) (retry bool) {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.cancel = nil
		l.mu.Unlock()
	}()

	scope, err := l.mic.TryAcquire(sessCtx, MicOwner)
	if err != nil {
		if !errors.Is(err, audioio.ErrMicBusy) {
			l.logger.Warn("wake word mic unavailable", "error", err)
		}
		return true
	}
	defer scope.Release()

	// The status may have moved while the device was opening.
	if !l.ready() {
		return false
	}
	l.listening.Store(true)
	defer l.listening.Store(false)
	l.logger.Debug("listening for wake word")

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	windowStart := time.Now()
	heard := false

	for {
		select {
		case <-sessCtx.Done():
			return false
		case <-scope.Ended():
			l.logger.Warn("wake word capture ended")
			return true
		case now := <-ticker.C:
			if vad.Level(scope.Analyser().Frame()) >= l.cfg.Threshold {
				heard = true
			}
			if now.Sub(windowStart) < l.cfg.Window {
				continue
			}
			windowStart = now
			pcm := scope.Drain()
			if !heard {
				continue
			}
			heard = false

			rate, channels := scope.Format()
			phrase, ok := l.detect(sessCtx, audioio.EncodeBlob(pcm, rate, channels, l.cfg.SampleRate))
			if !ok {
				continue
			}

			scope.Release()
			if !l.ready() {
				l.logger.Debug("wake word heard after status changed", "phrase", phrase)
				return false
			}
			if l.machine.Begin() {
				l.detections.Add(1)
				l.logger.Info("wake word detected", "phrase", phrase)
			}
			return false
		}
	}
}

func (l *Listener) detect(ctx context.Context, blob audioio.Blob) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.DetectTimeout)
	defer cancel()
	phrase, ok, err := l.detector.Detect(ctx, blob, l.machine.Language())
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Debug("wake word check failed", "error", err)
		}
		return "", false
	}
	return phrase, ok
}
