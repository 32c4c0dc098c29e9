// Package recorder drives one utterance recording pass.
//
// A Recording holds the microphone scope, feeds the analyser frame to a
// silence detector on every tick, and finishes on whichever comes first:
// sustained silence, the hard duration cap, or cancellation.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/voice-waiter/pkg/audioio"
	"github.com/teslashibe/voice-waiter/pkg/vad"
)

const (
	// DefaultMaxDuration is the recording hard cap.
	DefaultMaxDuration = 20 * time.Second

	// DefaultFrameInterval approximates one display frame.
	DefaultFrameInterval = 16 * time.Millisecond

	// DefaultSampleRate is the rate of the produced blob.
	DefaultSampleRate = 16000

	// MicOwner is the holder name the recorder acquires the mic under.
	MicOwner = "recorder"
)

var (
	// ErrNoSession means no audio session could be opened (permission denied
	// or no device). The caller should return to idle.
	ErrNoSession = errors.New("recorder: no audio session")

	// ErrCancelled means the recording was stopped by the user and must not
	// be transcribed.
	ErrCancelled = errors.New("recorder: cancelled")
)

// Reason explains why a recording ended.
type Reason string

const (
	ReasonSilence     Reason = "silence"
	ReasonMaxDuration Reason = "max_duration"
	ReasonDeviceEnded Reason = "device_ended"
	ReasonCancelled   Reason = "cancelled"
)

// Config configures a Recorder.
type Config struct {
	VAD           vad.Config    `yaml:"vad" json:"vad"`
	MaxDuration   time.Duration `yaml:"max_duration" json:"max_duration"`
	FrameInterval time.Duration `yaml:"frame_interval" json:"frame_interval"`
	SampleRate    int           `yaml:"sample_rate" json:"sample_rate"`

	// Cue plays the acknowledgment sound. It runs synchronously before the
	// mic is released on automatic stops.
	Cue func() `yaml:"-" json:"-"`
}

// DefaultConfig returns the standard recording limits.
func DefaultConfig() Config {
	return Config{
		VAD:           vad.DefaultConfig(),
		MaxDuration:   DefaultMaxDuration,
		FrameInterval: DefaultFrameInterval,
		SampleRate:    DefaultSampleRate,
	}
}

// Result is a finished recording.
type Result struct {
	Blob     audioio.Blob
	Reason   Reason
	Started  time.Time
	Ended    time.Time
	Duration time.Duration
}

// Recorder starts recordings on a shared microphone.
type Recorder struct {
	mic    *audioio.Mic
	cfg    Config
	logger *slog.Logger
}

// New creates a Recorder. Zero config fields take their defaults.
func New(mic *audioio.Mic, cfg Config, logger *slog.Logger) *Recorder {
	def := DefaultConfig()
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = def.MaxDuration
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{mic: mic, cfg: cfg, logger: logger.With("component", "recorder")}
}

// Config returns the effective configuration.
func (r *Recorder) Config() Config { return r.cfg }

// Start acquires the microphone and begins recording. It blocks only while
// waiting for the mic. Permission and device failures return ErrNoSession.
func (r *Recorder) Start(ctx context.Context) (*Recording, error) {
	scope, err := r.mic.Acquire(ctx, MicOwner)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}

	rec := &Recording{
		cfg:     r.cfg,
		logger:  r.logger,
		scope:   scope,
		started: time.Now(),
		cancel:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go rec.run(ctx)

	r.logger.Debug("recording started", "max_duration", r.cfg.MaxDuration)
	return rec, nil
}

// Recording is one in-progress utterance.
type Recording struct {
	cfg     Config
	logger  *slog.Logger
	scope   *audioio.Scope
	started time.Time

	cancelOnce sync.Once
	cancel     chan struct{}
	done       chan struct{}

	result Result
	err    error
}

// Stop cancels the recording. Wait then returns ErrCancelled.
func (rec *Recording) Stop() {
	rec.cancelOnce.Do(func() { close(rec.cancel) })
}

// Done is closed once the recording has finished and the mic is released.
func (rec *Recording) Done() <-chan struct{} { return rec.done }

// Started returns when capture began.
func (rec *Recording) Started() time.Time { return rec.started }

// Wait blocks until the recording finishes.
func (rec *Recording) Wait(ctx context.Context) (Result, error) {
	select {
	case <-rec.done:
		return rec.result, rec.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (rec *Recording) run(ctx context.Context) {
	defer close(rec.done)
	defer rec.scope.Release()

	detector := vad.New(rec.cfg.VAD)
	ticker := time.NewTicker(rec.cfg.FrameInterval)
	defer ticker.Stop()
	limit := time.NewTimer(rec.cfg.MaxDuration)
	defer limit.Stop()

	var reason Reason
loop:
	for {
		select {
		case <-ctx.Done():
			reason = ReasonCancelled
			break loop
		case <-rec.cancel:
			reason = ReasonCancelled
			break loop
		case <-rec.scope.Ended():
			reason = ReasonDeviceEnded
			break loop
		case <-limit.C:
			reason = ReasonMaxDuration
			break loop
		case now := <-ticker.C:
			if detector.Observe(rec.scope.Analyser().Frame(), now).Sustained {
				reason = ReasonSilence
				break loop
			}
		}
	}

	ended := time.Now()
	rec.result = Result{
		Reason:   reason,
		Started:  rec.started,
		Ended:    ended,
		Duration: ended.Sub(rec.started),
	}

	if reason == ReasonCancelled {
		rec.err = ErrCancelled
		rec.logger.Debug("recording cancelled", "elapsed", rec.result.Duration)
		return
	}

	if rec.cfg.Cue != nil {
		rec.cfg.Cue()
	}

	pcm := rec.scope.PCM()
	rate, channels := rec.scope.Format()
	rec.scope.Release()

	rec.result.Blob = audioio.EncodeBlob(pcm, rate, channels, rec.cfg.SampleRate)
	rec.logger.Debug("recording finished",
		"reason", reason,
		"elapsed", rec.result.Duration,
		"bytes", len(rec.result.Blob.Data),
	)
}
