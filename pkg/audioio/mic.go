package audioio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxBuffer bounds how much audio a Scope retains.
const DefaultMaxBuffer = 30 * time.Second

// Mic arbitrates the single microphone. At most one Scope is live at a time.
type Mic struct {
	device    Device
	logger    *slog.Logger
	frameSize int
	maxBuffer time.Duration

	sem    chan struct{}
	grants GrantStore

	mu     sync.Mutex
	holder string
}

// GrantStore holds the session's microphone permission.
type GrantStore interface {
	MicGranted() bool
	SetMicGranted(bool)
}

type sessionGrant struct{ atomic.Bool }

func (g *sessionGrant) MicGranted() bool     { return g.Load() }
func (g *sessionGrant) SetMicGranted(v bool) { g.Store(v) }

// MicOption configures a Mic.
type MicOption func(*Mic)

// WithFrameSize sets the analyser frame size in samples.
func WithFrameSize(n int) MicOption {
	return func(m *Mic) { m.frameSize = n }
}

// WithMaxBuffer sets how much captured audio a Scope keeps.
func WithMaxBuffer(d time.Duration) MicOption {
	return func(m *Mic) { m.maxBuffer = d }
}

// WithGrants records the permission outcome of every open in g.
func WithGrants(g GrantStore) MicOption {
	return func(m *Mic) {
		if g != nil {
			m.grants = g
		}
	}
}

// NewMic creates the microphone arbiter for device.
func NewMic(device Device, logger *slog.Logger, opts ...MicOption) *Mic {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mic{
		device:    device,
		logger:    logger,
		frameSize: DefaultFrameSize,
		maxBuffer: DefaultMaxBuffer,
		sem:       make(chan struct{}, 1),
		grants:    &sessionGrant{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire waits until the mic is free, opens the device and starts capture.
// The caller owns the returned Scope and must Release it.
func (m *Mic) Acquire(ctx context.Context, owner string) (*Scope, error) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return m.open(ctx, owner)
}

// TryAcquire is Acquire without waiting. It returns ErrMicBusy if the mic is held.
func (m *Mic) TryAcquire(ctx context.Context, owner string) (*Scope, error) {
	select {
	case m.sem <- struct{}{}:
	default:
		return nil, ErrMicBusy
	}
	return m.open(ctx, owner)
}

func (m *Mic) open(ctx context.Context, owner string) (*Scope, error) {
	src, err := m.device.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			m.grants.SetMicGranted(false)
		}
		<-m.sem
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := src.Start(runCtx); err != nil {
		cancel()
		src.Close()
		<-m.sem
		return nil, fmt.Errorf("start capture: %w", err)
	}
	m.grants.SetMicGranted(true)

	m.mu.Lock()
	m.holder = owner
	m.mu.Unlock()

	cfg := src.Config()
	s := &Scope{
		mic:      m,
		owner:    owner,
		src:      src,
		cancel:   cancel,
		analyser: NewAnalyser(m.frameSize),
		rate:     cfg.SampleRate,
		channels: cfg.Channels,
		maxBytes: int(m.maxBuffer.Seconds() * float64(cfg.SampleRate*cfg.Channels*2)),
		ended:    make(chan struct{}),
	}
	go s.pump(src.Stream())

	m.logger.Debug("mic acquired", "owner", owner, "backend", src.Name())
	return s, nil
}

// Granted reports whether the mic has been opened successfully this session.
func (m *Mic) Granted() bool { return m.grants.MicGranted() }

// Holder returns the owner of the live scope, or "" when the mic is free.
func (m *Mic) Holder() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder
}

func (m *Mic) release(owner string) {
	m.mu.Lock()
	m.holder = ""
	m.mu.Unlock()
	<-m.sem
	m.logger.Debug("mic released", "owner", owner)
}

// Scope is one exclusive hold on the microphone: the capture stream, its
// analyser and the buffered PCM.
type Scope struct {
	mic      *Mic
	owner    string
	src      Source
	cancel   context.CancelFunc
	analyser *Analyser
	rate     int
	channels int
	maxBytes int

	mu  sync.Mutex
	pcm []byte

	ended    chan struct{}
	released sync.Once
}

func (s *Scope) pump(stream <-chan AudioChunk) {
	defer close(s.ended)
	for chunk := range stream {
		s.analyser.Write(chunk)

		data := chunk.Bytes()
		s.mu.Lock()
		s.pcm = append(s.pcm, data...)
		if s.maxBytes > 0 && len(s.pcm) > s.maxBytes {
			drop := len(s.pcm) - s.maxBytes
			drop -= drop % 2
			s.pcm = append(s.pcm[:0], s.pcm[drop:]...)
		}
		s.mu.Unlock()
	}
}

// Owner returns the name the scope was acquired under.
func (s *Scope) Owner() string { return s.owner }

// Analyser returns the scope's time-domain analyser.
func (s *Scope) Analyser() *Analyser { return s.analyser }

// Format returns the sample rate and channel count of buffered PCM.
func (s *Scope) Format() (sampleRate, channels int) { return s.rate, s.channels }

// PCM returns a copy of everything buffered so far.
func (s *Scope) PCM() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.pcm))
	copy(out, s.pcm)
	return out
}

// Drain returns the buffered PCM and clears the buffer.
func (s *Scope) Drain() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pcm
	s.pcm = nil
	return out
}

// Ended is closed when the capture stream finishes, either through Release
// or because the device went away.
func (s *Scope) Ended() <-chan struct{} { return s.ended }

// Release stops capture, closes the device and frees the mic. Safe to call
// more than once.
func (s *Scope) Release() {
	s.released.Do(func() {
		s.cancel()
		s.src.Stop()
		<-s.ended
		s.src.Close()
		s.mic.release(s.owner)
	})
}
