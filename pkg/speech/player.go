package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/voice-waiter/pkg/tts"
)

// PlayerConfig configures a Player.
type PlayerConfig struct {
	// Instant plays cached phrases and the cue alongside the authoritative
	// element. Nil disables instant feedback.
	Instant Element

	// Cache supplies instant-feedback audio. Nil disables it.
	Cache *PhraseCache

	// Cue is the acknowledgment sound. Nil uses CueTone.
	Cue *tts.AudioResult

	// RequireUnlock refuses playback until Unlock has run, the way mobile
	// browsers refuse programmatic audio before a user gesture.
	RequireUnlock bool

	// SynthesisTimeout bounds one synthesis request. Zero means no extra bound.
	SynthesisTimeout time.Duration

	Logger *slog.Logger
}

// Player speaks text through a synthesis provider on a single
// authoritative element. A new Speak always supersedes the previous one.
type Player struct {
	provider tts.Provider
	element  Element
	cfg      PlayerConfig
	logger   *slog.Logger

	mu      sync.Mutex
	gen     uint64
	current *Playback

	unlockOnce sync.Once
	unlocked   atomic.Bool
}

// NewPlayer creates a player.
func NewPlayer(provider tts.Provider, element Element, cfg PlayerConfig) *Player {
	if cfg.Cue == nil {
		cfg.Cue = CueTone()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		provider: provider,
		element:  element,
		cfg:      cfg,
		logger:   logger.With("component", "speech.player"),
	}
}

// Playback is one authoritative playback.
type Playback struct {
	id      string
	text    string
	started time.Time
	done    chan struct{}
	err     error
}

// ID returns the playback identifier.
func (pb *Playback) ID() string { return pb.id }

// Text returns the spoken text.
func (pb *Playback) Text() string { return pb.text }

// Started returns when audio began.
func (pb *Playback) Started() time.Time { return pb.started }

// Done is closed when playback ends for any reason.
func (pb *Playback) Done() <-chan struct{} { return pb.done }

// Err returns the outcome after Done: nil for a natural end, ErrStopped
// when stopped or superseded, or the playback failure.
func (pb *Playback) Err() error {
	select {
	case <-pb.done:
		return pb.err
	default:
		return nil
	}
}

// Wait blocks until playback ends.
func (pb *Playback) Wait(ctx context.Context) error {
	select {
	case <-pb.done:
		return pb.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Speak fires any cached instant phrase, stops the current authoritative
// playback, synthesizes text and starts playing it. It returns once audio
// has started. Errors mean nothing authoritative is playing.
func (p *Player) Speak(ctx context.Context, text string) (*Playback, error) {
	if p.cfg.RequireUnlock && !p.unlocked.Load() {
		return nil, ErrLocked
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.playInstant(text)

	p.mu.Lock()
	p.gen++
	gen := p.gen
	if p.current != nil {
		p.current = nil
		p.element.Stop()
	}
	p.mu.Unlock()

	synthCtx := ctx
	if p.cfg.SynthesisTimeout > 0 {
		var cancel context.CancelFunc
		synthCtx, cancel = context.WithTimeout(ctx, p.cfg.SynthesisTimeout)
		defer cancel()
	}
	audio, err := p.provider.Synthesize(synthCtx, text)
	if err != nil {
		return nil, err
	}
	if audio.Text == "" {
		audio.Text = text
	}

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return nil, ErrSuperseded
	}
	if err := ctx.Err(); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	outcome, err := p.element.Play(context.WithoutCancel(ctx), audio)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	pb := &Playback{
		id:      uuid.NewString(),
		text:    text,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	p.current = pb
	p.mu.Unlock()

	go p.watch(pb, outcome)

	p.logger.Debug("playback started", "playback_id", pb.id, "chars", len(text), "provider", audio.Provider)
	return pb, nil
}

func (p *Player) watch(pb *Playback, outcome <-chan error) {
	err := <-outcome
	p.mu.Lock()
	if p.current == pb {
		p.current = nil
	}
	p.mu.Unlock()

	pb.err = err
	close(pb.done)

	if err != nil && !errors.Is(err, ErrStopped) {
		p.logger.Warn("playback failed", "playback_id", pb.id, "error", err)
	}
}

func (p *Player) playInstant(text string) {
	if p.cfg.Instant == nil || p.cfg.Cache == nil {
		return
	}
	phrase, ok := p.cfg.Cache.Match(text)
	if !ok {
		return
	}
	if _, err := p.cfg.Instant.Play(context.Background(), phrase.Audio); err != nil {
		p.logger.Debug("instant phrase failed", "phrase", phrase.Prefix, "error", err)
		return
	}
	p.logger.Debug("instant phrase", "phrase", phrase.Prefix)
}

// Stop halts authoritative and instant playback and invalidates any
// synthesis still in flight.
func (p *Player) Stop() {
	p.mu.Lock()
	p.gen++
	if p.current != nil {
		p.current = nil
		p.element.Stop()
	}
	p.mu.Unlock()

	if p.cfg.Instant != nil {
		p.cfg.Instant.Stop()
	}
}

// Current returns the active authoritative playback, or nil.
func (p *Player) Current() *Playback {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Unlock primes the elements with a silent play/stop cycle. It must run
// inside the user gesture that starts a session; only the first call does
// anything.
func (p *Player) Unlock() {
	p.unlockOnce.Do(func() {
		for _, el := range []Element{p.element, p.cfg.Instant} {
			if el == nil {
				continue
			}
			if _, err := el.Play(context.Background(), SilentClip()); err != nil {
				p.logger.Debug("unlock play failed", "error", err)
			}
			el.Stop()
		}
		p.unlocked.Store(true)
		p.logger.Debug("playback unlocked")
	})
}

// Unlocked reports whether Unlock has run.
func (p *Player) Unlocked() bool { return p.unlocked.Load() }

// PlayCue starts the acknowledgment cue on the instant element.
func (p *Player) PlayCue() {
	if p.cfg.Instant == nil {
		return
	}
	if _, err := p.cfg.Instant.Play(context.Background(), p.cfg.Cue); err != nil {
		p.logger.Debug("cue failed", "error", err)
	}
}
