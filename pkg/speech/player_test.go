package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/voice-waiter/pkg/tts"
)

func TestPlayer_SpeakPlaysUntilEnd(t *testing.T) {
	el := NewMockElement(true)
	p := NewPlayer(tts.NewMock(), el, PlayerConfig{})

	pb, err := p.Speak(context.Background(), "Hello there")
	if err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if p.Current() != pb {
		t.Error("playback should be current")
	}
	if pb.ID() == "" || pb.Text() != "Hello there" {
		t.Errorf("unexpected playback %q %q", pb.ID(), pb.Text())
	}

	el.Finish()
	if err := pb.Wait(context.Background()); err != nil {
		t.Errorf("natural end should be nil, got %v", err)
	}
	waitFor(t, func() bool { return p.Current() == nil })
}

func TestPlayer_CancelledContextPlaysNothing(t *testing.T) {
	cache := NewPhraseCache([]string{"Great choice!"}, nil, nil)
	cache.Set("Great choice!", &tts.AudioResult{Audio: []byte{1, 2}, Text: "Great choice!"})
	el, instant := NewMockElement(true), NewMockElement(false)
	synth := tts.NewMock()
	synth.SynthesizeFunc = func(_ context.Context, text string) (*tts.AudioResult, error) {
		return &tts.AudioResult{Audio: []byte{1, 2}, Text: text}, nil
	}
	p := NewPlayer(synth, el, PlayerConfig{Instant: instant, Cache: cache})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Speak(ctx, "Great choice! Adding fries."); !errors.Is(err, context.Canceled) {
		t.Fatalf("Speak = %v, want context.Canceled", err)
	}
	if len(el.Played()) != 0 || len(instant.Played()) != 0 {
		t.Errorf("played %v / %v after cancel", el.PlayedTexts(), instant.PlayedTexts())
	}
	if synth.CallCount("Synthesize") != 0 {
		t.Error("cancelled Speak should not synthesize")
	}
}

func TestPlayer_SecondSpeakSupersedes(t *testing.T) {
	el := NewMockElement(true)
	p := NewPlayer(tts.NewMock(), el, PlayerConfig{})

	first, err := p.Speak(context.Background(), "first")
	if err != nil {
		t.Fatalf("first Speak failed: %v", err)
	}
	second, err := p.Speak(context.Background(), "second")
	if err != nil {
		t.Fatalf("second Speak failed: %v", err)
	}

	if !errors.Is(first.Wait(context.Background()), ErrStopped) {
		t.Errorf("first playback should end stopped, got %v", first.Err())
	}
	if el.MaxActive() != 1 {
		t.Errorf("MaxActive = %d, want 1", el.MaxActive())
	}
	if p.Current() != second {
		t.Error("second playback should be current")
	}
	if cur := el.Current(); cur == nil || cur.Text != "second" {
		t.Errorf("element playing %+v, want second", cur)
	}
}

func TestPlayer_ConcurrentSpeakNeverOverlaps(t *testing.T) {
	el := NewMockElement(true)
	mock := tts.WithLatency(tts.NewMock(), 5*time.Millisecond)
	p := NewPlayer(mock, el, PlayerConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Speak(context.Background(), "hello")
		}()
	}
	wg.Wait()

	if el.MaxActive() > 1 {
		t.Errorf("MaxActive = %d, want at most 1", el.MaxActive())
	}
}

func TestPlayer_StaleSynthesisIsDropped(t *testing.T) {
	el := NewMockElement(true)
	release := make(chan struct{})
	slow := &tts.Mock{SynthesizeFunc: func(ctx context.Context, text string) (*tts.AudioResult, error) {
		if text == "slow" {
			<-release
		}
		return &tts.AudioResult{Audio: []byte(text), Text: text}, nil
	}}
	p := NewPlayer(slow, el, PlayerConfig{})

	errc := make(chan error, 1)
	go func() {
		_, err := p.Speak(context.Background(), "slow")
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)

	if _, err := p.Speak(context.Background(), "fast"); err != nil {
		t.Fatalf("fast Speak failed: %v", err)
	}
	close(release)

	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Errorf("slow Speak = %v, want ErrSuperseded", err)
	}
	if texts := el.PlayedTexts(); len(texts) != 1 || texts[0] != "fast" {
		t.Errorf("played %v, want [fast]", texts)
	}
}

func TestPlayer_StopInvalidatesInFlight(t *testing.T) {
	el := NewMockElement(true)
	p := NewPlayer(tts.WithLatency(tts.NewMock(), 30*time.Millisecond), el, PlayerConfig{})

	errc := make(chan error, 1)
	go func() {
		_, err := p.Speak(context.Background(), "hello")
		errc <- err
	}()
	time.Sleep(5 * time.Millisecond)
	p.Stop()

	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Errorf("Speak after Stop = %v, want ErrSuperseded", err)
	}
	if el.Playing() {
		t.Error("nothing should be playing")
	}
}

func TestPlayer_Failures(t *testing.T) {
	t.Run("synthesis failure", func(t *testing.T) {
		p := NewPlayer(tts.WithError(&tts.APIError{StatusCode: 503}), NewMockElement(true), PlayerConfig{})
		if _, err := p.Speak(context.Background(), "hi"); !errors.Is(err, tts.ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("decode failure", func(t *testing.T) {
		el := NewMockElement(true)
		el.PlayErr = errors.New("decode error")
		p := NewPlayer(tts.NewMock(), el, PlayerConfig{})
		if _, err := p.Speak(context.Background(), "hi"); err == nil {
			t.Error("expected play error")
		}
		if p.Current() != nil {
			t.Error("failed playback should not be current")
		}
	})

	t.Run("playback error outcome", func(t *testing.T) {
		el := NewMockElement(false)
		el.Duration = 5 * time.Millisecond
		el.EndErr = errors.New("device lost")
		p := NewPlayer(tts.NewMock(), el, PlayerConfig{})
		pb, err := p.Speak(context.Background(), "hi")
		if err != nil {
			t.Fatalf("Speak failed: %v", err)
		}
		if err := pb.Wait(context.Background()); err == nil || errors.Is(err, ErrStopped) {
			t.Errorf("expected device error, got %v", err)
		}
	})
}

func TestPlayer_InstantPhrase(t *testing.T) {
	el := NewMockElement(true)
	instant := NewMockElement(true)
	cache := readyCache(t, "Great choice!")
	gate := make(chan struct{})
	provider := tts.NewMock()
	provider.SynthesizeFunc = func(ctx context.Context, text string) (*tts.AudioResult, error) {
		<-gate
		return &tts.AudioResult{Audio: []byte(text), Text: text}, nil
	}
	p := NewPlayer(provider, el, PlayerConfig{Instant: instant, Cache: cache})

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Speak(context.Background(), "Great choice! Adding a burger.")
	}()

	// The cached phrase plays while synthesis is still pending.
	a, ok := instant.WaitStarted(time.Second)
	if !ok {
		t.Fatal("instant phrase never played")
	}
	if a.Text != "Great choice!" {
		t.Errorf("instant played %q", a.Text)
	}
	if el.Playing() {
		t.Error("authoritative audio should wait for synthesis")
	}

	close(gate)
	<-done
	if cur := el.Current(); cur == nil || cur.Text != "Great choice! Adding a burger." {
		t.Errorf("authoritative playing %+v", cur)
	}
}

func TestPlayer_Unlock(t *testing.T) {
	el := NewMockElement(false)
	el.Duration = time.Millisecond
	p := NewPlayer(tts.NewMock(), el, PlayerConfig{RequireUnlock: true})

	if _, err := p.Speak(context.Background(), "hi"); !errors.Is(err, ErrLocked) {
		t.Fatalf("Speak before unlock = %v, want ErrLocked", err)
	}

	p.Unlock()
	p.Unlock()
	if !p.Unlocked() {
		t.Fatal("Unlocked should be true")
	}
	if n := len(el.Played()); n != 1 {
		t.Errorf("unlock played %d clips, want exactly 1", n)
	}
	if _, err := p.Speak(context.Background(), "hi"); err != nil {
		t.Errorf("Speak after unlock failed: %v", err)
	}
}

func TestPlayer_PlayCue(t *testing.T) {
	instant := NewMockElement(false)
	p := NewPlayer(tts.NewMock(), NewMockElement(true), PlayerConfig{Instant: instant})
	p.PlayCue()
	if a, ok := instant.WaitStarted(time.Second); !ok || a.Duration != 120*time.Millisecond {
		t.Errorf("cue not played: %+v", a)
	}

	// No instant element: a no-op.
	NewPlayer(tts.NewMock(), NewMockElement(true), PlayerConfig{}).PlayCue()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
