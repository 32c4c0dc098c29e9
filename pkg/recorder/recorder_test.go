package recorder

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/voice-waiter/pkg/audioio"
	"github.com/teslashibe/voice-waiter/pkg/vad"
)

func scriptedMic(segments ...audioio.Segment) *audioio.Mic {
	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendMock
	cfg.BufferDuration = 5 * time.Millisecond
	device := audioio.DeviceFunc(func(context.Context) (audioio.Source, error) {
		return audioio.NewMockSource(cfg, nil, audioio.WithScript(segments...)), nil
	})
	return audioio.NewMic(device, nil, audioio.WithFrameSize(80))
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.VAD = vad.Config{Threshold: vad.DefaultThreshold, SilenceDuration: 100 * time.Millisecond}
	cfg.FrameInterval = 5 * time.Millisecond
	cfg.MaxDuration = 2 * time.Second
	return cfg
}

func TestRecorder_StopsOnSustainedSilence(t *testing.T) {
	mic := scriptedMic(audioio.Speech(150*time.Millisecond), audioio.Silence(time.Second))

	var cues atomic.Int32
	cfg := fastConfig()
	cfg.Cue = func() { cues.Add(1) }

	rec, err := New(mic, cfg, nil).Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := rec.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if res.Reason != ReasonSilence {
		t.Errorf("Reason = %s, want %s", res.Reason, ReasonSilence)
	}
	// Speech plus the silence window is the earliest possible stop.
	if res.Duration < 250*time.Millisecond {
		t.Errorf("stopped after %v, before speech+silence window", res.Duration)
	}
	if res.Duration >= cfg.MaxDuration {
		t.Errorf("hit the cap (%v) instead of stopping on silence", res.Duration)
	}
	if cues.Load() != 1 {
		t.Errorf("cue played %d times, want 1", cues.Load())
	}
	if res.Blob.Empty() || res.Blob.MimeType != audioio.MimeWAV {
		t.Errorf("unexpected blob: %d bytes, %q", len(res.Blob.Data), res.Blob.MimeType)
	}
	if mic.Holder() != "" {
		t.Errorf("mic still held by %q", mic.Holder())
	}
}

func TestRecorder_ContinuousSpeechRunsToCap(t *testing.T) {
	mic := scriptedMic(audioio.Speech(time.Hour))

	cfg := fastConfig()
	cfg.MaxDuration = 400 * time.Millisecond

	rec, err := New(mic, cfg, nil).Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	res, err := rec.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res.Reason != ReasonMaxDuration {
		t.Errorf("Reason = %s, want %s", res.Reason, ReasonMaxDuration)
	}
	if res.Duration < cfg.MaxDuration {
		t.Errorf("stopped after %v, before the %v cap", res.Duration, cfg.MaxDuration)
	}
}

func TestRecorder_CancelSkipsCue(t *testing.T) {
	mic := scriptedMic(audioio.Speech(time.Hour))

	var cues atomic.Int32
	cfg := fastConfig()
	cfg.Cue = func() { cues.Add(1) }

	rec, err := New(mic, cfg, nil).Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	rec.Stop()
	rec.Stop()

	res, err := rec.Wait(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Wait error = %v, want ErrCancelled", err)
	}
	if res.Reason != ReasonCancelled {
		t.Errorf("Reason = %s, want %s", res.Reason, ReasonCancelled)
	}
	if cues.Load() != 0 {
		t.Error("cue should not play on cancel")
	}
	if mic.Holder() != "" {
		t.Errorf("mic still held by %q", mic.Holder())
	}
}

func TestRecorder_ContextCancel(t *testing.T) {
	mic := scriptedMic(audioio.Speech(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	rec, err := New(mic, fastConfig(), nil).Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	select {
	case <-rec.Done():
	case <-time.After(time.Second):
		t.Fatal("recording did not end after context cancel")
	}
	if _, err := rec.Wait(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Errorf("Wait error = %v, want ErrCancelled", err)
	}
}

func TestRecorder_PermissionDenied(t *testing.T) {
	mic := audioio.NewMic(audioio.DeniedDevice, nil)

	_, err := New(mic, fastConfig(), nil).Start(context.Background())
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("Start error = %v, want ErrNoSession", err)
	}
	if mic.Holder() != "" {
		t.Error("mic held after denial")
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(audioio.NewMic(audioio.DeniedDevice, nil), Config{}, nil)
	cfg := r.Config()
	if cfg.MaxDuration != DefaultMaxDuration {
		t.Errorf("MaxDuration = %v, want %v", cfg.MaxDuration, DefaultMaxDuration)
	}
	if cfg.FrameInterval != DefaultFrameInterval {
		t.Errorf("FrameInterval = %v, want %v", cfg.FrameInterval, DefaultFrameInterval)
	}
	if cfg.SampleRate != DefaultSampleRate {
		t.Errorf("SampleRate = %d, want %d", cfg.SampleRate, DefaultSampleRate)
	}
}
