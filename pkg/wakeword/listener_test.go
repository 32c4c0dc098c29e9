package wakeword

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/voice-waiter/internal/log"
	"github.com/teslashibe/voice-waiter/pkg/audioio"
	"github.com/teslashibe/voice-waiter/pkg/backend"
	"github.com/teslashibe/voice-waiter/pkg/conversation"
	"github.com/teslashibe/voice-waiter/pkg/prefs"
)

type fakeMachine struct {
	mu     sync.Mutex
	status conversation.Status
	subs   []func(conversation.Status)
	begins int
}

func newFakeMachine(s conversation.Status) *fakeMachine {
	return &fakeMachine{status: s}
}

func (f *fakeMachine) Status() conversation.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeMachine) Subscribe(fn func(conversation.Status)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
	return func() {}
}

func (f *fakeMachine) Begin() bool {
	f.mu.Lock()
	if f.status != conversation.StatusIdle {
		f.mu.Unlock()
		return false
	}
	f.begins++
	f.mu.Unlock()
	f.set(conversation.StatusListening)
	return true
}

func (f *fakeMachine) Language() string { return "en" }

func (f *fakeMachine) Begins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begins
}

func (f *fakeMachine) set(s conversation.Status) {
	f.mu.Lock()
	f.status = s
	subs := append(([]func(conversation.Status))(nil), f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

type fakeDetector struct {
	hit   atomic.Bool
	calls atomic.Int32
}

func (d *fakeDetector) Detect(ctx context.Context, blob audioio.Blob, lang string) (string, bool, error) {
	d.calls.Add(1)
	if blob.Empty() {
		return "", false, nil
	}
	if d.hit.Load() {
		return "hey waiter", true, nil
	}
	return "", false, nil
}

// talkingMic returns a mic whose every open yields speech then silence,
// and a counter of device opens.
func talkingMic(t *testing.T, grant bool) (*audioio.Mic, *atomic.Int32) {
	t.Helper()
	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendMock
	cfg.BufferDuration = 5 * time.Millisecond

	var opens atomic.Int32
	device := audioio.DeviceFunc(func(context.Context) (audioio.Source, error) {
		opens.Add(1)
		return audioio.NewMockSource(cfg, nil, audioio.WithScript(
			audioio.Speech(150*time.Millisecond), audioio.Silence(time.Hour),
		)), nil
	})
	mic := audioio.NewMic(device, nil, audioio.WithFrameSize(80))

	if grant {
		scope, err := mic.Acquire(context.Background(), "setup")
		if err != nil {
			t.Fatalf("grant mic: %v", err)
		}
		scope.Release()
	}
	return mic, &opens
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Window = 100 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	cfg.RetryDelay = 20 * time.Millisecond
	cfg.Logger = log.Discard()
	return cfg
}

func run(t *testing.T, l *Listener) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestListener_BeginsFromIdle(t *testing.T) {
	machine := newFakeMachine(conversation.StatusIdle)
	mic, _ := talkingMic(t, true)
	det := &fakeDetector{}
	det.hit.Store(true)

	l := New(machine, mic, det, prefs.Memory(true), fastConfig())
	run(t, l)

	waitFor(t, "begin", func() bool { return machine.Begins() == 1 })
	waitFor(t, "mic release", func() bool { return mic.Holder() == "" })
	if l.Detections() != 1 {
		t.Errorf("Detections = %d, want 1", l.Detections())
	}
}

func TestListener_IgnoredWhileResponding(t *testing.T) {
	machine := newFakeMachine(conversation.StatusResponding)
	mic, opens := talkingMic(t, true)
	det := &fakeDetector{}
	det.hit.Store(true)
	before := opens.Load()

	l := New(machine, mic, det, prefs.Memory(true), fastConfig())
	run(t, l)

	time.Sleep(250 * time.Millisecond)
	if n := opens.Load() - before; n != 0 {
		t.Errorf("mic opened %d times while responding", n)
	}
	if det.calls.Load() != 0 || machine.Begins() != 0 {
		t.Errorf("detector calls %d, begins %d; want none", det.calls.Load(), machine.Begins())
	}

	machine.set(conversation.StatusIdle)
	waitFor(t, "begin after idle", func() bool { return machine.Begins() == 1 })
}

func TestListener_YieldsMicWhenStatusLeavesIdle(t *testing.T) {
	machine := newFakeMachine(conversation.StatusIdle)
	mic, _ := talkingMic(t, true)
	det := &fakeDetector{}

	l := New(machine, mic, det, prefs.Memory(true), fastConfig())
	run(t, l)
	waitFor(t, "listening", l.Listening)
	if mic.Holder() != MicOwner {
		t.Fatalf("holder = %q, want %q", mic.Holder(), MicOwner)
	}

	// A manual tap started a turn.
	machine.set(conversation.StatusListening)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	scope, err := mic.Acquire(ctx, "recorder")
	if err != nil {
		t.Fatalf("recorder could not take the mic: %v", err)
	}
	defer scope.Release()
	if l.Listening() {
		t.Error("listener should have stopped")
	}
}

func TestListener_DisabledUntilToggled(t *testing.T) {
	machine := newFakeMachine(conversation.StatusIdle)
	mic, opens := talkingMic(t, true)
	store := prefs.Memory(false)
	before := opens.Load()

	l := New(machine, mic, &fakeDetector{}, store, fastConfig())
	run(t, l)

	time.Sleep(100 * time.Millisecond)
	if opens.Load() != before {
		t.Error("disabled listener opened the mic")
	}

	if err := l.SetEnabled(true); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}
	waitFor(t, "listening", l.Listening)
	if !store.WakeEnabled() {
		t.Error("toggle should be persisted")
	}

	if err := l.SetEnabled(false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}
	waitFor(t, "stop listening", func() bool { return !l.Listening() && mic.Holder() == "" })
}

func TestListener_WaitsForMicGrant(t *testing.T) {
	machine := newFakeMachine(conversation.StatusIdle)
	mic, opens := talkingMic(t, false)

	l := New(machine, mic, &fakeDetector{}, prefs.Memory(true), fastConfig())
	run(t, l)

	time.Sleep(100 * time.Millisecond)
	if opens.Load() != 0 {
		t.Error("listener must not be the first to open an ungranted mic")
	}
}

func TestRecognizer_Detect(t *testing.T) {
	api := backend.NewMock("Hey, waiter! Can I order?", "")
	r := NewRecognizer(api, nil)

	phrase, ok, err := r.Detect(context.Background(), audioio.Blob{Data: []byte{1}}, "en-US")
	if err != nil || !ok || phrase != "hey waiter" {
		t.Errorf("Detect = %q, %v, %v", phrase, ok, err)
	}
	if api.CallCount("Transcribe") != 1 {
		t.Error("expected one transcription")
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		text   string
		want   string
		wantOK bool
	}{
		{"hey waiter", "hey waiter", true},
		{"HEY WAITER, a menu please", "hey waiter", true},
		{"ok... waiter?", "ok waiter", true},
		{"they waiter", "", false},
		{"hey waitress", "", false},
		{"", "", false},
	}
	phrases := PhrasesFor("en")
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := Match(tt.text, phrases)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Match(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestPhrasesFor(t *testing.T) {
	if PhrasesFor("es-ES")[0] != DefaultPhrases["es"][0] {
		t.Error("es-ES should use the Spanish grammar")
	}
	if PhrasesFor("ja")[0] != DefaultPhrases["en"][0] {
		t.Error("unknown languages fall back to English")
	}
}
