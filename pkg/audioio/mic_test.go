package audioio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func mockDevice(opts ...MockSourceOption) Device {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock
	cfg.BufferDuration = 5 * time.Millisecond
	return DeviceFunc(func(context.Context) (Source, error) {
		return NewMockSource(cfg, nil, opts...), nil
	})
}

func TestMic_AcquireRelease(t *testing.T) {
	mic := NewMic(mockDevice(), nil)

	scope, err := mic.Acquire(context.Background(), "recorder")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if mic.Holder() != "recorder" {
		t.Errorf("Holder = %q, want recorder", mic.Holder())
	}
	if !mic.Granted() {
		t.Error("Granted should be true after a successful acquire")
	}

	scope.Release()
	scope.Release() // idempotent

	if mic.Holder() != "" {
		t.Errorf("Holder after release = %q, want empty", mic.Holder())
	}
	select {
	case <-scope.Ended():
	default:
		t.Error("Ended should be closed after Release")
	}
}

func TestMic_SingleHolder(t *testing.T) {
	mic := NewMic(mockDevice(), nil)

	first, err := mic.Acquire(context.Background(), "wakeword")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, err := mic.TryAcquire(context.Background(), "recorder"); !errors.Is(err, ErrMicBusy) {
		t.Fatalf("TryAcquire while held = %v, want ErrMicBusy", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := mic.Acquire(ctx, "recorder"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire while held = %v, want deadline exceeded", err)
	}

	got := make(chan *Scope, 1)
	go func() {
		s, err := mic.Acquire(context.Background(), "recorder")
		if err != nil {
			t.Errorf("waiting Acquire failed: %v", err)
		}
		got <- s
	}()

	time.Sleep(10 * time.Millisecond)
	first.Release()

	select {
	case s := <-got:
		if s.Owner() != "recorder" {
			t.Errorf("Owner = %q, want recorder", s.Owner())
		}
		s.Release()
	case <-time.After(time.Second):
		t.Fatal("waiting Acquire never got the mic")
	}
}

func TestMic_PermissionDenied(t *testing.T) {
	mic := NewMic(DeniedDevice, nil)

	if _, err := mic.Acquire(context.Background(), "recorder"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Acquire = %v, want ErrPermissionDenied", err)
	}
	if mic.Granted() {
		t.Error("Granted should stay false after denial")
	}

	// A failed open must not leak the hold.
	if _, err := mic.TryAcquire(context.Background(), "again"); errors.Is(err, ErrMicBusy) {
		t.Error("mic still held after failed open")
	}
}

type grantLog struct {
	mu      sync.Mutex
	granted bool
}

func (g *grantLog) MicGranted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.granted
}

func (g *grantLog) SetMicGranted(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.granted = v
}

func TestMic_RecordsGrantInStore(t *testing.T) {
	store := &grantLog{}
	var opens atomic.Int32
	ok := mockDevice()
	device := DeviceFunc(func(ctx context.Context) (Source, error) {
		if opens.Add(1) == 1 {
			return ok.Open(ctx)
		}
		return DeniedDevice.Open(ctx)
	})
	mic := NewMic(device, nil, WithGrants(store))

	scope, err := mic.Acquire(context.Background(), "recorder")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	scope.Release()
	if !store.MicGranted() || !mic.Granted() {
		t.Fatal("a successful open should be recorded as granted")
	}

	if _, err := mic.Acquire(context.Background(), "recorder"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Acquire = %v, want ErrPermissionDenied", err)
	}
	if store.MicGranted() || mic.Granted() {
		t.Error("a denial should revoke the grant")
	}
}

func TestScope_BuffersAndAnalyses(t *testing.T) {
	mic := NewMic(mockDevice(WithSineWave(440, 0.5)), nil)
	scope, err := mic.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer scope.Release()

	deadline := time.Now().Add(time.Second)
	for len(scope.PCM()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(scope.PCM()) == 0 {
		t.Fatal("no audio buffered")
	}

	frame := scope.Analyser().Frame()
	var dev int
	for _, b := range frame {
		d := int(b) - 128
		if d < 0 {
			d = -d
		}
		dev += d
	}
	if dev/len(frame) < 10 {
		t.Errorf("mean deviation %d too low for a 0.5 sine", dev/len(frame))
	}

	drained := scope.Drain()
	if len(drained) == 0 {
		t.Error("Drain returned nothing")
	}
	rate, channels := scope.Format()
	if rate != 16000 || channels != 1 {
		t.Errorf("Format = %d/%d, want 16000/1", rate, channels)
	}
}

func TestAnalyser_FlatBeforeAudio(t *testing.T) {
	a := NewAnalyser(16)
	for i, b := range a.Frame() {
		if b != 128 {
			t.Fatalf("frame[%d] = %d, want 128", i, b)
		}
	}
}

func TestAnalyser_KeepsLatestWindow(t *testing.T) {
	a := NewAnalyser(4)
	a.Write(AudioChunk{Samples: []int16{0, 0, 0, 0}, SampleRate: 16000, Channels: 1})
	a.Write(AudioChunk{Samples: []int16{256, 256}, SampleRate: 16000, Channels: 1})

	frame := a.Frame()
	want := []byte{128, 128, 129, 129}
	if len(frame) != len(want) {
		t.Fatalf("len = %d, want %d", len(frame), len(want))
	}
	for i := range want {
		if frame[i] != want[i] {
			t.Errorf("frame[%d] = %d, want %d", i, frame[i], want[i])
		}
	}
	if a.Updated().IsZero() {
		t.Error("Updated should be set after Write")
	}
}
