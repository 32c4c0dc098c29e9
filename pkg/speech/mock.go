package speech

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/voice-waiter/pkg/tts"
)

// MockElement is an in-memory Element for testing.
type MockElement struct {
	// Duration is how long each clip plays. Zero uses the clip's own
	// Duration, falling back to 20ms.
	Duration time.Duration

	// Hold keeps clips playing until Finish or Stop is called.
	Hold bool

	// PlayErr, when set, makes Play fail to start (e.g. decode failure).
	PlayErr error

	// EndErr, when set, is the outcome of clips that end on their own.
	EndErr error

	mu        sync.Mutex
	cur       *mockClip
	played    []*tts.AudioResult
	active    int
	maxActive int
	stops     int
	started   chan *tts.AudioResult
}

type mockClip struct {
	audio *tts.AudioResult
	out   chan error
	timer *time.Timer
	done  bool
}

// NewMockElement creates a mock element; hold keeps clips playing until Finish.
func NewMockElement(hold bool) *MockElement {
	return &MockElement{Hold: hold, started: make(chan *tts.AudioResult, 64)}
}

// Play starts a clip, replacing the current one.
func (m *MockElement) Play(ctx context.Context, audio *tts.AudioResult) (<-chan error, error) {
	if audio == nil || len(audio.Audio) == 0 {
		return nil, ErrNoAudio
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PlayErr != nil {
		return nil, m.PlayErr
	}
	if m.cur != nil {
		m.finishLocked(m.cur, ErrStopped)
	}

	clip := &mockClip{audio: audio, out: make(chan error, 1)}
	m.cur = clip
	m.played = append(m.played, audio)
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}

	if !m.Hold {
		d := m.Duration
		if d == 0 {
			d = audio.Duration
		}
		if d == 0 {
			d = 20 * time.Millisecond
		}
		endErr := m.EndErr
		clip.timer = time.AfterFunc(d, func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.finishLocked(clip, endErr)
		})
	}

	if m.started != nil {
		select {
		case m.started <- audio:
		default:
		}
	}
	return clip.out, nil
}

func (m *MockElement) finishLocked(c *mockClip, err error) {
	if c.done {
		return
	}
	c.done = true
	if c.timer != nil {
		c.timer.Stop()
	}
	if m.cur == c {
		m.cur = nil
	}
	m.active--
	c.out <- err
}

// Stop ends the current clip with ErrStopped.
func (m *MockElement) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	if m.cur != nil {
		m.finishLocked(m.cur, ErrStopped)
	}
}

// Finish ends the current clip naturally.
func (m *MockElement) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil {
		m.finishLocked(m.cur, nil)
	}
}

// Playing reports whether a clip is active.
func (m *MockElement) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur != nil
}

// Current returns the active clip's audio, or nil.
func (m *MockElement) Current() *tts.AudioResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return nil
	}
	return m.cur.audio
}

// Played returns every clip started so far.
func (m *MockElement) Played() []*tts.AudioResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*tts.AudioResult(nil), m.played...)
}

// PlayedTexts returns the Text of every clip started so far.
func (m *MockElement) PlayedTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	texts := make([]string, len(m.played))
	for i, a := range m.played {
		texts[i] = a.Text
	}
	return texts
}

// MaxActive returns the most clips ever active at once.
func (m *MockElement) MaxActive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive
}

// Stops returns how many times Stop was called.
func (m *MockElement) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// Started receives each clip as it starts.
func (m *MockElement) Started() <-chan *tts.AudioResult {
	return m.started
}

// WaitStarted waits for the next clip to start.
func (m *MockElement) WaitStarted(timeout time.Duration) (*tts.AudioResult, bool) {
	select {
	case a := <-m.started:
		return a, true
	case <-time.After(timeout):
		return nil, false
	}
}

var _ Element = (*MockElement)(nil)
