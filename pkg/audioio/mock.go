package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Segment is one stretch of scripted mock audio.
type Segment struct {
	// Amplitude of the 440Hz tone, 0.0 to 1.0. Zero is silence.
	Amplitude float64
	// Duration of the segment.
	Duration time.Duration
}

// Speech returns a segment loud enough to register as speech.
func Speech(d time.Duration) Segment { return Segment{Amplitude: 0.3, Duration: d} }

// Silence returns a silent segment.
func Silence(d time.Duration) Segment { return Segment{Duration: d} }

// MockSource is a mock audio source for testing.
// It generates synthetic audio: silence, a sine wave, or a script of segments.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk
	stopCh   chan struct{}

	// Stats
	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64

	// Synthetic audio generation
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
	script    []Segment
	generated int // frames emitted since start
	realtime  bool
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithScript plays the segments in order, then holds the last one.
func WithScript(segments ...Segment) MockSourceOption {
	return func(m *MockSource) {
		m.script = segments
		if m.frequency == 0 {
			m.frequency = 440
		}
	}
}

// WithBurst emits chunks as fast as the consumer takes them instead of
// pacing them at BufferDuration.
func WithBurst() MockSourceOption {
	return func(m *MockSource) { m.realtime = false }
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		streamCh:  make(chan AudioChunk, 10),
		stopCh:    make(chan struct{}),
		frequency: 0, // Silence by default
		amplitude: 0.5,
		realtime:  true,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.generated = 0
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan AudioChunk, 10)

	go m.generateLoop(ctx, m.stopCh, m.streamCh)

	m.logger.Debug("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
		"segments", len(m.script),
	)

	return nil
}

func (m *MockSource) generateLoop(ctx context.Context, stopCh <-chan struct{}, streamCh chan<- AudioChunk) {
	defer close(streamCh)

	var tick <-chan time.Time
	if m.realtime {
		ticker := time.NewTicker(m.cfg.BufferDuration)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				m.markStopped()
				return
			case <-stopCh:
				return
			case <-tick:
			}
		}

		chunk := m.generateChunk()
		if m.realtime {
			select {
			case streamCh <- chunk:
				m.chunksRead.Add(1)
				m.samplesRead.Add(int64(len(chunk.Samples)))
			default:
				// Buffer full, drop chunk (overrun)
				m.overruns.Add(1)
			}
			continue
		}

		select {
		case <-ctx.Done():
			m.markStopped()
			return
		case <-stopCh:
			return
		case streamCh <- chunk:
			m.chunksRead.Add(1)
			m.samplesRead.Add(int64(len(chunk.Samples)))
		}
	}
}

// amplitudeAt returns the scripted amplitude for the given frame offset.
func (m *MockSource) amplitudeAt(frame int) float64 {
	if len(m.script) == 0 {
		return m.amplitude
	}
	at := time.Duration(float64(frame) / float64(m.cfg.SampleRate) * float64(time.Second))
	for _, seg := range m.script {
		if at < seg.Duration {
			return seg.Amplitude
		}
		at -= seg.Duration
	}
	return m.script[len(m.script)-1].Amplitude
}

func (m *MockSource) generateChunk() AudioChunk {
	bufferSize := m.cfg.BufferSize()
	samples := make([]int16, bufferSize*m.cfg.Channels)

	amp := m.amplitudeAt(m.generated)
	if m.frequency > 0 && amp > 0 {
		for i := 0; i < bufferSize; i++ {
			sample := amp * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate))
			sampleInt := int16(sample * 32767)

			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = sampleInt
			}

			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}
	m.generated += bufferSize

	return AudioChunk{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Channels:   m.cfg.Channels,
	}
}

func (m *MockSource) markStopped() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// Stop halts audio generation. The stream channel closes once the
// generator has exited.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false
	close(m.stopCh)

	m.logger.Debug("mock audio source stopped")

	return nil
}

// Read reads the next audio chunk.
func (m *MockSource) Read(ctx context.Context) (AudioChunk, error) {
	m.mu.Lock()
	ch := m.streamCh
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (m *MockSource) Stream() <-chan AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCh
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		ChunksRead:  m.chunksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    m.overruns.Load(),
		Running:     running,
		Backend:     "mock",
	}
}

// Ensure MockSource implements SourceWithStats.
var _ SourceWithStats = (*MockSource)(nil)
